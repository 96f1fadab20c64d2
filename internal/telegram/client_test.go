package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activityrelay/internal/domain"
)

func TestSendPostsMarkdownMessage(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "TOKEN", time.Second)
	require.NoError(t, client.Send(context.Background(), "-1001", "*hello*"))
	require.Equal(t, "-1001", got.ChatID)
	require.Equal(t, "*hello*", got.Text)
	require.Equal(t, "Markdown", got.ParseMode)
}

func TestSendReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "TOKEN", time.Second)
	err := client.Send(context.Background(), "nope", "hi")
	require.ErrorIs(t, err, domain.ErrTransport)

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	require.Equal(t, http.StatusBadRequest, sendErr.Status)
	require.Contains(t, sendErr.Description, "chat not found")
}

func TestSendTransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client := NewClient(srv.URL, "SECRET-TOKEN", time.Second)
	err := client.Send(context.Background(), "-1001", "hi")
	require.ErrorIs(t, err, domain.ErrTransport)
	require.NotContains(t, err.Error(), "SECRET-TOKEN")
}
