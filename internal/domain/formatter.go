package domain

import (
	"fmt"
	"math"
	"strings"
)

// ActivityLinkBase is the public page prefix for a provider activity.
const ActivityLinkBase = "https://www.strava.com/activities/"

// MessageKind selects one of the two notification layouts.
type MessageKind int

const (
	// DistanceBased activities report distance, pace and elevation.
	DistanceBased MessageKind = iota
	// DurationBased activities report duration, calories and description.
	DurationBased
)

var durationBasedCategories = map[string]struct{}{
	"WeightTraining": {},
	"Workout":        {},
	"Crossfit":       {},
	"Yoga":           {},
}

// KindOf maps a provider activity category onto a message layout.
func KindOf(category string) MessageKind {
	if _, ok := durationBasedCategories[strings.TrimSpace(category)]; ok {
		return DurationBased
	}
	return DistanceBased
}

// FormatDuration renders seconds as zero-padded HH:MM:SS.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hrs := seconds / 3600
	mins := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hrs, mins, secs)
}

// FormatPace renders minutes:seconds per kilometre, or "N/A" when there is no distance.
func FormatPace(movingTimeSeconds int64, distanceMeters float64) string {
	if !finite(distanceMeters) || distanceMeters <= 0 || movingTimeSeconds < 0 {
		return "N/A"
	}
	pace := float64(movingTimeSeconds) / (distanceMeters / 1000)
	mins := int64(math.Floor(pace / 60))
	secs := int64(math.Floor(math.Mod(pace, 60)))
	return fmt.Sprintf("%d:%02d", mins, secs)
}

// FormatActivity builds the Markdown notification for a finished activity.
func FormatActivity(detail ActivityDetail, displayName string) string {
	who := escapeMarkdown(displayName)
	title := fmt.Sprintf("%s - %s", escapeMarkdown(detail.Category), escapeMarkdown(detail.Name))
	link := fmt.Sprintf("[Open in Strava](%s%d)", ActivityLinkBase, detail.ID)
	duration := FormatDuration(detail.MovingTimeSeconds)

	var b strings.Builder
	switch KindOf(detail.Category) {
	case DurationBased:
		calories := "unknown"
		if detail.Calories != nil && finite(*detail.Calories) && *detail.Calories > 0 {
			calories = fmt.Sprintf("%.2f kcal", *detail.Calories)
		}
		description := strings.TrimSpace(detail.Description)
		if description == "" {
			description = "No description"
		}
		fmt.Fprintf(&b, "💪 *%s* finished a training session!\n\n", who)
		fmt.Fprintf(&b, "*Activity*: %s\n", title)
		fmt.Fprintf(&b, "*Duration*: %s\n", duration)
		fmt.Fprintf(&b, "*Calories burned*: %s\n", calories)
		fmt.Fprintf(&b, "*Description*: %s\n\n", escapeMarkdown(description))
	default:
		distance := "0.00"
		if finite(detail.DistanceMeters) && detail.DistanceMeters > 0 {
			distance = fmt.Sprintf("%.2f", detail.DistanceMeters/1000)
		}
		elevation := "0"
		if detail.ElevationGainMeters != nil && finite(*detail.ElevationGainMeters) && *detail.ElevationGainMeters > 0 {
			elevation = fmt.Sprintf("%.2f", *detail.ElevationGainMeters)
		}
		fmt.Fprintf(&b, "🚴🏃🏊 *%s* is back from a workout:\n\n", who)
		fmt.Fprintf(&b, "*Activity*: %s\n", title)
		fmt.Fprintf(&b, "*Distance*: %s km\n", distance)
		fmt.Fprintf(&b, "*Time*: %s\n", duration)
		fmt.Fprintf(&b, "*Pace*: %s min/km 🔥\n", FormatPace(detail.MovingTimeSeconds, detail.DistanceMeters))
		fmt.Fprintf(&b, "*Elevation gain*: %s m\n\n", elevation)
	}
	b.WriteString(link)
	return b.String()
}

// FormatConnected is sent once an athlete finishes authorization.
func FormatConnected(athlete Athlete) string {
	return fmt.Sprintf("🎉 %s connected Strava!", escapeMarkdown(athlete.FullName()))
}

// FormatReauthPrompt asks the owner to authorize again after a refresh failure. The URL travels
// inside an inline link so its query parameters are not read as Markdown.
func FormatReauthPrompt(displayName, authorizeURL string) string {
	return fmt.Sprintf("⚠️ %s, Strava access has expired. [Authorize again](%s) to keep receiving activities.",
		escapeMarkdown(displayName), authorizeURL)
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(value string) string {
	return markdownEscaper.Replace(value)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
