package auth

// ScopeAdmin grants access to the /v1 operator API.
const ScopeAdmin = "admin"
