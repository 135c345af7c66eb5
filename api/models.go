package api

// ErrorResponse is the JSON body of every non-redirect error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	// OAuthStart reports whether GET /api/auth/google is configured.
	OAuthStart bool `json:"oauth_start"`
}
