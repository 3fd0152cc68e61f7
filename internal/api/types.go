// ABOUTME: Request and response types for the keyring HTTP API
// ABOUTME: JSON field names follow the web client's camelCase convention

package api

// Provider status values reported by GET /api/me.
const (
	StatusConfigured    = "configured"
	StatusNotConfigured = "not_configured"
	StatusUnavailable   = "unavailable"
)

// ProviderStatus describes one provider's credential without revealing it.
type ProviderStatus struct {
	Provider  string `json:"provider"`
	Status    string `json:"status"`
	MaskedKey string `json:"maskedKey,omitempty"`
}

// ProfileResponse is returned by GET /api/me.
type ProfileResponse struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Email             string           `json:"email"`
	PreferredProvider string           `json:"preferredProvider"`
	CreatedAt         string           `json:"createdAt"`
	Providers         []ProviderStatus `json:"providers"`
}

// SetCredentialRequest is the body of PUT /api/credentials/{provider}.
type SetCredentialRequest struct {
	APIKey string `json:"apiKey"`
}

// PreferencesRequest is the body of PUT /api/preferences.
type PreferencesRequest struct {
	PreferredProvider string `json:"preferredProvider"`
}

// PreferencesResponse is returned by PUT /api/preferences.
type PreferencesResponse struct {
	PreferredProvider string `json:"preferredProvider"`
}

// ChangePasswordRequest is the body of PUT /api/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// AuditEntryResponse is one item of GET /api/audit.
type AuditEntryResponse struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Timestamp string         `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}
