// Package api serves the authenticated keyring HTTP surface.
//
// Routes:
//
//	GET    /health                       liveness, no auth
//	GET    /api/me                       profile and per-provider credential status
//	PUT    /api/credentials/{provider}   {"apiKey": "..."}
//	DELETE /api/credentials/{provider}
//	PUT    /api/preferences              {"preferredProvider": "..."}
//	PUT    /api/password                 {"currentPassword": "...", "newPassword": "..."}
//	GET    /api/audit?limit=N            the caller's own audit history
//
// Every /api route is wrapped by auth.Gate. Credentials are never returned in
// plaintext; GET /api/me decrypts them only to build a masked preview.
//
// Successful changes append a store.AuditEntry naming the provider at most.
// When a throttle.Limiter is attached, repeated wrong current passwords on
// PUT /api/password lock that user's password changes with 429 until the
// window passes.
package api
