package domain

import "strings"

// CallerContext identifies the authenticated caller of a mutating
// operation. Authentication happens upstream; the engine only stamps
// audit records with what it is handed.
type CallerContext struct {
	// UserID is the resolved caller identity. Required on every
	// mutating call.
	UserID string `json:"user_id"`
	// ClientInfo is optional network/client metadata (remote address,
	// user agent, ingest batch id) stored verbatim on audit records.
	ClientInfo string `json:"client_info,omitempty"`
}

// Valid reports whether the context carries a usable identity.
func (c CallerContext) Valid() bool {
	return strings.TrimSpace(c.UserID) != ""
}

// ClientInfoPtr returns ClientInfo as a nullable column value.
func (c CallerContext) ClientInfoPtr() *string {
	trimmed := strings.TrimSpace(c.ClientInfo)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
