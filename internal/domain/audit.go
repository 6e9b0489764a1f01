package domain

import "time"

// ChangeType classifies an audit record.
type ChangeType string

const (
	ChangeTypeInsert      ChangeType = "insert"
	ChangeTypeFieldUpdate ChangeType = "field_update"
	ChangeTypeBulkUpdate  ChangeType = "bulk_update"
	ChangeTypeRevert      ChangeType = "revert"
	ChangeTypeDelete      ChangeType = "delete"
)

// Valid reports whether t is one of the known change types.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeTypeInsert, ChangeTypeFieldUpdate, ChangeTypeBulkUpdate, ChangeTypeRevert, ChangeTypeDelete:
		return true
	}
	return false
}

// AuditRecord is one immutable field-level change entry. The table is
// entity-kind-agnostic; ownership is expressed by exactly one row in
// exactly one per-kind link table.
type AuditRecord struct {
	AuditID      int64      `json:"audit_id"`
	FieldName    string     `json:"field_name"`
	OldValue     *string    `json:"old_value"`
	NewValue     *string    `json:"new_value"`
	ChangeType   ChangeType `json:"change_type"`
	ChangeReason *string    `json:"change_reason,omitempty"`
	UserID       string     `json:"user_id"`
	ClientInfo   *string    `json:"client_info,omitempty"`
	ChangedAt    time.Time  `json:"changed_at"`
	// Entity is filled in when the owning variant is known from the
	// query path (history, feed, resolved reverts).
	Entity *EntityRef `json:"entity,omitempty"`
}

// FieldChange is one staged diff inside a mutation: the tracked field
// plus its canonical old and new values.
type FieldChange struct {
	Field    string  `json:"field"`
	OldValue *string `json:"old_value"`
	NewValue *string `json:"new_value"`
}
