package domain

import "time"

type AuditEventType string

const (
	EventImportStarted  AuditEventType = "IMPORT_STARTED"
	EventFileAnalyzed   AuditEventType = "FILE_ANALYZED"
	EventBatchParsing   AuditEventType = "BATCH_PARSING"
	EventItemValidated  AuditEventType = "ITEM_VALIDATED"
	EventItemCorrected  AuditEventType = "ITEM_CORRECTED"
	EventItemPromoted   AuditEventType = "ITEM_PROMOTED"
	EventItemSkipped    AuditEventType = "ITEM_SKIPPED"
	EventBatchCompleted AuditEventType = "BATCH_COMPLETED"
	EventBatchFailed    AuditEventType = "BATCH_FAILED"
)

type AuditEvent struct {
	ID         string         `json:"id"`
	Seq        int64          `json:"seq,omitempty"`
	TenantID   string         `json:"tenant_id"`
	BatchID    string         `json:"batch_id"`
	ItemID     string         `json:"item_id,omitempty"`
	Type       AuditEventType `json:"type"`
	Actor      string         `json:"actor,omitempty"`
	Field      string         `json:"field,omitempty"`
	OldValue   any            `json:"old_value,omitempty"`
	NewValue   any            `json:"new_value,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Correction is one entry of an item's correction history.
type Correction struct {
	ItemID     string    `json:"item_id"`
	Field      string    `json:"field"`
	OldValue   any       `json:"old_value"`
	NewValue   any       `json:"new_value"`
	Actor      string    `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
