package domain

import (
	"fmt"
	"time"
)

type BatchStatus string

const (
	BatchPending BatchStatus = "PENDING"
	BatchParsing BatchStatus = "PARSING"
	BatchReady   BatchStatus = "READY"
	BatchPartial BatchStatus = "PARTIAL"
	BatchError   BatchStatus = "ERROR"
)

// Terminal reports whether an import run has finished for the batch.
// ERROR is not terminal: a failed batch may be resumed from its last offset.
func (s BatchStatus) Terminal() bool {
	return s == BatchReady || s == BatchPartial
}

type ItemStatus string

const (
	ItemOK              ItemStatus = "OK"
	ItemErrorValidation ItemStatus = "ERROR_VALIDATION"
	ItemPromoted        ItemStatus = "PROMOTED"
	ItemSkipped         ItemStatus = "SKIPPED"
)

type ImportBatch struct {
	ID                   string      `json:"id"`
	TenantID             string      `json:"tenant_id"`
	SourceType           string      `json:"source_type"`
	Origin               string      `json:"origin,omitempty"`
	Filename             string      `json:"filename"`
	ContentType          string      `json:"content_type,omitempty"`
	FileKey              string      `json:"file_key"`
	ParserID             string      `json:"parser_id,omitempty"`
	DocType              DocType     `json:"doc_type,omitempty"`
	Confidence           float64     `json:"confidence"`
	RequiresConfirmation bool        `json:"requires_confirmation"`
	Status               BatchStatus `json:"status"`
	ErrorMessage         string      `json:"error_message,omitempty"`
	ItemCount            int         `json:"item_count"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

type ImportItem struct {
	ID             string             `json:"id"`
	BatchID        string             `json:"batch_id"`
	TenantID       string             `json:"tenant_id"`
	Index          int                `json:"index"`
	Raw            map[string]any     `json:"raw"`
	Normalized     map[string]any     `json:"normalized,omitempty"`
	CanonicalDoc   *CanonicalDocument `json:"canonical_doc,omitempty"`
	IdempotencyKey string             `json:"idempotency_key"`
	DedupeHash     string             `json:"dedupe_hash,omitempty"`
	Status         ItemStatus         `json:"status"`
	Errors         []ImportError      `json:"errors,omitempty"`
	PromotedTarget string             `json:"promoted_target,omitempty"`
	PromotedID     string             `json:"promoted_id,omitempty"`
	PromotedAt     *time.Time         `json:"promoted_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// IdempotencyKey builds the (tenant, file, row) key that guards promotion.
func IdempotencyKey(tenantID, fileKey string, index int) string {
	return fmt.Sprintf("%s:%s:%d", tenantID, fileKey, index)
}

// ImportProgress is reported after each committed buffer and at the end of a run.
type ImportProgress struct {
	BatchID   string      `json:"batch_id"`
	Processed int         `json:"processed"`
	Created   int         `json:"created"`
	Validated int         `json:"validated"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Resumed   int         `json:"resumed_from"`
	Status    BatchStatus `json:"status"`
}

// ItemCounts aggregates persisted items of a batch by status.
type ItemCounts struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Failed   int `json:"failed"`
	Promoted int `json:"promoted"`
	Skipped  int `json:"skipped"`
}

func (c ItemCounts) Validated() int {
	return c.OK + c.Promoted
}

type PromoteResult struct {
	DomainID string `json:"domain_id,omitempty"`
	Target   string `json:"target"`
	Skipped  bool   `json:"skipped"`
}

type PromoteSummary struct {
	BatchID  string         `json:"batch_id"`
	Promoted int            `json:"promoted"`
	Skipped  int            `json:"skipped"`
	Unmapped int            `json:"unmapped"`
	Failed   int            `json:"failed"`
	ByTarget map[string]int `json:"by_target"`
}

// BatchReport is the operator-facing view of a batch: counts plus every failed item.
type BatchReport struct {
	Batch       ImportBatch  `json:"batch"`
	Counts      ItemCounts   `json:"counts"`
	FailedItems []ImportItem `json:"failed_items"`
}

// PromotionRecord is the ledger row that makes promotion exactly-once per key.
type PromotionRecord struct {
	TenantID       string    `json:"tenant_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	DedupeHash     string    `json:"dedupe_hash,omitempty"`
	ItemID         string    `json:"item_id,omitempty"`
	Target         string    `json:"target"`
	DomainID       string    `json:"domain_id"`
	CreatedAt      time.Time `json:"created_at"`
}
