// Package memory is a process-local implementation of every repository
// port. It backs the CLI's dry runs and the end-to-end tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

type domainKey struct {
	table, tenantID, id string
}

type ledgerKey struct {
	tenantID, key string
}

type Store struct {
	mu sync.RWMutex

	batches  map[string]domain.ImportBatch
	items    map[string]domain.ImportItem
	byIndex  map[string]map[int]string
	ledger   map[ledgerKey]domain.PromotionRecord
	rows     map[domainKey]*domain.CanonicalDocument
	feedback []domain.FeedbackEntry
	metrics  []domain.QualityMetric
	events   []domain.AuditEvent
	seq      int64
}

func NewStore() *Store {
	return &Store{
		batches: make(map[string]domain.ImportBatch),
		items:   make(map[string]domain.ImportItem),
		byIndex: make(map[string]map[int]string),
		ledger:  make(map[ledgerKey]domain.PromotionRecord),
		rows:    make(map[domainKey]*domain.CanonicalDocument),
	}
}

func notFound(what, id string) error {
	return domain.WrapError(domain.ErrNotFound, "memory store", fmt.Errorf("%s %s", what, id))
}

// Batches.

func (s *Store) CreateBatch(_ context.Context, batch *domain.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[batch.ID]; exists {
		return domain.WrapError(domain.ErrConflict, "memory store", fmt.Errorf("batch %s exists", batch.ID))
	}
	s.batches[batch.ID] = *batch
	return nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*domain.ImportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, notFound("batch", id)
	}
	return &b, nil
}

func (s *Store) updateBatch(id string, fn func(*domain.ImportBatch)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return notFound("batch", id)
	}
	fn(&b)
	b.UpdatedAt = time.Now().UTC()
	s.batches[id] = b
	return nil
}

func (s *Store) UpdateBatchStatus(_ context.Context, id string, status domain.BatchStatus, errMessage string) error {
	return s.updateBatch(id, func(b *domain.ImportBatch) {
		b.Status = status
		b.ErrorMessage = errMessage
	})
}

func (s *Store) UpdateBatchParser(_ context.Context, id, parserID string, docType domain.DocType) error {
	return s.updateBatch(id, func(b *domain.ImportBatch) {
		b.ParserID = parserID
		b.DocType = docType
		b.RequiresConfirmation = false
	})
}

func (s *Store) UpdateBatchItemCount(_ context.Context, id string, itemCount int) error {
	return s.updateBatch(id, func(b *domain.ImportBatch) {
		b.ItemCount = itemCount
	})
}

// Items.

func cloneItem(item domain.ImportItem) domain.ImportItem {
	item.CanonicalDoc = item.CanonicalDoc.Clone()
	item.Errors = append([]domain.ImportError(nil), item.Errors...)
	return item
}

func (s *Store) InsertItems(_ context.Context, items []domain.ImportItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		idx := s.byIndex[item.BatchID]
		if idx == nil {
			idx = make(map[int]string)
			s.byIndex[item.BatchID] = idx
		}
		if _, exists := idx[item.Index]; exists {
			continue
		}
		idx[item.Index] = item.ID
		s.items[item.ID] = cloneItem(item)
	}
	return nil
}

func (s *Store) CountItems(_ context.Context, batchID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byIndex[batchID]), nil
}

func (s *Store) CountItemsByStatus(_ context.Context, batchID string) (domain.ItemCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counts domain.ItemCounts
	for _, id := range s.byIndex[batchID] {
		counts.Total++
		switch s.items[id].Status {
		case domain.ItemOK:
			counts.OK++
		case domain.ItemErrorValidation:
			counts.Failed++
		case domain.ItemPromoted:
			counts.Promoted++
		case domain.ItemSkipped:
			counts.Skipped++
		}
	}
	return counts, nil
}

// ListItems returns items ordered by index with index > AfterIndex.
func (s *Store) ListItems(_ context.Context, filter ports.ItemFilter) ([]domain.ImportItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	indexes := make([]int, 0, len(s.byIndex[filter.BatchID]))
	for idx := range s.byIndex[filter.BatchID] {
		if idx > filter.AfterIndex {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)
	out := make([]domain.ImportItem, 0)
	for _, idx := range indexes {
		item := s.items[s.byIndex[filter.BatchID][idx]]
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		out = append(out, cloneItem(item))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.ImportItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, notFound("item", id)
	}
	c := cloneItem(item)
	return &c, nil
}

// UpdateItem refuses to touch promoted items.
func (s *Store) UpdateItem(_ context.Context, item *domain.ImportItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[item.ID]
	if !ok {
		return notFound("item", item.ID)
	}
	if current.Status == domain.ItemPromoted {
		return domain.WrapError(domain.ErrConflict, "memory store", fmt.Errorf("item %s is promoted", item.ID))
	}
	s.items[item.ID] = cloneItem(*item)
	return nil
}

func (s *Store) MarkItemPromoted(_ context.Context, id, target, domainID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return notFound("item", id)
	}
	item.Status = domain.ItemPromoted
	item.PromotedTarget = target
	item.PromotedID = domainID
	item.PromotedAt = &at
	item.UpdatedAt = at
	s.items[id] = item
	return nil
}

// Ledger.

func (s *Store) FindByIdempotencyKey(_ context.Context, tenantID, key string) (*domain.PromotionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.ledger[ledgerKey{tenantID, key}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) FindByDedupeHash(_ context.Context, tenantID, hash string) (*domain.PromotionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.PromotionRecord
	for k, rec := range s.ledger {
		if k.tenantID != tenantID || rec.DedupeHash != hash {
			continue
		}
		if found == nil || rec.CreatedAt.Before(found.CreatedAt) {
			r := rec
			found = &r
		}
	}
	return found, nil
}

func (s *Store) Claim(_ context.Context, rec domain.PromotionRecord) (*domain.PromotionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ledgerKey{rec.TenantID, rec.IdempotencyKey}
	if existing, ok := s.ledger[k]; ok {
		return &existing, false, nil
	}
	s.ledger[k] = rec
	return &rec, true, nil
}

// Domain tables.

func (s *Store) Upsert(_ context.Context, table, tenantID, domainID string, doc *domain.CanonicalDocument) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := domainKey{table, tenantID, domainID}
	if _, exists := s.rows[k]; exists {
		return false, nil
	}
	s.rows[k] = doc.Clone()
	return true, nil
}

// DomainRow returns a promoted document, for inspection.
func (s *Store) DomainRow(table, tenantID, domainID string) (*domain.CanonicalDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rows[domainKey{table, tenantID, domainID}]
	return doc.Clone(), ok
}

// DomainRowCount counts rows of a table across tenants.
func (s *Store) DomainRowCount(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.rows {
		if k.table == table {
			n++
		}
	}
	return n
}

// Feedback.

func (s *Store) AppendFeedback(_ context.Context, entry *domain.FeedbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, *entry)
	return nil
}

// ListFeedback returns newest entries first, like the SQL implementation.
func (s *Store) ListFeedback(_ context.Context, filter ports.FeedbackFilter) ([]domain.FeedbackEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.FeedbackEntry, 0)
	for i := len(s.feedback) - 1; i >= 0; i-- {
		e := s.feedback[i]
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if filter.CorrectedOnly && !e.WasCorrected() {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Quality metrics.

func (s *Store) RecordMetrics(_ context.Context, metrics []domain.QualityMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, metrics...)
	return nil
}

func (s *Store) ListMetrics(_ context.Context, filter ports.QualityFilter) ([]domain.QualityMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.QualityMetric, 0)
	for _, m := range s.metrics {
		if filter.TenantID != "" && m.TenantID != filter.TenantID {
			continue
		}
		if filter.DocType != "" && m.DocType != filter.DocType {
			continue
		}
		if !filter.Since.IsZero() && m.RecordedAt.Before(filter.Since) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Audit.

func (s *Store) AppendEvents(_ context.Context, events []domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.seq++
		e.Seq = s.seq
		s.events = append(s.events, e)
	}
	return nil
}

func (s *Store) ListEvents(_ context.Context, filter ports.AuditFilter) ([]domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make(map[domain.AuditEventType]bool, len(filter.Types))
	for _, t := range filter.Types {
		types[t] = true
	}
	out := make([]domain.AuditEvent, 0)
	for _, e := range s.events {
		if filter.BatchID != "" && e.BatchID != filter.BatchID {
			continue
		}
		if filter.ItemID != "" && e.ItemID != filter.ItemID {
			continue
		}
		if len(types) > 0 && !types[e.Type] {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
