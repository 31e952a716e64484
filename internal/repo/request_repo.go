// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// MaterialRequest aggregate and its state machine.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and the conditional-update primitives the claim protocol is
// built on.
//
// State-machine semantics:
//
//   - ClaimForSending / ReleaseClaim / CancelDraft / MarkSent / MarkFailed
//     are single conditional UPDATEs (guard = expected prior status, plus the
//     owner for claim and cancel). They report whether the transition was
//     taken via the affected-rows count; they never read-then-write. This is
//     what makes two concurrent confirmations produce exactly one winner.
//
// Error semantics:
//   - When a request is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ptoflow/materials-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service layer
// and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// NewRequest carries the fields needed to persist a fresh draft.
type NewRequest struct {
	DraftID        string
	Scope          domain.Scope
	RequesterID    string
	RequesterName  string
	ObjectID       *string
	PSLabel        string
	RequestDate    time.Time
	RecipientEmail string
	Items          []domain.MaterialItem
}

// CreateRequest inserts a MaterialRequest with status=draft, counter=0 and a
// NULL request number, together with its line items, in one transaction.
// Items receive fresh UUIDs; their LineNo values are stored as given.
//
// The draft_id unique index is the collision check for the random token: a
// duplicate insert fails the whole transaction.
func CreateRequest(ctx context.Context, db *gorm.DB, nr NewRequest) (*domain.MaterialRequest, error) {
	now := time.Now().UTC()
	req := &domain.MaterialRequest{
		ID:             uuid.NewString(),
		DraftID:        nr.DraftID,
		ScopeKind:      nr.Scope.Kind,
		ScopeID:        nr.Scope.ID,
		RequesterID:    nr.RequesterID,
		RequesterName:  nr.RequesterName,
		ObjectID:       nr.ObjectID,
		PSLabel:        nr.PSLabel,
		RequestDate:    nr.RequestDate,
		Counter:        0,
		RecipientEmail: nr.RecipientEmail,
		Status:         domain.StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		for i := range nr.Items {
			item := nr.Items[i]
			item.ID = uuid.NewString()
			item.RequestID = req.ID
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
			req.Items = append(req.Items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// GetByDraftID fetches a request with its items ordered by line number, or
// ErrNotFound.
func GetByDraftID(ctx context.Context, db *gorm.DB, draftID string) (*domain.MaterialRequest, error) {
	var req domain.MaterialRequest
	err := db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("line_no asc") }).
		Where("draft_id = ?", draftID).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ClaimForSending atomically transitions draft → sending, but only when the
// row is still a draft and owned by requesterID. Exactly one of any number of
// concurrent callers observes true.
func ClaimForSending(ctx context.Context, db *gorm.DB, draftID, requesterID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.MaterialRequest{}).
		Where("draft_id = ? AND requester_id = ? AND status = ?", draftID, requesterID, domain.StatusDraft).
		Updates(map[string]any{"status": domain.StatusSending, "updated_at": time.Now().UTC()})
	return res.RowsAffected == 1, res.Error
}

// ReleaseClaim rolls a held claim back (sending → draft). Used when the
// cooldown gate rejects a claimed request so the caller can retry later
// without recreating the draft. Guarded by the current status, not a blind
// write.
func ReleaseClaim(ctx context.Context, db *gorm.DB, draftID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.MaterialRequest{}).
		Where("draft_id = ? AND status = ?", draftID, domain.StatusSending).
		Updates(map[string]any{"status": domain.StatusDraft, "updated_at": time.Now().UTC()})
	return res.RowsAffected == 1, res.Error
}

// AssignNumber writes the consumed counter value and the derived request
// number onto a claimed request. Only a row in "sending" accepts the write.
func AssignNumber(ctx context.Context, db *gorm.DB, draftID string, counter int, requestNumber string) error {
	res := db.WithContext(ctx).
		Model(&domain.MaterialRequest{}).
		Where("draft_id = ? AND status = ?", draftID, domain.StatusSending).
		Updates(map[string]any{
			"counter":        counter,
			"request_number": requestNumber,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSent finalizes a claimed request (sending → sent).
func MarkSent(ctx context.Context, db *gorm.DB, draftID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.MaterialRequest{}).
		Where("draft_id = ? AND status = ?", draftID, domain.StatusSending).
		Updates(map[string]any{"status": domain.StatusSent, "updated_at": time.Now().UTC()})
	return res.RowsAffected == 1, res.Error
}

// MarkFailed records a terminal failure (sending → failed) with a stable
// error code and a truncated message for later inspection.
func MarkFailed(ctx context.Context, db *gorm.DB, draftID, code, message string) (bool, error) {
	if len(message) > 512 {
		message = message[:512]
	}
	res := db.WithContext(ctx).
		Model(&domain.MaterialRequest{}).
		Where("draft_id = ? AND status = ?", draftID, domain.StatusSending).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_code":    code,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// CancelDraft transitions draft → cancelled for the owning requester.
// Any other state (or a foreign requester) leaves the row untouched and
// returns false.
func CancelDraft(ctx context.Context, db *gorm.DB, draftID, requesterID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.MaterialRequest{}).
		Where("draft_id = ? AND requester_id = ? AND status = ?", draftID, requesterID, domain.StatusDraft).
		Updates(map[string]any{"status": domain.StatusCancelled, "updated_at": time.Now().UTC()})
	return res.RowsAffected == 1, res.Error
}

// ReclaimStale fails every request stuck in "sending" since before cutoff
// (process crash between claim and finalization). Returns the number of rows
// reclaimed.
func ReclaimStale(ctx context.Context, db *gorm.DB, cutoff time.Time, code, message string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.MaterialRequest{}).
		Where("status = ? AND updated_at < ?", domain.StatusSending, cutoff).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_code":    code,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// CountRequests returns the total number of requests in a scope.
func CountRequests(ctx context.Context, db *gorm.DB, scope domain.Scope) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.MaterialRequest{}).
		Where("scope_kind = ? AND scope_id = ?", scope.Kind, scope.ID).
		Count(&total).Error
	return total, err
}

// ListRequestsPage returns a page of a scope's requests, newest first,
// without items. Use CountRequests for pagination metadata.
func ListRequestsPage(ctx context.Context, db *gorm.DB, scope domain.Scope, offset, limit int) ([]domain.MaterialRequest, error) {
	var out []domain.MaterialRequest
	err := db.WithContext(ctx).
		Where("scope_kind = ? AND scope_id = ?", scope.Kind, scope.ID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RequestStats returns the request count and the most recent update time for
// a scope. Handlers use it to build weak ETags for list responses.
func RequestStats(ctx context.Context, db *gorm.DB, scope domain.Scope) (int64, *time.Time, error) {
	var total int64
	if err := db.WithContext(ctx).
		Model(&domain.MaterialRequest{}).
		Where("scope_kind = ? AND scope_id = ?", scope.Kind, scope.ID).
		Count(&total).Error; err != nil {
		return 0, nil, err
	}
	var row struct{ MaxUpdated *time.Time }
	err := db.WithContext(ctx).
		Model(&domain.MaterialRequest{}).
		Select("MAX(updated_at) AS max_updated").
		Where("scope_kind = ? AND scope_id = ?", scope.Kind, scope.ID).
		Scan(&row).Error
	return total, row.MaxUpdated, err
}
