package repo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ptoflow/materials-backend/internal/domain"
)

func seedDraft(t *testing.T, db *gorm.DB, draftID, requesterID string, scope domain.Scope) *domain.MaterialRequest {
	t.Helper()
	req, err := CreateRequest(context.Background(), db, NewRequest{
		DraftID:        draftID,
		Scope:          scope,
		RequesterID:    requesterID,
		RequesterName:  "Иванов И.И.",
		PSLabel:        "ПС 110",
		RequestDate:    time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC),
		RecipientEmail: "review@example.com",
		Items: []domain.MaterialItem{
			{LineNo: 1, Name: "уголок г/к", TypeMark: "50х50х5", Qty: decimal.RequireFromString("0.156"), Unit: "т"},
			{LineNo: 2, Name: "арматура", TypeMark: "d8", Qty: decimal.NewFromInt(300), Unit: "кг"},
		},
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return req
}

var testScope = domain.Scope{Kind: domain.ScopeUser, ID: "u1"}

func TestCreateRequest_PersistsDraftWithItems(t *testing.T) {
	db := openTestDB(t)
	seedDraft(t, db, "draft-1", "u1", testScope)

	got, err := GetByDraftID(context.Background(), db, "draft-1")
	if err != nil {
		t.Fatalf("GetByDraftID: %v", err)
	}
	if got.Status != domain.StatusDraft || got.Counter != 0 || got.RequestNumber != nil {
		t.Fatalf("fresh draft state: %+v", got)
	}
	if len(got.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(got.Items))
	}
	// Exact decimal round-trip through the DB.
	if !got.Items[0].Qty.Equal(decimal.RequireFromString("0.156")) {
		t.Fatalf("qty round-trip = %s, want 0.156", got.Items[0].Qty)
	}
	if got.Items[0].LineNo != 1 || got.Items[1].LineNo != 2 {
		t.Fatalf("items out of order: %d, %d", got.Items[0].LineNo, got.Items[1].LineNo)
	}
}

func TestCreateRequest_DuplicateDraftID(t *testing.T) {
	db := openTestDB(t)
	seedDraft(t, db, "draft-dup", "u1", testScope)

	_, err := CreateRequest(context.Background(), db, NewRequest{
		DraftID:     "draft-dup",
		Scope:       testScope,
		RequesterID: "u1",
		PSLabel:     "ПС 110",
		RequestDate: time.Now().UTC(),
	})
	if err == nil {
		t.Fatalf("duplicate draft_id must be rejected by the unique index")
	}
}

func TestGetByDraftID_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := GetByDraftID(context.Background(), db, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClaim_StateMachine(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedDraft(t, db, "draft-sm", "u1", testScope)

	// Wrong owner cannot claim.
	if ok, err := ClaimForSending(ctx, db, "draft-sm", "intruder"); err != nil || ok {
		t.Fatalf("foreign claim = (%v, %v), want refused", ok, err)
	}

	// Owner claims; a second claim on the same row loses.
	if ok, err := ClaimForSending(ctx, db, "draft-sm", "u1"); err != nil || !ok {
		t.Fatalf("claim = (%v, %v)", ok, err)
	}
	if ok, err := ClaimForSending(ctx, db, "draft-sm", "u1"); err != nil || ok {
		t.Fatalf("double claim must lose")
	}

	// Release rolls back to draft, making the row claimable again.
	if ok, err := ReleaseClaim(ctx, db, "draft-sm"); err != nil || !ok {
		t.Fatalf("release = (%v, %v)", ok, err)
	}
	if ok, err := ReleaseClaim(ctx, db, "draft-sm"); err != nil || ok {
		t.Fatalf("release of an unclaimed row must be a no-op")
	}
	if ok, err := ClaimForSending(ctx, db, "draft-sm", "u1"); err != nil || !ok {
		t.Fatalf("re-claim after release = (%v, %v)", ok, err)
	}

	// Finalize; every later transition is refused.
	if ok, err := MarkSent(ctx, db, "draft-sm"); err != nil || !ok {
		t.Fatalf("mark sent = (%v, %v)", ok, err)
	}
	if ok, _ := MarkSent(ctx, db, "draft-sm"); ok {
		t.Fatalf("sent is terminal")
	}
	if ok, _ := ClaimForSending(ctx, db, "draft-sm", "u1"); ok {
		t.Fatalf("terminal row must not be claimable")
	}
	if ok, _ := CancelDraft(ctx, db, "draft-sm", "u1"); ok {
		t.Fatalf("terminal row must not be cancellable")
	}
}

func TestClaimForSending_ConcurrentSingleWinner(t *testing.T) {
	db := openTestDB(t)
	seedDraft(t, db, "draft-race", "u1", testScope)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ClaimForSending(context.Background(), db, "draft-race", "u1")
			if err != nil {
				t.Errorf("ClaimForSending: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestAssignNumber(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedDraft(t, db, "draft-num", "u1", testScope)

	// Only a claimed row accepts the write.
	if err := AssignNumber(ctx, db, "draft-num", 1, "260221-ПС 110-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("assign on unclaimed draft = %v, want ErrNotFound", err)
	}

	if ok, _ := ClaimForSending(ctx, db, "draft-num", "u1"); !ok {
		t.Fatalf("claim failed")
	}
	if err := AssignNumber(ctx, db, "draft-num", 3, "260221-ПС 110-3"); err != nil {
		t.Fatalf("AssignNumber: %v", err)
	}

	got, _ := GetByDraftID(ctx, db, "draft-num")
	if got.Counter != 3 || got.RequestNumber == nil || *got.RequestNumber != "260221-ПС 110-3" {
		t.Fatalf("assigned = %d / %v", got.Counter, got.RequestNumber)
	}
}

func TestMarkFailed_StoresCodeAndTruncatesMessage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedDraft(t, db, "draft-fail", "u1", testScope)

	if ok, _ := MarkFailed(ctx, db, "draft-fail", "DISPATCH_ERROR", "x"); ok {
		t.Fatalf("only a claimed row may fail")
	}
	if ok, _ := ClaimForSending(ctx, db, "draft-fail", "u1"); !ok {
		t.Fatalf("claim failed")
	}
	long := strings.Repeat("x", 600)
	if ok, err := MarkFailed(ctx, db, "draft-fail", "DISPATCH_ERROR", long); err != nil || !ok {
		t.Fatalf("MarkFailed = (%v, %v)", ok, err)
	}

	got, _ := GetByDraftID(ctx, db, "draft-fail")
	if got.Status != domain.StatusFailed || got.ErrorCode != "DISPATCH_ERROR" {
		t.Fatalf("row = %q/%q", got.Status, got.ErrorCode)
	}
	if len(got.ErrorMessage) != 512 {
		t.Fatalf("message length = %d, want truncated to 512", len(got.ErrorMessage))
	}
}

func TestCancelDraft(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedDraft(t, db, "draft-cancel", "u1", testScope)

	if ok, _ := CancelDraft(ctx, db, "draft-cancel", "intruder"); ok {
		t.Fatalf("foreign cancel must be refused")
	}
	if ok, err := CancelDraft(ctx, db, "draft-cancel", "u1"); err != nil || !ok {
		t.Fatalf("cancel = (%v, %v)", ok, err)
	}
	got, _ := GetByDraftID(ctx, db, "draft-cancel")
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestReclaimStale(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seedDraft(t, db, "draft-old", "u1", testScope)
	seedDraft(t, db, "draft-fresh", "u1", testScope)
	for _, id := range []string{"draft-old", "draft-fresh"} {
		if ok, _ := ClaimForSending(ctx, db, id, "u1"); !ok {
			t.Fatalf("claim %s failed", id)
		}
	}

	// Backdate one claim past the cutoff.
	stale := time.Now().UTC().Add(-time.Hour)
	if err := db.Exec(`UPDATE material_requests SET updated_at = ? WHERE draft_id = ?`, stale, "draft-old").Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	cutoff := time.Now().UTC().Add(-15 * time.Minute)
	n, err := ReclaimStale(ctx, db, cutoff, "STALE_CLAIM", "interrupted")
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	old, _ := GetByDraftID(ctx, db, "draft-old")
	if old.Status != domain.StatusFailed || old.ErrorCode != "STALE_CLAIM" || old.ErrorMessage != "interrupted" {
		t.Fatalf("stale row = %q/%q/%q", old.Status, old.ErrorCode, old.ErrorMessage)
	}
	fresh, _ := GetByDraftID(ctx, db, "draft-fresh")
	if fresh.Status != domain.StatusSending {
		t.Fatalf("fresh claim swept: %q", fresh.Status)
	}
}

func TestCountAndListRequests(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	other := domain.Scope{Kind: domain.ScopeChat, ID: "team-7"}

	seedDraft(t, db, "draft-a", "u1", testScope)
	seedDraft(t, db, "draft-b", "u1", testScope)
	seedDraft(t, db, "draft-c", "u2", other)

	total, err := CountRequests(ctx, db, testScope)
	if err != nil || total != 2 {
		t.Fatalf("CountRequests = (%d, %v), want 2", total, err)
	}

	page, err := ListRequestsPage(ctx, db, testScope, 0, 10)
	if err != nil || len(page) != 2 {
		t.Fatalf("ListRequestsPage = (%d, %v), want 2", len(page), err)
	}
	page, err = ListRequestsPage(ctx, db, testScope, 1, 10)
	if err != nil || len(page) != 1 {
		t.Fatalf("offset page = (%d, %v), want 1", len(page), err)
	}

	total, last, err := RequestStats(ctx, db, testScope)
	if err != nil || total != 2 || last == nil {
		t.Fatalf("RequestStats = (%d, %v, %v)", total, last, err)
	}

	// Empty scope: zero rows, no last-updated value.
	total, last, err = RequestStats(ctx, db, domain.Scope{Kind: domain.ScopeUser, ID: "nobody"})
	if err != nil || total != 0 || last != nil {
		t.Fatalf("empty RequestStats = (%d, %v, %v)", total, last, err)
	}
}
