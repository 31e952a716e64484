// Package services – MaterialsService
//
// This file implements the workflow orchestrator: it parses submitted text
// into a draft (BuildPreview), runs the confirmation claim protocol
// (Confirm), and cancels drafts (Cancel). The claim protocol is the
// correctness core: every status transition is a conditional update executed
// by the store, so two concurrent confirmations of the same draft produce
// exactly one winner without any in-process locking, even across service
// instances.
//
// Observability: public methods are OpenTelemetry-instrumented, and confirm
// outcomes feed a Prometheus counter.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/ptoflow/materials-backend/internal/domain"
	"github.com/ptoflow/materials-backend/internal/excel"
	"github.com/ptoflow/materials-backend/internal/parser"
	"github.com/ptoflow/materials-backend/internal/repo"
)

// PlaceholderPS substitutes for the site code when no object was resolved in
// a shared scope. It is part of the request-number contract.
const PlaceholderPS = "???"

// Stored error codes for terminal failures.
const (
	ErrCodeArtifact   = "ARTIFACT_ERROR"
	ErrCodeDispatch   = "DISPATCH_ERROR"
	ErrCodeStaleClaim = "STALE_CLAIM"
)

// confirmOutcomes counts terminal confirm results by outcome.
var confirmOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "materials_confirm_total",
	Help: "Confirm attempts by outcome (sent, rejected, cooldown, failed).",
}, []string{"outcome"})

// RequestStore is the persistence contract for the request aggregate and its
// state machine. All conditional transitions report whether they were taken.
type RequestStore interface {
	CreateRequest(ctx context.Context, db *gorm.DB, nr repo.NewRequest) (*domain.MaterialRequest, error)
	GetByDraftID(ctx context.Context, db *gorm.DB, draftID string) (*domain.MaterialRequest, error)
	ClaimForSending(ctx context.Context, db *gorm.DB, draftID, requesterID string) (bool, error)
	ReleaseClaim(ctx context.Context, db *gorm.DB, draftID string) (bool, error)
	AssignNumber(ctx context.Context, db *gorm.DB, draftID string, counter int, requestNumber string) error
	MarkSent(ctx context.Context, db *gorm.DB, draftID string) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, draftID, code, message string) (bool, error)
	CancelDraft(ctx context.Context, db *gorm.DB, draftID, requesterID string) (bool, error)
	ReclaimStale(ctx context.Context, db *gorm.DB, cutoff time.Time, code, message string) (int64, error)
	CountRequests(ctx context.Context, db *gorm.DB, scope domain.Scope) (int64, error)
	ListRequestsPage(ctx context.Context, db *gorm.DB, scope domain.Scope, offset, limit int) ([]domain.MaterialRequest, error)
}

// CounterStore increments the per-(date, scope) sequence counter.
type CounterStore interface {
	IncrementDailyCounter(ctx context.Context, db *gorm.DB, d time.Time, scope string) (int, error)
}

// CooldownStore reads and records per-scope cooldown entries.
type CooldownStore interface {
	GetCooldown(ctx context.Context, db *gorm.DB, scope domain.Scope) (*domain.CooldownEntry, error)
	UpsertCooldown(ctx context.Context, db *gorm.DB, scope domain.Scope, at time.Time) error
}

// ObjectStore resolves site objects: free-text search, shared-scope links,
// and lookup by id.
type ObjectStore interface {
	SearchObjects(ctx context.Context, db *gorm.DB, query string, limit int) ([]domain.SiteObject, error)
	ListLinkedObjects(ctx context.Context, db *gorm.DB, scopeID string) ([]domain.SiteObject, error)
	GetObject(ctx context.Context, db *gorm.DB, id string) (*domain.SiteObject, error)
}

// SettingsProvider supplies the tunable workflow settings.
type SettingsProvider interface {
	CooldownMinutes(ctx context.Context) (int, error)
	RecipientEmail(ctx context.Context) (string, error)
}

// ArtifactGenerator renders a claimed request into the spreadsheet artifact.
type ArtifactGenerator interface {
	Generate(req *domain.MaterialRequest, header excel.HeaderData) ([]byte, error)
}

// Dispatcher sends the artifact to the recipient. Implementations must not
// retry: an ambiguous failure followed by a retry could deliver twice.
type Dispatcher interface {
	Send(ctx context.Context, to, subject, body string, attachment []byte, filename string) error
}

// MaterialsService composes parsing, persistence, sequencing, rendering, and
// dispatch into the three workflow operations.
type MaterialsService struct {
	DB        *gorm.DB
	Store     RequestStore
	Counters  CounterStore
	Cooldowns CooldownStore
	Objects   ObjectStore
	Settings  SettingsProvider
	Generator ArtifactGenerator
	Dispatch  Dispatcher

	// MaxTextRunes caps the accepted request text; 0 means the default.
	MaxTextRunes int
	// StaleClaimTTL is how long a request may sit in "sending" before the
	// sweep fails it. 0 means the default.
	StaleClaimTTL time.Duration

	// Now is a clock seam for tests.
	Now func() time.Time
}

const (
	defaultMaxTextRunes  = 4000
	defaultStaleClaimTTL = 15 * time.Minute
)

func (s *MaterialsService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// PreviewInput is the caller's submission.
type PreviewInput struct {
	Text          string
	Scope         domain.Scope
	RequesterID   string
	RequesterName string
}

// PreviewResult is the successful outcome of BuildPreview.
type PreviewResult struct {
	DraftID string
	Preview string
}

// ConfirmResult reports the outcome of one confirm attempt.
//
// Retryable is true only for the cooldown rejection: the draft was rolled
// back to "draft" and the same confirmation may be retried after RetryAfter.
// Every other non-OK outcome is terminal for this draft.
type ConfirmResult struct {
	OK         bool
	Retryable  bool
	Message    string
	RetryAfter time.Duration
}

// newDraftID returns a 12-hex-character random token. Uniqueness is enforced
// by the store's unique index on draft_id.
func newDraftID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is not recoverable
	}
	return hex.EncodeToString(b)
}

// FormatRequestNumber derives the stable request number:
// "YYMMDD-<ps label or placeholder>-<counter>".
func FormatRequestNumber(d time.Time, psLabel string, counter int) string {
	if psLabel == "" {
		psLabel = PlaceholderPS
	}
	return fmt.Sprintf("%s-%s-%d", d.Format("060102"), psLabel, counter)
}

// BuildPreview parses the submitted text, resolves the site object, persists
// a draft with its line items, and returns the preview text keyed by a fresh
// draft id. No sequence number is consumed here: counters belong to claimed
// drafts only.
func (s *MaterialsService) BuildPreview(ctx context.Context, in PreviewInput) (PreviewResult, error) {
	tr := otel.Tracer("services/MaterialsService")
	ctx, span := tr.Start(ctx, "BuildPreview",
		trace.WithAttributes(
			attribute.String("scope", in.Scope.Key()),
			attribute.String("requester.id", in.RequesterID),
		),
	)
	defer span.End()

	maxRunes := s.MaxTextRunes
	if maxRunes <= 0 {
		maxRunes = defaultMaxTextRunes
	}
	if utf8.RuneCountInString(in.Text) > maxRunes {
		return PreviewResult{}, ErrTextTooLong
	}

	var (
		obj       *domain.SiteObject
		linesText = in.Text
		err       error
	)
	if in.Scope.Kind == domain.ScopeUser {
		obj, linesText, err = s.resolveObjectFromText(ctx, in.Text)
		if err != nil {
			return PreviewResult{}, err
		}
	} else {
		linked, lerr := s.Objects.ListLinkedObjects(ctx, s.DB, in.Scope.ID)
		if lerr != nil {
			return PreviewResult{}, lerr
		}
		if len(linked) > 0 {
			obj = &linked[0]
		}
	}

	res := parser.Parse(linesText)
	if len(res.Lines) == 0 {
		return PreviewResult{}, &NoLinesError{Diagnostics: res.Errors}
	}

	recipient, err := s.Settings.RecipientEmail(ctx)
	if err != nil {
		return PreviewResult{}, err
	}

	psLabel := PlaceholderPS
	var objectID *string
	if obj != nil {
		if obj.PSLabel != "" {
			psLabel = obj.PSLabel
		} else if obj.PSName != "" {
			psLabel = obj.PSName
		}
		id := obj.ID
		objectID = &id
	}

	items := make([]domain.MaterialItem, 0, len(res.Lines))
	for _, ln := range res.Lines {
		items = append(items, domain.MaterialItem{
			LineNo:   ln.LineNo,
			Name:     ln.Name,
			TypeMark: ln.TypeMark,
			Qty:      ln.Qty,
			Unit:     ln.Unit,
		})
	}

	today := s.now()
	draftID := newDraftID()
	req, err := s.Store.CreateRequest(ctx, s.DB, repo.NewRequest{
		DraftID:        draftID,
		Scope:          in.Scope,
		RequesterID:    in.RequesterID,
		RequesterName:  in.RequesterName,
		ObjectID:       objectID,
		PSLabel:        psLabel,
		RequestDate:    today,
		RecipientEmail: recipient,
		Items:          items,
	})
	if err != nil {
		return PreviewResult{}, err
	}

	log.Info().
		Str("draft_id", draftID).
		Int("lines", len(items)).
		Str("scope", in.Scope.Key()).
		Str("requester_id", in.RequesterID).
		Msg("draft created")

	return PreviewResult{
		DraftID: draftID,
		Preview: buildPreviewText(req, obj, res),
	}, nil
}

// resolveObjectFromText extracts the site object from a private-scope
// submission. The first line is tried verbatim against the catalog; failing
// that, shrinking token prefixes of the first line are tried, accepting a
// match only when the leftover text still parses as a material list.
func (s *MaterialsService) resolveObjectFromText(ctx context.Context, text string) (*domain.SiteObject, string, error) {
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		if t := strings.TrimSpace(ln); t != "" {
			lines = append(lines, t)
		}
	}
	if len(lines) == 0 {
		return nil, "", ErrEmptyRequest
	}

	first := lines[0]
	rest := strings.Join(lines[1:], "\n")

	if found, err := s.Objects.SearchObjects(ctx, s.DB, first, 1); err != nil {
		return nil, "", err
	} else if len(found) > 0 {
		return &found[0], rest, nil
	}

	// Prefix window: the object reference may be glued to the first material
	// line ("ПС 55 уголок ... - 0,156 т"). Longest prefix first.
	tokens := strings.Fields(first)
	maxWindow := 4
	if len(tokens)-1 < maxWindow {
		maxWindow = len(tokens) - 1
	}
	for n := maxWindow; n >= 1; n-- {
		prefix := strings.Join(tokens[:n], " ")
		found, err := s.Objects.SearchObjects(ctx, s.DB, prefix, 1)
		if err != nil {
			return nil, "", err
		}
		if len(found) == 0 {
			continue
		}
		remainder := strings.Join(tokens[n:], " ")
		if rest != "" {
			remainder += "\n" + rest
		}
		if len(parser.Parse(remainder).Lines) > 0 {
			return &found[0], remainder, nil
		}
	}

	return nil, "", ErrObjectRequired
}

// buildPreviewText renders the caller-facing preview: object label, date,
// numbered items, and a summary of parse diagnostics and overflow.
func buildPreviewText(req *domain.MaterialRequest, obj *domain.SiteObject, res parser.ParseResult) string {
	label := req.PSLabel
	if obj != nil {
		label = obj.Label()
	}

	var b strings.Builder
	b.WriteString("Materials request — PREVIEW\n\n")
	fmt.Fprintf(&b, "Object: %s\n", label)
	fmt.Fprintf(&b, "PS: %s\n", req.PSLabel)
	fmt.Fprintf(&b, "Date: %s\n\n", req.RequestDate.Format("02.01.2006"))
	b.WriteString("Items:\n")
	for _, item := range req.Items {
		b.WriteString(item.Display())
		b.WriteString("\n")
	}
	b.WriteString("\nCheck the list; confirm to send it for review.")

	if len(res.Errors) > 0 {
		fmt.Fprintf(&b, "\n\nSkipped lines with errors (%d):\n", len(res.Errors))
		for i, e := range res.Errors {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "  • %s\n", e)
		}
	}
	if res.Skipped > 0 {
		fmt.Fprintf(&b, "\nLine limit of %d exceeded (%d lines left out).", parser.MaxLines, res.Skipped)
	}
	return b.String()
}

// CheckCooldown reports whether the scope may confirm now and, if not, how
// long remains. Read-only: the cooldown entry is written only on success.
func (s *MaterialsService) CheckCooldown(ctx context.Context, scope domain.Scope) (bool, time.Duration, error) {
	minutes, err := s.Settings.CooldownMinutes(ctx)
	if err != nil {
		return false, 0, err
	}
	if minutes <= 0 {
		return true, 0, nil
	}
	entry, err := s.Cooldowns.GetCooldown(ctx, s.DB, scope)
	if err != nil {
		return false, 0, err
	}
	if entry == nil {
		return true, 0, nil
	}
	nextAllowed := entry.LastRequestAt.Add(time.Duration(minutes) * time.Minute)
	if now := s.now(); now.Before(nextAllowed) {
		return false, nextAllowed.Sub(now), nil
	}
	return true, 0, nil
}

// Confirm runs the claim protocol for one draft:
//
//  1. Claim: conditional draft→sending guarded by owner. Losers re-read the
//     row and get a terminal message for whatever state they observe.
//  2. Cooldown gate: a claimed draft inside the cooldown window is rolled
//     back (sending→draft) and reported retryable.
//  3. Sequence: the daily counter is consumed and the request number
//     assigned, in one transaction, only while the claim is held.
//  4. Render + dispatch, outside any transaction. Failure marks the draft
//     failed (no cooldown write); success marks it sent and records the
//     cooldown, in a final transaction.
func (s *MaterialsService) Confirm(ctx context.Context, draftID, requesterID string) (ConfirmResult, error) {
	tr := otel.Tracer("services/MaterialsService")
	ctx, span := tr.Start(ctx, "Confirm",
		trace.WithAttributes(
			attribute.String("draft.id", draftID),
			attribute.String("requester.id", requesterID),
		),
	)
	defer span.End()

	claimed, err := s.Store.ClaimForSending(ctx, s.DB, draftID, requesterID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if !claimed {
		res, err := s.explainClaimFailure(ctx, draftID, requesterID)
		if err == nil {
			confirmOutcomes.WithLabelValues("rejected").Inc()
		}
		return res, err
	}

	req, err := s.Store.GetByDraftID(ctx, s.DB, draftID)
	if err != nil {
		// Claim is held but the row cannot be read back; release so the
		// draft is not stranded in "sending".
		if _, rerr := s.Store.ReleaseClaim(ctx, s.DB, draftID); rerr != nil {
			log.Error().Err(rerr).Str("draft_id", draftID).Msg("release after read failure")
		}
		return ConfirmResult{}, err
	}
	scope := req.Scope()

	cooldownMinutes, err := s.Settings.CooldownMinutes(ctx)
	if err != nil {
		if _, rerr := s.Store.ReleaseClaim(ctx, s.DB, draftID); rerr != nil {
			log.Error().Err(rerr).Str("draft_id", draftID).Msg("release after settings failure")
		}
		return ConfirmResult{}, err
	}
	if cooldownMinutes > 0 {
		entry, err := s.Cooldowns.GetCooldown(ctx, s.DB, scope)
		if err != nil {
			if _, rerr := s.Store.ReleaseClaim(ctx, s.DB, draftID); rerr != nil {
				log.Error().Err(rerr).Str("draft_id", draftID).Msg("release after cooldown read failure")
			}
			return ConfirmResult{}, err
		}
		if entry != nil {
			nextAllowed := entry.LastRequestAt.Add(time.Duration(cooldownMinutes) * time.Minute)
			if now := s.now(); now.Before(nextAllowed) {
				if _, err := s.Store.ReleaseClaim(ctx, s.DB, draftID); err != nil {
					return ConfirmResult{}, err
				}
				remaining := nextAllowed.Sub(now)
				confirmOutcomes.WithLabelValues("cooldown").Inc()
				return ConfirmResult{
					Retryable:  true,
					RetryAfter: remaining,
					Message: fmt.Sprintf(
						"Cooldown is active: the next request can be sent in %s. The draft is kept; confirm again later.",
						formatRemaining(remaining)),
				}, nil
			}
		}
	}

	// Sequence assignment. The counter is consumed here, under the claim, so
	// only requests that will actually be processed use up numbers.
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter, err := s.Counters.IncrementDailyCounter(ctx, tx, req.RequestDate, scope.Key())
		if err != nil {
			return err
		}
		number := FormatRequestNumber(req.RequestDate, req.PSLabel, counter)
		if err := s.Store.AssignNumber(ctx, tx, draftID, counter, number); err != nil {
			return err
		}
		req.Counter = counter
		req.RequestNumber = &number
		return nil
	})
	if err != nil {
		if _, rerr := s.Store.ReleaseClaim(ctx, s.DB, draftID); rerr != nil {
			log.Error().Err(rerr).Str("draft_id", draftID).Msg("release after sequence failure")
		}
		return ConfirmResult{}, err
	}

	// Header data for the artifact.
	var header excel.HeaderData
	objectLabel := req.PSLabel
	if req.ObjectID != nil {
		if obj, err := s.Objects.GetObject(ctx, s.DB, *req.ObjectID); err == nil && obj != nil {
			header = excel.HeaderData{
				PSName:         obj.PSName,
				Contractor:     obj.Contractor,
				WorkType:       obj.WorkType,
				ContractNumber: obj.ContractNumber,
				WorkPeriod:     obj.WorkPeriod(),
				Customer:       obj.Customer,
				Address:        obj.Address,
			}
			objectLabel = obj.Label()
		}
	}

	// CPU-bound render, outside any store transaction.
	artifact, err := s.Generator.Generate(req, header)
	if err != nil {
		log.Error().Err(err).Str("draft_id", draftID).Msg("artifact generation failed")
		if _, ferr := s.Store.MarkFailed(ctx, s.DB, draftID, ErrCodeArtifact, err.Error()); ferr != nil {
			return ConfirmResult{}, ferr
		}
		confirmOutcomes.WithLabelValues("failed").Inc()
		return ConfirmResult{
			Message: "Could not generate the request file. Start a new request or contact the site engineer.",
		}, nil
	}

	recipient := req.RecipientEmail
	if recipient == "" {
		if recipient, err = s.Settings.RecipientEmail(ctx); err != nil {
			recipient = ""
		}
	}

	dateStr := req.RequestDate.Format("02.01.2006")
	filename := excel.BuildFileName(req.PSLabel, req.RequestDate, req.Counter)
	subject := fmt.Sprintf("PS %s: materials request %s (%d)", req.PSLabel, dateStr, req.Counter)
	body := fmt.Sprintf(
		"Materials request\n\nObject/PS: %s\nDate: %s\nNumber: %s\nSubmitted by: %s\n",
		req.PSLabel, dateStr, derefOr(req.RequestNumber, ""), orDash(req.RequesterName))

	if err := s.Dispatch.Send(ctx, recipient, subject, body, artifact, filename); err != nil {
		log.Error().Err(err).Str("draft_id", draftID).Msg("dispatch failed")
		if _, ferr := s.Store.MarkFailed(ctx, s.DB, draftID, ErrCodeDispatch, err.Error()); ferr != nil {
			return ConfirmResult{}, ferr
		}
		confirmOutcomes.WithLabelValues("failed").Inc()
		return ConfirmResult{
			Message: "Could not send the request by e-mail. Start a new request or contact the site engineer.",
		}, nil
	}

	// Finalize: sent + cooldown, in one transaction, only after a successful
	// dispatch. A failure here leaves the row in "sending" for the stale
	// sweep rather than double-sending.
	now := s.now()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.Store.MarkSent(ctx, tx, draftID); err != nil {
			return err
		}
		return s.Cooldowns.UpsertCooldown(ctx, tx, scope, now)
	})
	if err != nil {
		return ConfirmResult{}, err
	}

	log.Info().
		Str("draft_id", draftID).
		Str("to", recipient).
		Str("ps_label", req.PSLabel).
		Int("counter", req.Counter).
		Msg("request sent")
	confirmOutcomes.WithLabelValues("sent").Inc()

	msg := fmt.Sprintf(
		"Request sent for review.\n\nObject: %s\nPS: %s\nDate: %s (%d)\nRecipient: %s",
		objectLabel, req.PSLabel, dateStr, req.Counter, recipient)
	if cooldownMinutes > 0 {
		msg += fmt.Sprintf(
			"\n\nThe next request can be sent in %d min (not before %s).",
			cooldownMinutes, now.Add(time.Duration(cooldownMinutes)*time.Minute).Format("02.01.2006 15:04"))
	}
	return ConfirmResult{OK: true, Message: msg}, nil
}

// explainClaimFailure re-reads a draft whose claim was lost and produces the
// terminal message matching the observed state. Claim losers must never
// silently succeed.
func (s *MaterialsService) explainClaimFailure(ctx context.Context, draftID, requesterID string) (ConfirmResult, error) {
	req, err := s.Store.GetByDraftID(ctx, s.DB, draftID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ConfirmResult{Message: "Draft not found."}, nil
	}
	if err != nil {
		return ConfirmResult{}, err
	}
	if req.RequesterID != requesterID {
		return ConfirmResult{Message: "You do not have access to this request."}, nil
	}
	switch req.Status {
	case domain.StatusSent, domain.StatusCancelled:
		return ConfirmResult{Message: "Already processed."}, nil
	case domain.StatusFailed:
		return ConfirmResult{Message: "This request already failed. Start a new request."}, nil
	default:
		// sending, or a draft that lost a race we can no longer observe
		return ConfirmResult{Message: "The request is already being processed."}, nil
	}
}

// Cancel aborts a draft. Permitted only while the row is still a draft and
// the caller owns it; anything else reports without mutating, and the
// cooldown is never touched.
func (s *MaterialsService) Cancel(ctx context.Context, draftID, requesterID string) (string, error) {
	tr := otel.Tracer("services/MaterialsService")
	ctx, span := tr.Start(ctx, "Cancel",
		trace.WithAttributes(attribute.String("draft.id", draftID)),
	)
	defer span.End()

	ok, err := s.Store.CancelDraft(ctx, s.DB, draftID, requesterID)
	if err != nil {
		return "", err
	}
	if ok {
		log.Info().Str("draft_id", draftID).Str("requester_id", requesterID).Msg("request cancelled")
		return "Request cancelled. Nothing was sent.", nil
	}

	req, err := s.Store.GetByDraftID(ctx, s.DB, draftID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "Draft not found.", nil
	}
	if err != nil {
		return "", err
	}
	if req.RequesterID != requesterID {
		return "You do not have access to this request.", nil
	}
	return "Already processed.", nil
}

// Get returns a request for its owner, for status inspection.
func (s *MaterialsService) Get(ctx context.Context, draftID, requesterID string) (*domain.MaterialRequest, error) {
	req, err := s.Store.GetByDraftID(ctx, s.DB, draftID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	if req.RequesterID != requesterID {
		return nil, ErrNotOwner
	}
	return req, nil
}

// ListPage returns a page of the scope's requests, newest first, plus the
// total count.
func (s *MaterialsService) ListPage(ctx context.Context, scope domain.Scope, page, pageSize int) ([]domain.MaterialRequest, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	total, err := s.Store.CountRequests(ctx, s.DB, scope)
	if err != nil {
		return nil, 0, err
	}
	items, err := s.Store.ListRequestsPage(ctx, s.DB, scope, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ReclaimStuck fails every request stranded in "sending" past StaleClaimTTL
// (crash between claim and finalization). Failed is the safe terminal state:
// after an ambiguous dispatch the artifact may already have been delivered,
// so re-enabling confirmation could duplicate it.
func (s *MaterialsService) ReclaimStuck(ctx context.Context) (int64, error) {
	ttl := s.StaleClaimTTL
	if ttl <= 0 {
		ttl = defaultStaleClaimTTL
	}
	cutoff := s.now().Add(-ttl)
	n, err := s.Store.ReclaimStale(ctx, s.DB, cutoff, ErrCodeStaleClaim,
		"processing was interrupted before the request could be finalized")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Warn().Int64("reclaimed", n).Msg("stale sending requests failed by sweep")
	}
	return n, nil
}

// formatRemaining renders a duration as "M min S sec" for user messages.
func formatRemaining(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%d min %d sec", secs/60, secs%60)
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return s
}
