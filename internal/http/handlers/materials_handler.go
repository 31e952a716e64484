// Materials request HTTP handlers.
//
// This file exposes REST endpoints for the request workflow:
//   - POST   /requests/preview              (parse text, create a draft)
//   - POST   /requests/{draft_id}/confirm   (claim, number, render, dispatch)
//   - POST   /requests/{draft_id}/cancel    (abort a draft)
//   - GET    /requests/{draft_id}           (owner-only status view)
//   - GET    /requests                      (list per scope, paginated, ETag)
//   - GET    /cooldown                      (per-scope cooldown status)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. The caller's identity and scope
// come from headers: X-User-ID is the requester, and an X-Chat-ID header
// switches the request into that shared scope (counters and cooldown pooled
// across the chat's participants).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ptoflow/materials-backend/internal/domain"
	"github.com/ptoflow/materials-backend/internal/repo"
	"github.com/ptoflow/materials-backend/internal/services"
	"github.com/ptoflow/materials-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// MaterialsService defines the workflow operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MaterialsService interface {
	// BuildPreview parses submitted text and persists a draft.
	BuildPreview(ctx context.Context, in services.PreviewInput) (services.PreviewResult, error)
	// Confirm runs the claim protocol for a draft; exactly one concurrent
	// caller wins.
	Confirm(ctx context.Context, draftID, requesterID string) (services.ConfirmResult, error)
	// Cancel aborts a draft owned by requesterID.
	Cancel(ctx context.Context, draftID, requesterID string) (string, error)
	// Get returns a request for its owner.
	Get(ctx context.Context, draftID, requesterID string) (*domain.MaterialRequest, error)
	// ListPage returns a page of a scope's requests and the total count.
	ListPage(ctx context.Context, scope domain.Scope, page, pageSize int) ([]domain.MaterialRequest, int64, error)
	// CheckCooldown reports whether the scope may confirm now.
	CheckCooldown(ctx context.Context, scope domain.Scope) (bool, time.Duration, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the materials-request workflow.
// It depends on an abstract service interface to keep transport concerns
// separate from business logic.
type Handlers struct {
	svc MaterialsService
}

// New constructs and returns a Handlers instance bound to the given service.
func New(svc MaterialsService) *Handlers {
	return &Handlers{svc: svc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// requestScope derives the workflow scope from headers: X-Chat-ID selects the
// shared scope, otherwise the caller's private scope is used.
func requestScope(c *gin.Context) domain.Scope {
	if chatID := strings.TrimSpace(c.GetHeader("X-Chat-ID")); chatID != "" {
		return domain.Scope{Kind: domain.ScopeChat, ID: chatID}
	}
	return domain.Scope{Kind: domain.ScopeUser, ID: userID(c)}
}

//
// DTOs
//

// PreviewRequest is the JSON payload for creating a draft from free text.
type PreviewRequest struct {
	// Text is the raw multi-line material list, optionally preceded by an
	// object reference in private scopes.
	Text string `json:"text" binding:"required" example:"ПС 110 Заря\nарматура, d8, 300 кг"`
	// RequesterName optionally names the submitter on the artifact.
	RequesterName string `json:"requester_name" example:"Иванов И.И."`
}

// PreviewResponse returns the draft handle and the rendered preview text.
type PreviewResponse struct {
	DraftID string `json:"draft_id" example:"a1b2c3d4e5f6"`
	Preview string `json:"preview"`
}

// ConfirmResponse reports the outcome of one confirm attempt.
type ConfirmResponse struct {
	Sent bool `json:"sent"`
	// Retryable is true only for the cooldown rejection; the draft survives
	// and the confirmation may be repeated after RetryAfterSeconds.
	Retryable         bool   `json:"retryable,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Message           string `json:"message"`
}

// CancelResponse acknowledges a cancellation attempt.
type CancelResponse struct {
	Message string `json:"message"`
}

// CooldownResponse reports the scope's cooldown status.
type CooldownResponse struct {
	Allowed           bool `json:"allowed"`
	RetryAfterSeconds int  `json:"retry_after_seconds,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListRequestsResponse wraps a page of requests and pagination information.
type ListRequestsResponse struct {
	Requests   []domain.MaterialRequest `json:"requests"`
	Pagination Pagination               `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// draftID validates the path parameter: the opaque draft token, 1-32 chars of
// URL-safe material.
func draftID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("draft_id"))
	if id == "" || len(id) > 32 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid draft id")
		return "", false
	}
	return id, true
}

//
// Handlers
//

// Preview godoc
// @ID          previewRequest
// @Summary     Parse text into a draft request
// @Description Parses the submitted material list, resolves the site object, persists a draft, and returns the preview.
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       X-Chat-ID  header  string  false "Shared scope id; omit for private scope"
// @Param       body       body    handlers.PreviewRequest  true  "Request text"
//
// @Success     201  {object}  handlers.PreviewResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     422  {object}  handlers.ErrorResponse  "No parseable lines / object unresolved"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests/preview [post]
func (h *Handlers) Preview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	res, err := h.svc.BuildPreview(c.Request.Context(), services.PreviewInput{
		Text:          req.Text,
		Scope:         requestScope(c),
		RequesterID:   userID(c),
		RequesterName: strings.TrimSpace(req.RequesterName),
	})
	if err != nil {
		var noLines *services.NoLinesError
		switch {
		case errors.Is(err, services.ErrTextTooLong):
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTextTooLong, "request text too long")
		case errors.Is(err, services.ErrEmptyRequest):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request text is empty")
		case errors.Is(err, services.ErrObjectRequired):
			fail(c, http.StatusUnprocessableEntity, ErrCodeObjectRequired,
				"start the request with a site object name or code")
		case errors.As(err, &noLines):
			msg := "no material lines recognized"
			if len(noLines.Diagnostics) > 0 {
				msg = fmt.Sprintf("%s: %s", msg, strings.Join(noLines.Diagnostics, "; "))
			}
			fail(c, http.StatusUnprocessableEntity, ErrCodeParseFailed, msg)
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusCreated, PreviewResponse{DraftID: res.DraftID, Preview: res.Preview})
}

// Confirm godoc
// @ID          confirmRequest
// @Summary     Confirm a draft
// @Description Claims the draft, assigns the daily sequence number, renders the spreadsheet, and dispatches it. Exactly one concurrent confirmation wins.
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       draft_id   path    string  true  "Draft token"
//
// @Success     200  {object}  handlers.ConfirmResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Already processed / cooldown active"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests/{draft_id}/confirm [post]
func (h *Handlers) Confirm(c *gin.Context) {
	id, valid := draftID(c)
	if !valid {
		return
	}

	res, err := h.svc.Confirm(c.Request.Context(), id, userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	resp := ConfirmResponse{Sent: res.OK, Message: res.Message}
	switch {
	case res.OK:
		ok(c, http.StatusOK, resp)
	case res.Retryable:
		resp.Retryable = true
		resp.RetryAfterSeconds = int(res.RetryAfter.Round(time.Second).Seconds())
		c.Header("Retry-After", fmt.Sprintf("%d", resp.RetryAfterSeconds))
		c.JSON(http.StatusConflict, resp)
	default:
		c.JSON(http.StatusConflict, resp)
	}
}

// Cancel godoc
// @ID          cancelRequest
// @Summary     Cancel a draft
// @Description Aborts a draft owned by the caller. Requests that already left the draft state are reported, not mutated.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       draft_id   path    string  true  "Draft token"
//
// @Success     200  {object}  handlers.CancelResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests/{draft_id}/cancel [post]
func (h *Handlers) Cancel(c *gin.Context) {
	id, valid := draftID(c)
	if !valid {
		return
	}

	msg, err := h.svc.Cancel(c.Request.Context(), id, userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, CancelResponse{Message: msg})
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Inspect a request
// @Description Returns the full request (status, number, items) to its owner.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       draft_id   path    string  true  "Draft token"
//
// @Success     200  {object}  domain.MaterialRequest
// @Failure     403  {object}  handlers.ErrorResponse  "Not the owner"
// @Failure     404  {object}  handlers.ErrorResponse  "Draft not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests/{draft_id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	id, valid := draftID(c)
	if !valid {
		return
	}

	req, err := h.svc.Get(c.Request.Context(), id, userID(c))
	switch {
	case errors.Is(err, services.ErrDraftNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "draft not found")
	case errors.Is(err, services.ErrNotOwner):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "request belongs to another user")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		ok(c, http.StatusOK, req)
	}
}

// ListRequests godoc
// @ID          listRequests
// @Summary     List requests (paginated)
// @Description Returns a page of the scope's requests, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       X-Chat-ID      header  string  false "Shared scope id; omit for private scope"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRequestsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	ctx := c.Request.Context()
	scope := requestScope(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, isConcrete := h.svc.(*services.MaterialsService); isConcrete {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.RequestStats(ctx, db, scope)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"requests:%s:%d:%d"`, scope.Key(), count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	// Fetch page.
	items, total, err := h.svc.ListPage(ctx, scope, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListRequestsResponse{
		Requests: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// Cooldown godoc
// @ID          cooldownStatus
// @Summary     Cooldown status
// @Description Reports whether the scope may confirm a request now and, if not, how long remains.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       X-Chat-ID  header  string  false "Shared scope id; omit for private scope"
//
// @Success     200  {object}  handlers.CooldownResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /cooldown [get]
func (h *Handlers) Cooldown(c *gin.Context) {
	allowed, remaining, err := h.svc.CheckCooldown(c.Request.Context(), requestScope(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	resp := CooldownResponse{Allowed: allowed}
	if !allowed {
		resp.RetryAfterSeconds = int(remaining.Round(time.Second).Seconds())
	}
	ok(c, http.StatusOK, resp)
}
