// Package domain defines the persistence models for material requests, their
// line items, per-scope daily counters, cooldown entries, the site-object
// catalog, and key/value settings. These types are mapped with GORM and form
// the core data layer of the materials-request workflow engine.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Request statuses. The lifecycle is monotonic: a request leaves "draft"
// exactly once, and "sent", "cancelled", and "failed" are terminal.
//
//	draft → sending   (claim)
//	sending → draft   (cooldown rollback)
//	sending → sent
//	sending → failed
//	draft → cancelled
const (
	StatusDraft     = "draft"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Scope kinds. A shared scope ("chat") pools the daily counter and cooldown
// across all participants; a private scope ("user") keeps them per requester.
const (
	ScopeChat = "chat"
	ScopeUser = "user"
)

// Scope identifies the conversational context a request belongs to.
type Scope struct {
	Kind string // ScopeChat or ScopeUser
	ID   string
}

// Key returns the canonical single-string form used to key the daily counter.
func (s Scope) Key() string { return fmt.Sprintf("%s:%s", s.Kind, s.ID) }

// MaterialRequest represents one user-submitted batch of material lines.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - DraftID: opaque random token, the only handle exposed to callers;
//     unique index enforces collision safety.
//   - ScopeKind / ScopeID: the context the request belongs to (see Scope).
//   - RequesterID: identity of the submitting user; all mutating operations
//     verify it.
//   - ObjectID: optional reference to the resolved site object.
//   - PSLabel: short site code embedded in the request number and filename;
//     "???" when no object could be resolved in a shared scope.
//   - RequestDate: the calendar date the draft was created (counter key).
//   - Counter: per-(date, scope) sequence value; 0 until a claim assigns it.
//   - RequestNumber: derived "YYMMDD-<ps>-<counter>"; nil until assigned.
//   - Status: see the status constants above.
//   - ErrorCode / ErrorMessage: populated when Status is "failed".
type MaterialRequest struct {
	ID            string     `json:"id"             gorm:"type:char(36);primaryKey"`
	DraftID       string     `json:"draft_id"       gorm:"type:varchar(32);not null;uniqueIndex:ux_requests_draft_id"`
	ScopeKind     string     `json:"scope_kind"     gorm:"type:varchar(8);not null;index:idx_requests_scope,priority:1"`
	ScopeID       string     `json:"scope_id"       gorm:"type:varchar(64);not null;index:idx_requests_scope,priority:2"`
	RequesterID   string     `json:"requester_id"   gorm:"type:varchar(64);not null;index"`
	ObjectID      *string    `json:"object_id,omitempty" gorm:"type:char(36)"`
	PSLabel       string     `json:"ps_label"       gorm:"type:varchar(64);not null"`
	RequestDate   time.Time  `json:"request_date"   gorm:"type:date;not null;index"`
	Counter       int        `json:"counter"        gorm:"not null;default:0"`
	RequestNumber *string    `json:"request_number,omitempty" gorm:"type:varchar(128)"`
	RecipientEmail string    `json:"recipient_email" gorm:"type:varchar(256)"`
	RequesterName string     `json:"requester_name" gorm:"type:varchar(256)"`
	Status        string     `json:"status"         gorm:"type:varchar(16);not null;default:'draft';index;check:status IN ('draft','sending','sent','cancelled','failed')"`
	ErrorCode     string     `json:"error_code,omitempty"    gorm:"type:varchar(64)"`
	ErrorMessage  string     `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Items are the immutable line items, created atomically with the
	// request and cascade-deleted with it.
	Items []MaterialItem `json:"items,omitempty" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MaterialRequest.
func (MaterialRequest) TableName() string { return "material_requests" }

// Scope reconstructs the request's scope value.
func (r *MaterialRequest) Scope() Scope { return Scope{Kind: r.ScopeKind, ID: r.ScopeID} }

// Terminal reports whether the request is in a state no transition may leave.
func (r *MaterialRequest) Terminal() bool {
	switch r.Status {
	case StatusSent, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// MaterialItem is a single parsed material line belonging to a request.
// Items are written once at draft time and never mutated afterwards.
//
// Qty is an exact decimal; user-entered values like 0.156 must survive
// parsing, storage, and rendering without binary-float rounding.
type MaterialItem struct {
	ID        string          `json:"id"        gorm:"type:char(36);primaryKey"`
	RequestID string          `json:"request_id" gorm:"type:char(36);not null;index"`
	LineNo    int             `json:"line_no"   gorm:"not null"`
	Name      string          `json:"name"      gorm:"type:varchar(512);not null"`
	TypeMark  string          `json:"type_mark" gorm:"type:varchar(256)"`
	Qty       decimal.Decimal `json:"qty"       gorm:"type:decimal(12,3);not null"`
	Unit      string          `json:"unit"      gorm:"type:varchar(32);not null"`
}

// TableName returns the database table name for MaterialItem.
func (MaterialItem) TableName() string { return "material_items" }

// Display renders the item the way previews show it, e.g.
// "3. уголок г/к, 50х50х5 — 0.156 т". Integral quantities drop the fraction.
func (i MaterialItem) Display() string {
	mark := ""
	if i.TypeMark != "" {
		mark = ", " + i.TypeMark
	}
	return fmt.Sprintf("%d. %s%s — %s %s", i.LineNo, i.Name, mark, FormatQty(i.Qty), i.Unit)
}

// FormatQty renders a quantity without a fractional part when it is integral,
// and with the exact decimal digits otherwise.
func FormatQty(q decimal.Decimal) string {
	if q.IsInteger() {
		return q.Truncate(0).String()
	}
	return q.String()
}

// DailyCounter holds the last assigned sequence value for a (date, scope)
// pair. Rows are created on first increment, only ever incremented, and never
// deleted.
type DailyCounter struct {
	CounterDate time.Time `gorm:"type:date;not null;primaryKey;uniqueIndex:ux_daily_counter,priority:1"`
	Scope       string    `gorm:"type:varchar(80);not null;primaryKey;uniqueIndex:ux_daily_counter,priority:2"`
	LastCounter int       `gorm:"not null;default:0"`
}

// TableName returns the database table name for DailyCounter.
func (DailyCounter) TableName() string { return "material_daily_counters" }

// CooldownEntry records the last successful send per scope. It is upserted
// only when a request reaches "sent"; cancellations and failures never touch
// it.
type CooldownEntry struct {
	ScopeKind     string    `gorm:"type:varchar(8);not null;primaryKey;uniqueIndex:ux_cooldown_scope,priority:1"`
	ScopeID       string    `gorm:"type:varchar(64);not null;primaryKey;uniqueIndex:ux_cooldown_scope,priority:2"`
	LastRequestAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for CooldownEntry.
func (CooldownEntry) TableName() string { return "material_cooldowns" }

// SiteObject is a catalog record for a work site. The engine only reads this
// table: catalog management is an external concern. Descriptive fields feed
// the artifact's header block.
type SiteObject struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	PSLabel        string    `json:"ps_label"        gorm:"type:varchar(64);index"`
	PSName         string    `json:"ps_name"         gorm:"type:varchar(256)"`
	TitleName      string    `json:"title_name"      gorm:"type:varchar(256)"`
	Contractor     string    `json:"contractor"      gorm:"type:varchar(256)"`
	WorkType       string    `json:"work_type"       gorm:"type:varchar(256)"`
	ContractNumber string    `json:"contract_number" gorm:"type:varchar(128)"`
	WorkStart      *time.Time `json:"work_start,omitempty" gorm:"type:date"`
	WorkEnd        *time.Time `json:"work_end,omitempty"   gorm:"type:date"`
	Customer       string    `json:"customer"        gorm:"type:varchar(256)"`
	Address        string    `json:"address"         gorm:"type:varchar(512)"`
	// LinkedScope binds an object to a shared chat scope so group requests
	// resolve it implicitly. Empty for objects only reachable by search.
	LinkedScope string `json:"linked_scope,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for SiteObject.
func (SiteObject) TableName() string { return "site_objects" }

// Label returns the best human-readable name for the object.
func (o *SiteObject) Label() string {
	switch {
	case o.TitleName != "":
		return o.TitleName
	case o.PSName != "":
		return o.PSName
	default:
		return o.PSLabel
	}
}

// WorkPeriod renders "start — end" (dd.mm.yyyy), or just the start date when
// no end is set, or "" when the object carries no schedule.
func (o *SiteObject) WorkPeriod() string {
	if o.WorkStart == nil {
		return ""
	}
	start := o.WorkStart.Format("02.01.2006")
	if o.WorkEnd == nil {
		return start
	}
	return start + " — " + o.WorkEnd.Format("02.01.2006")
}

// Setting is a generic key/value row backing runtime-tunable settings such as
// the cooldown window and the default recipient address.
type Setting struct {
	Key       string    `gorm:"type:varchar(64);primaryKey"`
	Value     string    `gorm:"type:varchar(512);not null"`
	UpdatedAt time.Time
}

// TableName returns the database table name for Setting.
func (Setting) TableName() string { return "settings" }
