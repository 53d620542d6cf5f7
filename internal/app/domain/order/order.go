// Package order defines the customer order aggregate and its lifecycle.
package order

import (
	"errors"
	"fmt"
	"time"
)

// LifecycleStatus is the state an order occupies in the generation lifecycle.
type LifecycleStatus string

const (
	StatusPendingPayment   LifecycleStatus = "pending_payment"
	StatusPaymentConfirmed LifecycleStatus = "payment_confirmed"
	StatusGenerating       LifecycleStatus = "generating"
	StatusReviewRequired   LifecycleStatus = "review_required"
	StatusApproved         LifecycleStatus = "approved"
	StatusCompleted        LifecycleStatus = "completed"
	StatusFailed           LifecycleStatus = "failed"
	StatusRefunded         LifecycleStatus = "refunded"
)

// PaymentStatus tracks the state of the order's payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// WhitelistStatus is the compliance review disposition.
type WhitelistStatus string

const (
	WhitelistPending  WhitelistStatus = "pending"
	WhitelistApproved WhitelistStatus = "approved"
	WhitelistRejected WhitelistStatus = "rejected"
)

// ProductType identifies what the customer ordered.
type ProductType string

const (
	ProductAppOnly   ProductType = "app-only"
	ProductTokenOnly ProductType = "token-only"
	ProductBundle    ProductType = "bundle"
)

// ServiceTier orders the available tiers from cheapest to most expensive.
type ServiceTier string

const (
	TierStarter      ServiceTier = "starter"
	TierProfessional ServiceTier = "professional"
	TierEnterprise   ServiceTier = "enterprise"
)

// FlagSeverity grades a compliance finding.
type FlagSeverity string

const (
	SeverityLow    FlagSeverity = "low"
	SeverityMedium FlagSeverity = "medium"
	SeverityHigh   FlagSeverity = "high"
)

var (
	// ErrConflict signals an operation invoked against an order in the
	// wrong lifecycle state, or a racing update that lost a conditional
	// write. The order is left unchanged.
	ErrConflict = errors.New("order state conflict")

	// ErrNotFound signals the order does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrValidation signals malformed caller input.
	ErrValidation = errors.New("invalid request")
)

// validTransitions is the closed set of allowed lifecycle moves. Terminal
// states map to nil, except that StatusFailed may still move to
// StatusRefunded; the refund path to StatusRefunded is handled separately.
var validTransitions = map[LifecycleStatus][]LifecycleStatus{
	StatusPendingPayment:   {StatusPaymentConfirmed, StatusFailed},
	StatusPaymentConfirmed: {StatusGenerating, StatusFailed},
	StatusGenerating:       {StatusReviewRequired, StatusApproved, StatusFailed},
	StatusReviewRequired:   {StatusApproved, StatusFailed},
	StatusApproved:         {StatusCompleted, StatusFailed},
	StatusCompleted:        nil,
	StatusFailed:           {StatusRefunded},
	StatusRefunded:         nil,
}

// CanTransition reports whether moving from one lifecycle status to another
// is legal. StatusRefunded is reachable from every state except the delivered
// and already-refunded terminals: a failed order with a settled payment still
// gets its money back. No other backward move is permitted.
func CanTransition(from, to LifecycleStatus) bool {
	if to == StatusRefunded {
		return from != StatusCompleted && from != StatusRefunded
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is absorbing.
func (s LifecycleStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRefunded
}

// Valid reports whether the status is a member of the closed set.
func (s LifecycleStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// ProjectSpec describes what the generator should produce.
type ProjectSpec struct {
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	ProductType  ProductType `json:"product_type"`
	Tier         ServiceTier `json:"tier"`
	ContactEmail string      `json:"contact_email,omitempty"`
}

// Validate checks the spec fields against the closed enumerations.
func (p ProjectSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: project name is required", ErrValidation)
	}
	switch p.ProductType {
	case ProductAppOnly, ProductTokenOnly, ProductBundle:
	default:
		return fmt.Errorf("%w: unknown product type %q", ErrValidation, p.ProductType)
	}
	switch p.Tier {
	case TierStarter, TierProfessional, TierEnterprise:
	default:
		return fmt.Errorf("%w: unknown service tier %q", ErrValidation, p.Tier)
	}
	return nil
}

// Payment records the expected and observed payment for an order.
type Payment struct {
	Amount            int64         `json:"amount"` // lamports
	Currency          string        `json:"currency"`
	ExternalReference string        `json:"external_reference,omitempty"`
	Status            PaymentStatus `json:"status"`
	Confirmations     int64         `json:"confirmations"`
}

// ArtifactFile is the per-file metadata retained on the order record. File
// contents live only in the packaged archive.
type ArtifactFile struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Lines    int    `json:"lines"`
}

// Artifact summarises a successful generation.
type Artifact struct {
	Files      []ArtifactFile `json:"files"`
	Manifest   string         `json:"manifest,omitempty"`
	Readme     string         `json:"readme,omitempty"`
	TotalFiles int            `json:"total_files"`
	TotalLines int            `json:"total_lines"`
	TokensUsed int            `json:"tokens_used"`
}

// Flag is one compliance finding.
type Flag struct {
	Severity FlagSeverity `json:"severity"`
	Message  string       `json:"message"`
}

// Compliance holds the risk-scoring output and review disposition.
type Compliance struct {
	RiskScore       int             `json:"risk_score"`
	Flags           []Flag          `json:"flags,omitempty"`
	WhitelistStatus WhitelistStatus `json:"whitelist_status,omitempty"`
	Reviewer        string          `json:"reviewer,omitempty"`
	ReviewNotes     string          `json:"review_notes,omitempty"`
	ReviewedAt      time.Time       `json:"reviewed_at,omitempty"`
}

// NeedsReview applies the review decision rule: a score above 50 or any
// high-severity flag forces manual disposition.
func (c Compliance) NeedsReview() bool {
	if c.RiskScore > 50 {
		return true
	}
	for _, f := range c.Flags {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// Download gates access to the packaged archive.
type Download struct {
	Token         string    `json:"token"`
	Location      string    `json:"-"` // spool path, never exposed
	ExpiresAt     time.Time `json:"expires_at"`
	DownloadCount int       `json:"download_count"`
	MaxDownloads  int       `json:"max_downloads"`
}

// Usable reports whether a download would be permitted at the given instant.
func (d *Download) Usable(now time.Time) bool {
	return d != nil && d.DownloadCount < d.MaxDownloads && now.Before(d.ExpiresAt)
}

// Timestamps are named instants along the lifecycle. Each is set once and
// never overwritten.
type Timestamps struct {
	Created             time.Time `json:"created"`
	PaymentConfirmed    time.Time `json:"payment_confirmed,omitempty"`
	GenerationStarted   time.Time `json:"generation_started,omitempty"`
	GenerationCompleted time.Time `json:"generation_completed,omitempty"`
	Approved            time.Time `json:"approved,omitempty"`
}

func stamp(field *time.Time, now time.Time) {
	if field.IsZero() {
		*field = now
	}
}

func (t *Timestamps) StampPaymentConfirmed(now time.Time)    { stamp(&t.PaymentConfirmed, now) }
func (t *Timestamps) StampGenerationStarted(now time.Time)   { stamp(&t.GenerationStarted, now) }
func (t *Timestamps) StampGenerationCompleted(now time.Time) { stamp(&t.GenerationCompleted, now) }
func (t *Timestamps) StampApproved(now time.Time)            { stamp(&t.Approved, now) }

// AuditEntry is one line of the append-only diagnostics log.
type AuditEntry struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is the aggregate root: one record per customer submission, mutated
// only through the lifecycle services and never physically deleted.
type Order struct {
	ID         string          `json:"id"`
	PayerRef   string          `json:"payer_ref"` // wallet address or processor customer id
	Spec       ProjectSpec     `json:"spec"`
	Payment    Payment         `json:"payment"`
	Status     LifecycleStatus `json:"status"`
	Artifact   *Artifact       `json:"artifact,omitempty"`
	Compliance Compliance      `json:"compliance"`
	Download   *Download       `json:"download,omitempty"`
	Timestamps Timestamps      `json:"timestamps"`
	Audit      []AuditEntry    `json:"audit,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// AppendAudit records a diagnostics entry. Entries are never removed.
func (o *Order) AppendAudit(stage, message string, now time.Time) {
	o.Audit = append(o.Audit, AuditEntry{Stage: stage, Message: message, Timestamp: now})
}
