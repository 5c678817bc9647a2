package credits

import (
	"time"
)

// Status is a credit's lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusIssued    Status = "issued"
	StatusRetired   Status = "retired"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every credit state in lifecycle order.
var Statuses = []Status{StatusDraft, StatusPending, StatusIssued, StatusRetired, StatusCancelled}

// Metadata ties a credit to the MRV evidence behind it.
type Metadata struct {
	EvidenceDigest       string `bson:"evidence_digest" json:"evidence_digest,omitempty"`
	DataBundleURI        string `bson:"data_bundle_uri" json:"data_bundle_uri,omitempty"`
	UncertaintyClass     string `bson:"uncertainty_class" json:"uncertainty_class,omitempty"`
	VerificationStandard string `bson:"verification_standard" json:"verification_standard,omitempty"`
}

// Credit is a quantity of verified tCO2e. Amount never changes after Create.
type Credit struct {
	ID               string     `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	ProjectID        string     `gorm:"index;not null" bson:"project_id" json:"project_id"`
	Amount           float64    `gorm:"not null" bson:"amount" json:"amount"` // tCO2e
	Vintage          string     `bson:"vintage" json:"vintage"`
	Methodology      string     `bson:"methodology" json:"methodology"`
	Status           Status     `gorm:"index;not null" bson:"status" json:"status"`
	Metadata         Metadata   `gorm:"embedded;embeddedPrefix:metadata_" bson:"metadata" json:"metadata"`
	AttestationID    string     `bson:"attestation_id" json:"attestation_id,omitempty"`
	LedgerTxRef      string     `bson:"ledger_tx_ref" json:"ledger_tx_ref,omitempty"`
	TokenID          string     `bson:"token_id" json:"token_id,omitempty"`
	IssuedTo         string     `gorm:"index" bson:"issued_to" json:"issued_to,omitempty"`
	IssuedAt         *time.Time `bson:"issued_at" json:"issued_at,omitempty"`
	RetiredBy        string     `bson:"retired_by" json:"retired_by,omitempty"`
	RetiredAt        *time.Time `bson:"retired_at" json:"retired_at,omitempty"`
	RetirementReason string     `bson:"retirement_reason" json:"retirement_reason,omitempty"`
	CancelledAt      *time.Time `bson:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedBy        string     `bson:"created_by" json:"created_by"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at" json:"updated_at"`
}

// Update describes one lifecycle transition. It carries no amount: stores
// write only the fields listed here.
type Update struct {
	To               Status
	At               time.Time
	IssuedTo         string
	LedgerTxRef      string
	TokenID          string
	RetiredBy        string
	RetirementReason string
}

// Fields returns the column/document fields written for the update, keyed
// by their snake_case storage name.
func (u Update) Fields() map[string]any {
	fields := map[string]any{
		"status":     u.To,
		"updated_at": u.At,
	}
	switch u.To {
	case StatusIssued:
		fields["issued_to"] = u.IssuedTo
		fields["issued_at"] = u.At
		if u.LedgerTxRef != "" {
			fields["ledger_tx_ref"] = u.LedgerTxRef
		}
		if u.TokenID != "" {
			fields["token_id"] = u.TokenID
		}
	case StatusRetired:
		fields["retired_by"] = u.RetiredBy
		fields["retired_at"] = u.At
		fields["retirement_reason"] = u.RetirementReason
	case StatusCancelled:
		fields["cancelled_at"] = u.At
	}
	return fields
}

// Apply writes the update onto c in memory.
func (u Update) Apply(c *Credit) {
	at := u.At
	c.Status = u.To
	c.UpdatedAt = at
	switch u.To {
	case StatusIssued:
		c.IssuedTo = u.IssuedTo
		c.IssuedAt = &at
		if u.LedgerTxRef != "" {
			c.LedgerTxRef = u.LedgerTxRef
		}
		if u.TokenID != "" {
			c.TokenID = u.TokenID
		}
	case StatusRetired:
		c.RetiredBy = u.RetiredBy
		c.RetiredAt = &at
		c.RetirementReason = u.RetirementReason
	case StatusCancelled:
		c.CancelledAt = &at
	}
}

// Filter narrows List results. Zero fields match everything; a non-nil
// empty ProjectIDs matches nothing.
type Filter struct {
	ProjectID  string
	ProjectIDs []string
	Status     Status
	IssuedTo   string
}

// StatusTotals is the count and amount held in one state.
type StatusTotals struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// Summary aggregates a set of credits by state.
type Summary struct {
	ProjectID      string                  `json:"project_id,omitempty"`
	TotalCredits   int                     `json:"total_credits"`
	TotalAmount    float64                 `json:"total_amount"`
	IssuedCredits  int                     `json:"issued_credits"`
	IssuedAmount   float64                 `json:"issued_amount"`
	RetiredCredits int                     `json:"retired_credits"`
	RetiredAmount  float64                 `json:"retired_amount"`
	PendingCredits int                     `json:"pending_credits"`
	ByStatus       map[Status]StatusTotals `json:"by_status"`
	GeneratedAt    time.Time               `json:"generated_at"`
}

type CreateRequest struct {
	ProjectID     string   `json:"project_id" binding:"required"`
	Amount        float64  `json:"amount"`
	Vintage       string   `json:"vintage"`
	Methodology   string   `json:"methodology"`
	Status        Status   `json:"status"`
	Metadata      Metadata `json:"metadata"`
	AttestationID string   `json:"attestation_id"`
}

type IssueRequest struct {
	Recipient   string `json:"recipient"`
	LedgerTxRef string `json:"ledger_tx_ref"`
	TokenID     string `json:"token_id"`
}

type RetireRequest struct {
	Reason string `json:"reason"`
}
