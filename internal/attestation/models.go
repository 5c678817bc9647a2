package attestation

import (
	"time"

	"gorm.io/datatypes"
)

// LedgerStatus tracks a record's anchoring outcome. Pending moves to one of
// the other three exactly once.
type LedgerStatus string

const (
	LedgerPending     LedgerStatus = "pending"
	LedgerConfirmed   LedgerStatus = "confirmed"
	LedgerFailed      LedgerStatus = "failed"
	LedgerUnavailable LedgerStatus = "ledger_unavailable"
)

// Terminal reports whether s is a final anchoring outcome.
func (s LedgerStatus) Terminal() bool {
	return s == LedgerConfirmed || s == LedgerFailed || s == LedgerUnavailable
}

// Record is one MRV report and its anchoring outcome. Records are
// append-only; only the ledger fields change, and only once.
type Record struct {
	ID            string         `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	ProjectID     string         `gorm:"index;not null" bson:"project_id" json:"project_id"`
	ValidatorID   string         `gorm:"not null" bson:"validator_id" json:"validator_id"`
	AnalysisData  datatypes.JSON `bson:"analysis_data" json:"analysis_data"`
	AnalyzedAt    time.Time      `bson:"analyzed_at" json:"analyzed_at"`
	Digest        string         `gorm:"index;not null" bson:"digest" json:"digest"`
	BundleURI     string         `bson:"bundle_uri" json:"bundle_uri,omitempty"`
	LedgerStatus  LedgerStatus   `gorm:"index;not null" bson:"ledger_status" json:"ledger_status"`
	LedgerTxRef   string         `bson:"ledger_tx_ref" json:"ledger_tx_ref,omitempty"`
	BlockNumber   uint64         `bson:"block_number" json:"block_number,omitempty"`
	GasUsed       uint64         `bson:"gas_used" json:"gas_used,omitempty"`
	ExplorerURL   string         `bson:"explorer_url" json:"explorer_url,omitempty"`
	AnchorMethod  string         `bson:"anchor_method" json:"anchor_method,omitempty"`
	FailureReason string         `bson:"failure_reason" json:"failure_reason,omitempty"`
	ReanchorOf    string         `bson:"reanchor_of" json:"reanchor_of,omitempty"`
	CreatedAt     time.Time      `bson:"created_at" json:"created_at"`
	ReconciledAt  *time.Time     `bson:"reconciled_at" json:"reconciled_at,omitempty"`
}

func (Record) TableName() string { return "attestations" }

// Outcome is the terminal ledger state applied by Reconcile.
type Outcome struct {
	Status      LedgerStatus `json:"ledger_status"`
	TxRef       string       `json:"ledger_tx_ref,omitempty"`
	BlockNumber uint64       `json:"block_number,omitempty"`
	GasUsed     uint64       `json:"gas_used,omitempty"`
	ExplorerURL string       `json:"explorer_url,omitempty"`
	Method      string       `json:"anchor_method,omitempty"`
	Reason      string       `json:"failure_reason,omitempty"`
}

// Fields returns the storage fields written by a reconciliation.
func (o Outcome) Fields(at time.Time) map[string]any {
	return map[string]any{
		"ledger_status":  o.Status,
		"ledger_tx_ref":  o.TxRef,
		"block_number":   o.BlockNumber,
		"gas_used":       o.GasUsed,
		"explorer_url":   o.ExplorerURL,
		"anchor_method":  o.Method,
		"failure_reason": o.Reason,
		"reconciled_at":  at,
	}
}

// Apply writes the outcome onto r in memory.
func (o Outcome) Apply(r *Record, at time.Time) {
	r.LedgerStatus = o.Status
	r.LedgerTxRef = o.TxRef
	r.BlockNumber = o.BlockNumber
	r.GasUsed = o.GasUsed
	r.ExplorerURL = o.ExplorerURL
	r.AnchorMethod = o.Method
	r.FailureReason = o.Reason
	r.ReconciledAt = &at
}

// Filter narrows List results. Zero fields match everything; a non-nil
// empty ProjectIDs matches nothing.
type Filter struct {
	ProjectID     string
	ProjectIDs    []string
	Status        LedgerStatus
	CreatedBefore time.Time
}

// Verification is the result of recomputing a record's digest.
type Verification struct {
	RecordID   string `json:"record_id"`
	Stored     string `json:"stored_digest"`
	Recomputed string `json:"recomputed_digest"`
	Match      bool   `json:"match"`
}

type SubmitRequest struct {
	ProjectID    string         `json:"project_id" binding:"required"`
	AnalysisData map[string]any `json:"analysis_data"`
}
