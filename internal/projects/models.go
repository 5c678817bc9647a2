package projects

import (
	"time"

	"gorm.io/datatypes"
)

// Status is a project's position in the review lifecycle.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInReview   Status = "in_review"
	StatusMonitoring Status = "monitoring"
	StatusIssued     Status = "issued"
	StatusRejected   Status = "rejected"
)

// Project represents a carbon project
type Project struct {
	ID              string         `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	Name            string         `gorm:"not null" bson:"name" json:"name"`
	Description     string         `bson:"description" json:"description"`
	OwnerID         string         `gorm:"index;not null" bson:"owner_id" json:"owner_id"`
	Ecosystem       string         `bson:"ecosystem" json:"ecosystem"`
	Methodology     string         `bson:"methodology" json:"methodology"`
	Geometry        datatypes.JSON `bson:"geometry,omitempty" json:"geometry,omitempty"` // GeoJSON
	Area            float64        `bson:"area" json:"area"`                             // hectares
	Status          Status         `gorm:"index;not null" bson:"status" json:"status"`
	ReviewCycle     int            `bson:"review_cycle" json:"review_cycle"`
	ValidatorID     string         `bson:"validator_id" json:"validator_id,omitempty"`
	ValidationNotes string         `bson:"validation_notes" json:"validation_notes,omitempty"`
	ReviewedAt      *time.Time     `bson:"reviewed_at" json:"reviewed_at,omitempty"`
	EvidenceDigest  string         `bson:"evidence_digest" json:"evidence_digest,omitempty"`
	LedgerTxRef     string         `bson:"ledger_tx_ref" json:"ledger_tx_ref,omitempty"`
	CreatedAt       time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `bson:"updated_at" json:"updated_at"`
}

// StatusChange tracks status changes
type StatusChange struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	ProjectID   string    `gorm:"index;not null" bson:"project_id" json:"project_id"`
	From        Status    `bson:"from" json:"from"`
	To          Status    `bson:"to" json:"to"`
	ChangedBy   string    `bson:"changed_by" json:"changed_by"`
	Notes       string    `bson:"notes" json:"notes,omitempty"`
	ReviewCycle int       `bson:"review_cycle" json:"review_cycle"`
	ChangedAt   time.Time `bson:"changed_at" json:"changed_at"`
}

func (StatusChange) TableName() string { return "project_status_history" }

// Review binds the acting validator to a review decision.
type Review struct {
	ValidatorID string
	Notes       string
}

// StatusUpdate is applied only while the stored status still equals the
// expected one.
type StatusUpdate struct {
	To Status
	At time.Time
	// NewCycle increments review_cycle and clears the previous review.
	NewCycle bool
	// Review, when set, records validator, notes and reviewed_at.
	Review *Review
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	OwnerID string
	Status  Status
}

type CreateProjectRequest struct {
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description"`
	Ecosystem   string         `json:"ecosystem"`
	Methodology string         `json:"methodology"`
	Geometry    datatypes.JSON `json:"geometry"`
	Area        float64        `json:"area"`
}

// UpdateProjectRequest edits descriptors. Omitted fields keep their value.
type UpdateProjectRequest struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Ecosystem   *string        `json:"ecosystem"`
	Methodology *string        `json:"methodology"`
	Geometry    datatypes.JSON `json:"geometry"`
	Area        *float64       `json:"area"`
}

// DescriptorUpdate is the full set of editable fields written by Update.
type DescriptorUpdate struct {
	Name        string
	Description string
	Ecosystem   string
	Methodology string
	Geometry    datatypes.JSON
	Area        float64
	At          time.Time
}

// Fields returns the stored fields written by the update.
func (u DescriptorUpdate) Fields() map[string]any {
	return map[string]any{
		"name":        u.Name,
		"description": u.Description,
		"ecosystem":   u.Ecosystem,
		"methodology": u.Methodology,
		"geometry":    u.Geometry,
		"area":        u.Area,
		"updated_at":  u.At,
	}
}

// Apply writes the update onto p in memory.
func (u DescriptorUpdate) Apply(p *Project) {
	p.Name = u.Name
	p.Description = u.Description
	p.Ecosystem = u.Ecosystem
	p.Methodology = u.Methodology
	p.Geometry = append(datatypes.JSON(nil), u.Geometry...)
	p.Area = u.Area
	p.UpdatedAt = u.At
}

type ReviewRequest struct {
	Notes string `json:"notes"`
}

// Fields returns the stored fields written by the update, keyed by their
// snake_case storage name. Stores increment review_cycle themselves when
// NewCycle is set.
func (u StatusUpdate) Fields() map[string]any {
	fields := map[string]any{
		"status":     u.To,
		"updated_at": u.At,
	}
	if u.NewCycle {
		fields["validator_id"] = ""
		fields["validation_notes"] = ""
		fields["reviewed_at"] = nil
	}
	if u.Review != nil {
		fields["validator_id"] = u.Review.ValidatorID
		fields["validation_notes"] = u.Review.Notes
		fields["reviewed_at"] = u.At
	}
	return fields
}

// Apply writes the update onto p in memory.
func (u StatusUpdate) Apply(p *Project) {
	at := u.At
	p.Status = u.To
	p.UpdatedAt = at
	if u.NewCycle {
		p.ReviewCycle++
		p.ValidatorID = ""
		p.ValidationNotes = ""
		p.ReviewedAt = nil
	}
	if u.Review != nil {
		p.ValidatorID = u.Review.ValidatorID
		p.ValidationNotes = u.Review.Notes
		p.ReviewedAt = &at
	}
}
