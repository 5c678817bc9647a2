package fielddata

import (
	"time"

	"carbon-scribe/mrv-registry/internal/scoring"
)

// Location is a GPS fix for a sampling plot.
type Location struct {
	Lat      float64 `bson:"lat" json:"lat"`
	Lng      float64 `bson:"lng" json:"lng"`
	Accuracy float64 `bson:"accuracy,omitempty" json:"accuracy,omitempty"`
}

// ImageEvidence is one archived image and the oracle's verdict on it.
type ImageEvidence struct {
	Ref         string         `bson:"ref" json:"ref"`
	Filename    string         `bson:"filename" json:"filename"`
	ContentType string         `bson:"content_type" json:"content_type"`
	Size        int64          `bson:"size" json:"size"`
	URI         string         `bson:"uri,omitempty" json:"uri,omitempty"`
	Analysis    scoring.Result `bson:"analysis" json:"analysis"`
	ScoredAt    time.Time      `bson:"scored_at" json:"scored_at"`
}

// Evidence is the bundle attached to a field data entry.
type Evidence struct {
	Images           []ImageEvidence `bson:"images" json:"images"`
	CredibilityScore float64         `bson:"credibility_score" json:"credibility_score"`
	Confidence       float64         `bson:"confidence" json:"confidence"`
}

// FieldData is a ground measurement collected on a project plot.
type FieldData struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" bson:"_id" json:"id"`
	ProjectID    string     `gorm:"index;not null" bson:"project_id" json:"project_id"`
	CollectorID  string     `gorm:"index;not null" bson:"collector_id" json:"collector_id"`
	PlotID       string     `bson:"plot_id" json:"plot_id"`
	Location     Location   `gorm:"serializer:json" bson:"location" json:"location"`
	Species      string     `bson:"species" json:"species,omitempty"`
	CanopyCover  float64    `bson:"canopy_cover" json:"canopy_cover"`
	SoilType     string     `bson:"soil_type" json:"soil_type,omitempty"`
	Notes        string     `bson:"notes" json:"notes,omitempty"`
	Measurements string     `bson:"measurements" json:"measurements,omitempty"`
	Evidence     Evidence   `gorm:"serializer:json" bson:"evidence" json:"evidence"`
	Validated    bool       `gorm:"index" bson:"validated" json:"validated"`
	ValidatorID  string     `bson:"validator_id" json:"validator_id,omitempty"`
	ValidatedAt  *time.Time `bson:"validated_at" json:"validated_at,omitempty"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`
}

func (FieldData) TableName() string { return "field_data" }

// Filter narrows List results. Nil and empty fields match everything.
type Filter struct {
	ProjectID   string
	CollectorID string
	Validated   *bool
}

type CreateRequest struct {
	ProjectID    string   `json:"project_id" binding:"required"`
	PlotID       string   `json:"plot_id" binding:"required"`
	Location     Location `json:"gps_coordinates"`
	Species      string   `json:"species"`
	CanopyCover  float64  `json:"canopy_cover"`
	SoilType     string   `json:"soil_type"`
	Notes        string   `json:"notes"`
	Measurements string   `json:"measurements"`
}

// Image is an uploaded image awaiting scoring.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}
