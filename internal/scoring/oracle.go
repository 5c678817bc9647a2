// Package scoring is the boundary to the image-credibility oracle.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// ManualReview is the recommendation attached to degraded results.
const ManualReview = "Analysis failed - manual review required"

// Findings are the structured observations returned for one image.
type Findings struct {
	ImageQuality             string `bson:"image_quality" json:"image_quality"`
	VegetationDetected       bool   `bson:"vegetation_detected" json:"vegetation_detected"`
	AnomaliesDetected        bool   `bson:"anomalies_detected" json:"anomalies_detected"`
	EnvironmentalConsistency bool   `bson:"environmental_consistency" json:"environmental_consistency"`
	Error                    string `bson:"error,omitempty" json:"error,omitempty"`
}

// Result is the oracle's verdict on one image.
type Result struct {
	CredibilityScore float64  `bson:"credibility_score" json:"credibility_score"`
	Confidence       float64  `bson:"confidence" json:"confidence"`
	Findings         Findings `bson:"analysis" json:"analysis"`
	Recommendations  []string `bson:"recommendations" json:"recommendations"`
	Degraded         bool     `bson:"degraded" json:"degraded"`
}

// Oracle scores raw image bytes.
type Oracle interface {
	Score(ctx context.Context, image []byte) (Result, error)
}

// Validate checks that scores lie in [0,1].
func (r Result) Validate() error {
	if !unitInterval(r.CredibilityScore) {
		return fmt.Errorf("credibility score %v outside [0,1]", r.CredibilityScore)
	}
	if !unitInterval(r.Confidence) {
		return fmt.Errorf("confidence %v outside [0,1]", r.Confidence)
	}
	return nil
}

func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Degraded is the zero-score result recorded when scoring fails.
func Degraded(err error) Result {
	return Result{
		Findings:        Findings{Error: err.Error()},
		Recommendations: []string{ManualReview},
		Degraded:        true,
	}
}

// ScoreOrDegrade never fails: oracle errors and out-of-range scores turn
// into a degraded zero-score result.
func ScoreOrDegrade(ctx context.Context, oracle Oracle, image []byte, logger *zap.Logger) Result {
	if oracle == nil {
		return Degraded(errors.New("no scoring oracle configured"))
	}
	result, err := oracle.Score(ctx, image)
	if err == nil {
		err = result.Validate()
	}
	if err != nil {
		logger.Warn("Image scoring failed", zap.Error(err))
		return Degraded(err)
	}
	return result
}

// StaticOracle returns the same assessment for every image. It stands in
// for the CNN model until one is deployed.
type StaticOracle struct{}

func (StaticOracle) Score(ctx context.Context, image []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(image) == 0 {
		return Result{}, errors.New("empty image")
	}
	return Result{
		CredibilityScore: 0.85,
		Confidence:       0.92,
		Findings: Findings{
			ImageQuality:             "good",
			VegetationDetected:       true,
			AnomaliesDetected:        false,
			EnvironmentalConsistency: true,
		},
		Recommendations: []string{
			"Image quality is good for analysis",
			"Vegetation patterns consistent with reported ecosystem type",
		},
	}, nil
}
