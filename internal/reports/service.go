// Package reports renders credit exports and retirement certificates.
package reports

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/credits"
	"carbon-scribe/mrv-registry/internal/projects"
	"carbon-scribe/mrv-registry/internal/reports/export"
)

// ExportFormat is the document type of a credit export.
type ExportFormat string

const (
	ExportFormatExcel ExportFormat = "xlsx"
	ExportFormatCSV   ExportFormat = "csv"
)

const (
	contentTypeExcel = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeCSV   = "text/csv"
	contentTypePDF   = "application/pdf"
)

// CreditReader is the part of the credit service reports read from.
type CreditReader interface {
	Get(ctx context.Context, actor auth.Actor, id string) (*credits.Credit, error)
	List(ctx context.Context, actor auth.Actor, filter credits.Filter) ([]credits.Credit, error)
	Summary(ctx context.Context, actor auth.Actor, projectID string) (*credits.Summary, error)
}

// ProjectLookup resolves the project a credit was minted on.
type ProjectLookup interface {
	Lookup(ctx context.Context, id string) (*projects.Project, error)
}

// Document is a rendered export ready to be served.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Service builds report documents
type Service struct {
	credits  CreditReader
	projects ProjectLookup
	pdf      export.PDFOptions
	logger   *zap.Logger
}

// NewService creates a new reports service
func NewService(credits CreditReader, projects ProjectLookup, logger *zap.Logger) *Service {
	return &Service{
		credits:  credits,
		projects: projects,
		pdf:      export.DefaultPDFOptions(),
		logger:   logger,
	}
}

// ExportCredits renders the credits visible to actor, optionally limited to
// one project. Authorization is the credit service's.
func (s *Service) ExportCredits(ctx context.Context, actor auth.Actor, projectID string, format ExportFormat) (*Document, error) {
	if format == "" {
		format = ExportFormatExcel
	}
	if format != ExportFormatExcel && format != ExportFormatCSV {
		return nil, apperrors.Validation("unsupported export format %q", format)
	}

	list, err := s.credits.List(ctx, actor, credits.Filter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	doc := &Document{Filename: fmt.Sprintf("credits-%s.%s", stamp, format)}
	switch format {
	case ExportFormatCSV:
		var buf bytes.Buffer
		if err := export.WriteCreditsCSV(&buf, list); err != nil {
			return nil, err
		}
		doc.ContentType, doc.Data = contentTypeCSV, buf.Bytes()
	default:
		summary := credits.Summarize(list)
		summary.ProjectID = projectID
		data, err := export.CreditSummaryWorkbook(summary, list)
		if err != nil {
			return nil, err
		}
		doc.ContentType, doc.Data = contentTypeExcel, data
	}

	s.logger.Info("Credits exported",
		zap.String("actor_id", actor.ID),
		zap.String("project_id", projectID),
		zap.String("format", string(format)),
		zap.Int("credits", len(list)))
	return doc, nil
}

// Certificate renders the retirement certificate of a retired credit the
// actor may read.
func (s *Service) Certificate(ctx context.Context, actor auth.Actor, creditID string) (*Document, error) {
	credit, err := s.credits.Get(ctx, actor, creditID)
	if err != nil {
		return nil, err
	}
	project, err := s.projects.Lookup(ctx, credit.ProjectID)
	if err != nil {
		return nil, err
	}
	data, err := export.RetirementCertificate(credit, project, s.pdf)
	if err != nil {
		return nil, err
	}
	return &Document{
		Filename:    fmt.Sprintf("retirement-%s.pdf", credit.ID),
		ContentType: contentTypePDF,
		Data:        data,
	}, nil
}
