package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-match-api/internal/models"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
	"github.com/noah-isme/tutor-match-api/pkg/export"
)

// ExportFormat selects the rendered roster file type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type engagementLoader interface {
	Load(ctx context.Context, viewer models.Viewer, teacherID string) (*models.EngagementView, error)
}

type datasetRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	ContentType() string
}

// RosterExport is a rendered roster file.
type RosterExport struct {
	Filename    string
	ContentType string
	Body        []byte
}

var rosterHeaders = []string{"Student", "Email", "Phone", "Parent", "Subject", "Level", "Source", "Date Added", "Expiry Date", "Status"}

// ExportService renders a teacher's aggregated roster as CSV or PDF.
type ExportService struct {
	engagements engagementLoader
	renderers   map[ExportFormat]datasetRenderer
	logger      *zap.Logger
	now         func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(engagements engagementLoader, csv, pdf datasetRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		engagements: engagements,
		renderers:   map[ExportFormat]datasetRenderer{ExportFormatCSV: csv, ExportFormatPDF: pdf},
		logger:      logger,
		now:         time.Now,
	}
}

// Export loads the roster through the aggregator and renders it.
func (s *ExportService) Export(ctx context.Context, viewer models.Viewer, teacherID string, format ExportFormat) (*RosterExport, error) {
	if format == "" {
		format = ExportFormatCSV
	}
	renderer, ok := s.renderers[ExportFormat(strings.ToLower(string(format)))]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	view, err := s.engagements.Load(ctx, viewer, teacherID)
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Students of %s", teacherID)
	body, err := renderer.Render(rosterDataset(view), title)
	if err != nil {
		s.logger.Error("render roster export failed", zap.String("teacher_id", teacherID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}

	stamp := s.now().UTC().Format("20060102")
	return &RosterExport{
		Filename:    fmt.Sprintf("students_%s_%s.%s", sanitizeFilename(teacherID), stamp, strings.ToLower(string(format))),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func rosterDataset(view *models.EngagementView) export.Dataset {
	rows := make([]map[string]string, 0, len(view.Students)+len(view.RequestStudents))
	appendRow := func(e models.Engagement) {
		parent := ""
		if e.Parent != nil {
			parent = e.Parent.FullName
		}
		status := "expired"
		if e.Active {
			status = "active"
		}
		rows = append(rows, map[string]string{
			"Student":     e.Student.FullName,
			"Email":       e.Student.Email,
			"Phone":       e.Student.Phone,
			"Parent":      parent,
			"Subject":     e.Subject,
			"Level":       e.Level,
			"Source":      string(e.Source),
			"Date Added":  e.DateAdded.Format("2006-01-02"),
			"Expiry Date": e.ExpiryDate.Format("2006-01-02"),
			"Status":      status,
		})
	}
	for _, e := range view.Students {
		appendRow(e)
	}
	for _, e := range view.RequestStudents {
		appendRow(e)
	}
	return export.Dataset{Headers: rosterHeaders, Rows: rows}
}

func sanitizeFilename(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "roster"
	}
	return b.String()
}
