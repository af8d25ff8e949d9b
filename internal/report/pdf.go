// Package report renders archived diagnoses as PDF documents.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/signintech/gopdf"

	"sehha.app/diagnosis-assistant/internal/logging"
	"sehha.app/diagnosis-assistant/internal/store"
)

// ErrNoFont means none of the candidate TrueType fonts could be loaded.
var ErrNoFont = errors.New("no usable font for PDF report")

// DefaultFontPaths are tried after the configured font. DejaVu covers Latin
// and Arabic glyphs.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

const (
	fontName   = "DejaVu"
	textWidth  = 500
	pageBottom = 780
)

type Renderer struct {
	fontPaths []string
	log       *slog.Logger
}

// NewRenderer tries fontPath first when it is set.
func NewRenderer(fontPath string) *Renderer {
	paths := DefaultFontPaths
	if fontPath != "" {
		paths = append([]string{fontPath}, DefaultFontPaths...)
	}
	return &Renderer{fontPaths: paths, log: logging.New("report")}
}

// line is one block of the report body.
type line struct {
	text string
	size float64
	gap  float64
}

func summaryLines(rec *store.DiagnosisRecord) []line {
	out := []line{
		{text: "Diagnosis report", size: 20, gap: 30},
		{text: fmt.Sprintf("Date: %s", rec.CreatedAt.UTC().Format("2006-01-02 15:04 MST")), size: 11, gap: 15},
		{text: fmt.Sprintf("Report ID: %s", rec.ID), size: 11, gap: 15},
		{text: fmt.Sprintf("User: %s", rec.UserID), size: 11, gap: 25},
		{text: fmt.Sprintf("Likely diagnosis: %s (%.0f%%)", rec.Diagnosis, rec.Confidence*100), size: 14, gap: 25},
	}

	if len(rec.Details) > 0 {
		out = append(out, line{text: "Condition models:", size: 13, gap: 15})
		for _, d := range rec.Details {
			verdict := "negative"
			if d.Positive {
				verdict = "positive"
			}
			out = append(out, line{
				text: fmt.Sprintf("- %s: %.1f%% (threshold %.2f, %s)", d.Condition, d.Confidence*100, d.Threshold, verdict),
				size: 11,
				gap:  12,
			})
		}
		out[len(out)-1].gap = 20
	}

	if len(rec.Answers) > 0 {
		out = append(out, line{text: "Answers:", size: 13, gap: 15})
		names := make([]string, 0, len(rec.Answers))
		for name := range rec.Answers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, line{text: fmt.Sprintf("- %s: %g", name, rec.Answers[name]), size: 11, gap: 12})
		}
		out[len(out)-1].gap = 20
	}

	if rec.Summary != "" {
		out = append(out, line{text: "Summary:", size: 13, gap: 15}, line{text: rec.Summary, size: 11, gap: 12})
	}
	return out
}

// Render produces the PDF for one archived diagnosis.
func (r *Renderer) Render(rec *store.DiagnosisRecord) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := r.loadFont(&pdf); err != nil {
		return nil, err
	}

	for _, l := range summaryLines(rec) {
		if err := pdf.SetFont(fontName, "", l.size); err != nil {
			return nil, err
		}
		wrapped, err := pdf.SplitText(l.text, textWidth)
		if err != nil {
			wrapped = []string{l.text}
		}
		for i, w := range wrapped {
			if pdf.GetY() > pageBottom {
				pdf.AddPage()
			}
			if err := pdf.Cell(nil, w); err != nil {
				return nil, fmt.Errorf("write report line: %w", err)
			}
			if i < len(wrapped)-1 {
				pdf.Br(l.size + 2)
			}
		}
		pdf.Br(l.gap)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	r.log.Info("Rendered report", "diagnosis_id", rec.ID, "bytes", buf.Len())
	return buf.Bytes(), nil
}

func (r *Renderer) loadFont(pdf *gopdf.GoPdf) error {
	var lastErr error
	for _, path := range r.fontPaths {
		if err := pdf.AddTTFFont(fontName, path); err != nil {
			lastErr = err
			continue
		}
		r.log.Debug("Loaded report font", "path", path)
		return nil
	}
	return fmt.Errorf("%w: last error: %v", ErrNoFont, lastErr)
}

// FileName is the download name for a report.
func FileName(rec *store.DiagnosisRecord, now time.Time) string {
	if rec.ID != "" {
		return fmt.Sprintf("report_%s.pdf", rec.ID)
	}
	return fmt.Sprintf("report_%s.pdf", now.UTC().Format("20060102T150405"))
}
