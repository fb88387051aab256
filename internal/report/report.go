// Package report loads the generated operative report from disk and checks
// that it is an actual pdf before it goes anywhere near the wire.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"crsend/internal/desktop"
)

var ErrTooLarge = errors.New("report exceeds the transfer size limit")

// Load reads, size-checks and validates the document at path.
func Load(path string, patientLabel string, limit int) (*desktop.Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	if limit > 0 && len(raw) > limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(raw))
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadContext(bytes.NewReader(raw), conf)
	if err != nil {
		return nil, fmt.Errorf("%s is not a readable pdf: %w", path, err)
	}
	if ctx.PageCount == 0 {
		return nil, fmt.Errorf("%s has no pages", path)
	}

	return &desktop.Report{
		Data:         raw,
		Filename:     filepath.Base(path),
		PatientLabel: patientLabel,
	}, nil
}
