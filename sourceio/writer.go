package sourceio

import (
	"encoding/csv"
	"io"

	"github.com/pkg/errors"

	"github.com/fukusuket/macos-log-dfir/detect"
	"github.com/fukusuket/macos-log-dfir/record"
)

// DetectionWriter writes detect.Detection values as a chronological CSV
// timeline: rule identity columns followed by every LogRecord field named
// in SPEC_FULL.md §3.
type DetectionWriter struct {
	w        *csv.Writer
	wroteHdr bool
}

// NewDetectionWriter wraps w as a CSV sink. Flush must be called when done.
func NewDetectionWriter(w io.Writer) *DetectionWriter {
	return &DetectionWriter{w: csv.NewWriter(w)}
}

func (dw *DetectionWriter) header() []string {
	cols := []string{"rule_path", "rule_title", "rule_level"}
	return append(cols, record.Fields...)
}

// Write appends one detection as a CSV row, writing the header first if
// this is the first call.
func (dw *DetectionWriter) Write(d detect.Detection) error {
	if !dw.wroteHdr {
		if err := dw.w.Write(dw.header()); err != nil {
			return errors.Wrap(err, "writing csv header")
		}
		dw.wroteHdr = true
	}

	row := []string{d.Rule.Path, d.Rule.Title, d.Rule.Level}
	for _, f := range record.Fields {
		v, _ := d.Record.Field(f)
		row = append(row, v)
	}
	if err := dw.w.Write(row); err != nil {
		return errors.Wrap(err, "writing csv row")
	}
	return nil
}

// Flush flushes any buffered rows and returns the first write error seen.
func (dw *DetectionWriter) Flush() error {
	dw.w.Flush()
	return errors.Wrap(dw.w.Error(), "flushing csv writer")
}
