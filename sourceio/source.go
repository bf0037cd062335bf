// Package sourceio provides the external-collaborator stand-ins named in
// SPEC_FULL.md §6: a record source and a detection sink. The real
// tracev3/dsc/timesync/uuidtext reconciliation pipeline is out of scope
// (SPEC_FULL.md §1); JSONLSource is a fixture reader filling that role for
// tests and the CLI.
package sourceio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/fukusuket/macos-log-dfir/record"
)

// LogSource streams records until exhausted or ctx is cancelled, reporting
// terminal errors on the error channel. Both channels are closed when the
// source is done.
type LogSource interface {
	Records(ctx context.Context) (<-chan record.LogRecord, <-chan error)
}

// JSONLSource reads one record.MapRecord per line of newline-delimited
// JSON from r.
type JSONLSource struct {
	r io.Reader
}

// NewJSONLSource wraps r as a LogSource.
func NewJSONLSource(r io.Reader) *JSONLSource {
	return &JSONLSource{r: r}
}

// Records implements LogSource.
func (s *JSONLSource) Records(ctx context.Context) (<-chan record.LogRecord, <-chan error) {
	records := make(chan record.LogRecord)
	errs := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errs)

		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			select {
			case <-ctx.Done():
				return
			default:
			}

			text := scanner.Bytes()
			if len(text) == 0 {
				continue
			}
			var rec record.MapRecord
			if err := json.Unmarshal(text, &rec); err != nil {
				errs <- errors.Wrapf(err, "jsonl line %d", line)
				return
			}
			select {
			case records <- rec:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- errors.Wrap(err, "reading jsonl source")
		}
	}()

	return records, errs
}
