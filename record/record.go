// Package record defines the flat log-record shape the detection engine
// reads from. The real tracev3/dsc/timesync/uuidtext reconciliation that
// produces these records lives outside this repository; LogRecord is the
// narrow interface that collaborator is expected to satisfy.
package record

// Fields lists the named fields of a unified-log record, in the column
// order DetectionWriter uses. MapRecord.Field does not restrict lookups to
// this list: any key present in the map can be matched by a rule.
var Fields = []string{
	"time",
	"event_type",
	"log_type",
	"subsystem",
	"thread_id",
	"pid",
	"euid",
	"library",
	"library_uuid",
	"activity_id",
	"category",
	"process",
	"process_uuid",
	"message",
	"raw_message",
	"boot_uuid",
	"timezone_name",
}

// LogRecord is an immutable flat unified-log record. Lookup is by
// case-sensitive field name; Field("") is never called by the engine.
type LogRecord interface {
	Field(name string) (string, bool)
}

// MapRecord is a map-backed LogRecord used by tests, fixtures and the
// JSONL stand-in LogSource.
type MapRecord map[string]string

// Field implements LogRecord.
func (r MapRecord) Field(name string) (string, bool) {
	v, ok := r[name]
	return v, ok
}
