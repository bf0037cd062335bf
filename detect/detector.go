// Package detect dispatches log records against a compiled set of rules.
package detect

import (
	"context"

	"github.com/fukusuket/macos-log-dfir/record"
	"github.com/fukusuket/macos-log-dfir/rule"
)

// RuleSet is an ordered collection of compiled rules. Order is preserved
// from load time and determines the order Detections are reported in for
// a given record.
type RuleSet struct {
	Rules []*rule.Rule
}

// Detection is one rule matching one record.
type Detection struct {
	Rule   *rule.Rule
	Record record.LogRecord
}

// Detector evaluates a RuleSet against a stream of records.
type Detector struct {
	Rules RuleSet
}

// NewDetector builds a Detector over rules, preserving their given order.
func NewDetector(rules []*rule.Rule) *Detector {
	return &Detector{Rules: RuleSet{Rules: rules}}
}

// Detect evaluates every rule against rec, in RuleSet order, returning one
// Detection per matching rule. ctx is checked only for cancellation; no
// rule evaluation itself blocks or suspends (SPEC_FULL.md §5).
func (d *Detector) Detect(ctx context.Context, rec record.LogRecord) []Detection {
	var out []Detection
	for _, r := range d.Rules.Rules {
		select {
		case <-ctx.Done():
			return out
		default:
		}
		if r.Evaluate(rec) {
			out = append(out, Detection{Rule: r, Record: rec})
		}
	}
	return out
}

// DetectAll evaluates every rule against every record from records, in
// record-arrival order, and returns all detections produced before ctx is
// cancelled or records closes.
func (d *Detector) DetectAll(ctx context.Context, records <-chan record.LogRecord) []Detection {
	var out []Detection
	for rec := range records {
		select {
		case <-ctx.Done():
			return out
		default:
		}
		out = append(out, d.Detect(ctx, rec)...)
	}
	return out
}
