// Package rule compiles a single Sigma-dialect detection rule — a YAML
// `detection` block of named selections plus a `condition` string — into a
// boolean selection tree that can be evaluated against a LogRecord.
package rule

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fukusuket/macos-log-dfir/record"
)

// Rule is one compiled detection rule.
type Rule struct {
	Path  string
	Title string
	Level string
	tree  Node
}

// Evaluate reports whether rec matches the rule's condition.
func (r *Rule) Evaluate(rec record.LogRecord) bool {
	return r.tree.Evaluate(rec)
}

// Compile parses a rule document (the top-level YAML mapping of one rule
// file) and compiles its `detection` block. On failure it returns a
// non-empty list of human-readable errors and a nil *Rule.
func Compile(path string, doc *yaml.Node) (*Rule, []string) {
	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, []string{"Detection node was not found."}
	}

	var title, level string
	var detection *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]
		switch key {
		case "title":
			title = val.Value
		case "level":
			level = val.Value
		case "detection":
			detection = val
		}
	}
	if detection == nil || detection.Kind != yaml.MappingNode {
		return nil, []string{"Detection node was not found."}
	}

	selections := map[string]Node{}
	var order []string
	var conditionStr string
	haveCondition := false

	for i := 0; i+1 < len(detection.Content); i += 2 {
		name := detection.Content[i].Value
		val := detection.Content[i+1]
		switch name {
		case "condition":
			conditionStr = val.Value
			haveCondition = true
			continue
		case "timeframe":
			continue
		}

		tree, errs := BuildSelection(name, val)
		if len(errs) > 0 {
			return nil, errs
		}
		selections[name] = tree
		order = append(order, name)
	}

	if len(selections) == 0 {
		return nil, []string{"There is no selection node under detection."}
	}

	if !haveCondition {
		if len(selections) == 1 {
			conditionStr = order[0]
		} else {
			return nil, []string{"There is no condition node under detection."}
		}
	}

	tree, errs := CompileCondition(conditionStr, selections, order)
	if len(errs) > 0 {
		return nil, errs
	}

	return &Rule{Path: path, Title: title, Level: level, tree: tree}, nil
}

// RuleLoadError records every compile error found in one rule file, so a
// loader can report a whole file's problems without aborting the rest of
// the directory walk.
type RuleLoadError struct {
	Path   string
	Errors []string
}

func (e *RuleLoadError) Error() string {
	return errors.Errorf("rule %s: %d error(s)", e.Path, len(e.Errors)).Error()
}
