package rule

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fukusuket/macos-log-dfir/record"
)

// Node is one node of a compiled selection tree: And/All/Or/Not combine
// child nodes, Ref points at a named selection compiled elsewhere in the
// same rule, and Leaf evaluates a single field Matcher against a record.
type Node interface {
	Evaluate(rec record.LogRecord) bool
}

// And requires every child to match.
type And struct{ Children []Node }

func (n *And) Evaluate(rec record.LogRecord) bool {
	for _, c := range n.Children {
		if !c.Evaluate(rec) {
			return false
		}
	}
	return true
}

// All is semantically identical to And; kept distinct so a tree built from
// a `|all` YAML array is traceable back to that syntax (see DESIGN.md open
// question #1).
type All struct{ Children []Node }

func (n *All) Evaluate(rec record.LogRecord) bool {
	for _, c := range n.Children {
		if !c.Evaluate(rec) {
			return false
		}
	}
	return true
}

// Or requires at least one child to match.
type Or struct{ Children []Node }

func (n *Or) Evaluate(rec record.LogRecord) bool {
	for _, c := range n.Children {
		if c.Evaluate(rec) {
			return true
		}
	}
	return false
}

// Not inverts its single child.
type Not struct{ Child Node }

func (n *Not) Evaluate(rec record.LogRecord) bool {
	return !n.Child.Evaluate(rec)
}

// Ref points at another selection's already-compiled tree, shared by a
// plain Go pointer rather than an atomically reference-counted handle —
// trees are read-only once compiled (see SPEC_FULL.md §5).
type Ref struct {
	Name   string
	Target Node
}

func (n *Ref) Evaluate(rec record.LogRecord) bool {
	return n.Target.Evaluate(rec)
}

// Leaf evaluates one field Matcher against the record.
type Leaf struct {
	Matcher *Matcher
}

func (n *Leaf) Evaluate(rec record.LogRecord) bool {
	name := n.Matcher.FieldName()
	if name == "" {
		// Grep mode: a selection with no field name (a bare scalar, or a
		// bare `|all` key) searches the record's free-text representation
		// rather than one named field; raw_message is that field here.
		value, ok := rec.Field("raw_message")
		return n.Matcher.Match(value, ok, rec)
	}
	value, ok := rec.Field(name)
	return n.Matcher.Match(value, ok, rec)
}

// buildSelection compiles one selection's YAML value into a Node, following
// the mapping/sequence/scalar dispatch of the original rulenode.rs:
//   - a mapping is an And over each key's recursively-built child, with the
//     key appended to keyList for that child;
//   - a sequence whose parent key ends in "|all" (but isn't exactly "|all")
//     is an And over its elements, keyList unchanged;
//   - a sequence whose parent key is exactly "|all" is an All over its
//     elements, keyList unchanged;
//   - any other sequence is an Or over its elements, keyList unchanged;
//   - anything else (a scalar, or null) is a Leaf.
func buildSelection(keyList []string, value *yaml.Node) (Node, []string) {
	switch value.Kind {
	case yaml.MappingNode:
		var children []Node
		var errs []string
		for i := 0; i+1 < len(value.Content); i += 2 {
			key := value.Content[i].Value
			child, childErrs := buildSelection(append(append([]string(nil), keyList...), key), value.Content[i+1])
			if len(childErrs) > 0 {
				errs = append(errs, childErrs...)
				continue
			}
			children = append(children, child)
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return &And{Children: children}, nil

	case yaml.SequenceNode:
		switch {
		case len(keyList) > 0 && keyList[0] == "|all":
			return buildSequence(func(cs []Node) Node { return &All{Children: cs} }, keyList, value)
		case len(keyList) > 0 && strings.HasSuffix(keyList[0], "|all"):
			return buildSequence(func(cs []Node) Node { return &And{Children: cs} }, keyList, value)
		default:
			return buildSequence(func(cs []Node) Node { return &Or{Children: cs} }, keyList, value)
		}

	default:
		m, errs := NewMatcher(keyList, value)
		if len(errs) > 0 {
			return nil, errs
		}
		return &Leaf{Matcher: m}, nil
	}
}

func buildSequence(wrap func([]Node) Node, keyList []string, value *yaml.Node) (Node, []string) {
	var children []Node
	var errs []string
	for _, item := range value.Content {
		child, childErrs := buildSelection(keyList, item)
		if len(childErrs) > 0 {
			errs = append(errs, childErrs...)
			continue
		}
		children = append(children, child)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return wrap(children), nil
}

// BuildSelection compiles a named selection's top-level YAML value.
func BuildSelection(name string, value *yaml.Node) (Node, []string) {
	tree, errs := buildSelection(nil, value)
	if len(errs) > 0 {
		wrapped := make([]string, len(errs))
		for i, e := range errs {
			wrapped[i] = errors.Wrapf(errors.New(e), "selection %q", name).Error()
		}
		return nil, wrapped
	}
	return tree, nil
}
