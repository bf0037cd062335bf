package rule

import (
	"strings"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"
)

var ofSelectionPattern = regexp.MustCompile(`(all|1) of ([^*]+)\*`)
var pipeStripPattern = regexp.MustCompile(`\|.*$`)
var barewordPattern = regexp.MustCompile(`^[A-Za-z0-9_]+`)

// tokKind tags a condition token, including the pseudo-container kinds
// produced by the parenthesis/operand passes.
type tokKind int

const (
	tkLParen tokKind = iota
	tkRParen
	tkNot
	tkAnd
	tkOr
	tkRef
	tkParenC
	tkAndC
	tkOrC
	tkNotC
	tkOperandC
)

type condToken struct {
	kind     tokKind
	name     string
	children []condToken
}

func isLogical(k tokKind) bool { return k == tkAnd || k == tkOr }

// CompileCondition parses a condition string and lowers it to a Node tree,
// resolving named-selection references against selections.
func CompileCondition(condition string, selections map[string]Node, order []string) (Node, []string) {
	expanded, err := expandOfSelections(condition, order)
	if err != nil {
		return nil, []string{err.Error()}
	}
	expanded = pipeStripPattern.ReplaceAllString(expanded, "")

	tokens, err := tokenize(expanded)
	if err != nil {
		return nil, []string{err.Error()}
	}

	paren, err := parseParenthesis(tokens)
	if err != nil {
		return nil, []string{err.Error()}
	}

	tree, errs := parseAndOrOperator(paren)
	if len(errs) > 0 {
		return nil, errs
	}

	node, errs := toNode(tree, selections)
	if len(errs) > 0 {
		return nil, errs
	}
	return node, nil
}

// expandOfSelections rewrites "all of PREFIX*" / "1 of PREFIX*" into a
// parenthesised and/or of every selection name starting with PREFIX, in
// the YAML declaration order given by `order`.
func expandOfSelections(condition string, order []string) (string, error) {
	var outerErr error
	result := ofSelectionPattern.ReplaceAllStringFunc(condition, func(match string) string {
		sub := ofSelectionPattern.FindStringSubmatch(match)
		kind, prefix := sub[1], sub[2]

		var names []string
		for _, name := range order {
			if strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			outerErr = errors.Errorf("%s is not defined.", prefix)
			return match
		}

		joiner := " or "
		if kind == "all" {
			joiner = " and "
		}
		return "(" + strings.Join(names, joiner) + ")"
	})
	if outerErr != nil {
		return "", outerErr
	}
	return result, nil
}

func tokenize(condition string) ([]condToken, error) {
	var tokens []condToken
	i := 0
	for i < len(condition) {
		c := condition[i]
		switch {
		case c == ' ':
			i++
		case c == '(':
			tokens = append(tokens, condToken{kind: tkLParen})
			i++
		case c == ')':
			tokens = append(tokens, condToken{kind: tkRParen})
			i++
		default:
			word := barewordPattern.FindString(condition[i:])
			if word == "" {
				return nil, errors.Errorf("An unusable character was found. character:%c", c)
			}
			switch word {
			case "not":
				tokens = append(tokens, condToken{kind: tkNot})
			case "and":
				tokens = append(tokens, condToken{kind: tkAnd})
			case "or":
				tokens = append(tokens, condToken{kind: tkOr})
			default:
				tokens = append(tokens, condToken{kind: tkRef, name: word})
			}
			i += len(word)
		}
	}
	return tokens, nil
}

// parseParenthesis pairs parentheses into tkParenC containers.
func parseParenthesis(tokens []condToken) ([]condToken, error) {
	var stack [][]condToken
	cur := []condToken{}

	for _, t := range tokens {
		switch t.kind {
		case tkLParen:
			stack = append(stack, cur)
			cur = []condToken{}
		case tkRParen:
			if len(stack) == 0 {
				return nil, errors.New("'(' was expected but not found.")
			}
			parent := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			parent = append(parent, condToken{kind: tkParenC, children: cur})
			cur = parent
		default:
			cur = append(cur, t)
		}
	}
	if len(stack) != 0 {
		return nil, errors.New("')' was expected but not found.")
	}
	return cur, nil
}

// toOperandContainer groups consecutive non-and/or tokens into tkOperandC
// containers, leaving tkAnd/tkOr tokens standing alone between them.
func toOperandContainer(tokens []condToken) []condToken {
	var out []condToken
	var cur []condToken
	flush := func() {
		if len(cur) > 0 {
			out = append(out, condToken{kind: tkOperandC, children: cur})
			cur = nil
		}
	}
	for _, t := range tokens {
		if isLogical(t.kind) {
			flush()
			out = append(out, t)
		} else {
			cur = append(cur, t)
		}
	}
	flush()
	return out
}

// parseAndOrOperator validates operand/operator alternation, then folds
// the token sequence into a tree with "and" binding tighter than "or":
// runs connected by "and" become tkAndC containers, and those containers
// are then combined by "or" into a top-level tkOrC (or returned bare if
// there was only one and-run).
func parseAndOrOperator(tokens []condToken) (condToken, []string) {
	grouped := toOperandContainer(tokens)

	if len(grouped) == 0 {
		return condToken{}, []string{"There is no condition node under detection."}
	}
	if isLogical(grouped[0].kind) || isLogical(grouped[len(grouped)-1].kind) {
		return condToken{}, []string{"An illegal logical operator was found."}
	}
	for i, t := range grouped {
		wantLogical := i%2 == 1
		if isLogical(t.kind) != wantLogical {
			return condToken{}, []string{"The use of a logical operator was wrong."}
		}
	}

	var orGroups [][]condToken
	var curAnd []condToken
	curAnd = append(curAnd, grouped[0])
	for i := 1; i < len(grouped); i += 2 {
		op := grouped[i]
		operand := grouped[i+1]
		if op.kind == tkAnd {
			curAnd = append(curAnd, operand)
		} else {
			orGroups = append(orGroups, curAnd)
			curAnd = []condToken{operand}
		}
	}
	orGroups = append(orGroups, curAnd)

	var orChildren []condToken
	for _, andRun := range orGroups {
		resolvedRun, errs := resolveOperands(andRun)
		if len(errs) > 0 {
			return condToken{}, errs
		}
		if len(resolvedRun) == 1 {
			orChildren = append(orChildren, resolvedRun[0])
		} else {
			orChildren = append(orChildren, condToken{kind: tkAndC, children: resolvedRun})
		}
	}
	if len(orChildren) == 1 {
		return orChildren[0], nil
	}
	return condToken{kind: tkOrC, children: orChildren}, nil
}

// resolveOperands resolves each tkOperandC in an and-run to a concrete
// token: a bare Ref/ParenC passes through, a [not, X] pair becomes a
// tkNotC, anything else is an error.
func resolveOperands(tokens []condToken) ([]condToken, []string) {
	var out []condToken
	var errs []string
	for _, t := range tokens {
		if t.kind != tkOperandC {
			out = append(out, t)
			continue
		}
		resolved, err := resolveOperandContainer(t.children)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		out = append(out, resolved)
	}
	return out, errs
}

func resolveOperandContainer(children []condToken) (condToken, error) {
	switch len(children) {
	case 1:
		return resolveSingle(children[0])
	case 2:
		if children[0].kind != tkNot {
			return condToken{}, errors.New("The use of a logical operator was wrong.")
		}
		inner, err := resolveSingle(children[1])
		if err != nil {
			return condToken{}, err
		}
		return condToken{kind: tkNotC, children: []condToken{inner}}, nil
	default:
		if children[0].kind == tkNot {
			return condToken{}, errors.New("Not is continuous.")
		}
		return condToken{}, errors.New("Multiple selection names cannot be used in one operand.")
	}
}

func resolveSingle(t condToken) (condToken, error) {
	switch t.kind {
	case tkRef:
		return t, nil
	case tkParenC:
		resolved, errs := parseAndOrOperator(t.children)
		if len(errs) > 0 {
			return condToken{}, errors.New(strings.Join(errs, "; "))
		}
		return resolved, nil
	case tkNot:
		return condToken{}, errors.New("An illegal not was found.")
	default:
		return condToken{}, errors.New("The use of a logical operator was wrong.")
	}
}

// toNode lowers a resolved condition token tree into a Node tree, resolving
// tkRef tokens against the named selections.
func toNode(t condToken, selections map[string]Node) (Node, []string) {
	switch t.kind {
	case tkRef:
		target, ok := selections[t.name]
		if !ok {
			return nil, []string{t.name + " is not defined."}
		}
		return &Ref{Name: t.name, Target: target}, nil
	case tkAndC:
		var children []Node
		var errs []string
		for _, c := range t.children {
			n, e := toNode(c, selections)
			if len(e) > 0 {
				errs = append(errs, e...)
				continue
			}
			children = append(children, n)
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return &And{Children: children}, nil
	case tkOrC:
		var children []Node
		var errs []string
		for _, c := range t.children {
			n, e := toNode(c, selections)
			if len(e) > 0 {
				errs = append(errs, e...)
				continue
			}
			children = append(children, n)
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return &Or{Children: children}, nil
	case tkNotC:
		n, errs := toNode(t.children[0], selections)
		if len(errs) > 0 {
			return nil, errs
		}
		return &Not{Child: n}, nil
	case tkParenC:
		resolved, errs := parseAndOrOperator(t.children)
		if len(errs) > 0 {
			return nil, errs
		}
		return toNode(resolved, selections)
	default:
		return nil, []string{"The use of a logical operator was wrong."}
	}
}
