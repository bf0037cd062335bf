package rule

import (
	"encoding/base64"
	"net"
	"strings"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fukusuket/macos-log-dfir/record"
)

// PipeKind names a recognised `|modifier` suffix on a selection's field key.
type PipeKind int

const (
	pipeStartsWith PipeKind = iota
	pipeEndsWith
	pipeContains
	pipeRe
	pipeWildcard
	pipeBase64Offset
	pipeCidr
	pipeAll
	pipeAllOnly
)

// pipeElement is a parsed pipe modifier. Only pipeCidr carries extra data
// (the parsed network, which may be nil if the CIDR text failed to parse —
// a malformed CIDR pattern is not a compile error, it simply never matches).
type pipeElement struct {
	kind    PipeKind
	network *net.IPNet
}

func newPipeElement(name, pattern string) (pipeElement, error) {
	switch name {
	case "startswith":
		return pipeElement{kind: pipeStartsWith}, nil
	case "endswith":
		return pipeElement{kind: pipeEndsWith}, nil
	case "contains":
		return pipeElement{kind: pipeContains}, nil
	case "re":
		return pipeElement{kind: pipeRe}, nil
	case "base64offset":
		return pipeElement{kind: pipeBase64Offset}, nil
	case "cidr":
		_, network, _ := net.ParseCIDR(pattern)
		return pipeElement{kind: pipeCidr, network: network}, nil
	case "all":
		return pipeElement{kind: pipeAll}, nil
	case "allOnly":
		return pipeElement{kind: pipeAllOnly}, nil
	default:
		return pipeElement{}, errors.Errorf("An unknown pipe element was specified. key:%s", name)
	}
}

// pipePattern folds a pipe modifier's wildcard-shaping effect into pattern,
// mirroring how startswith/endswith/contains lower to a wildcarded string
// before the final Wildcard step turns it into a regex.
func (p pipeElement) pipePattern(pattern string) string {
	switch p.kind {
	case pipeStartsWith:
		return addAsteriskEnd(pattern)
	case pipeEndsWith:
		return addAsteriskBegin(pattern)
	case pipeContains:
		return addAsteriskEnd(addAsteriskBegin(pattern))
	case pipeWildcard:
		return pipePatternWildcard(pattern)
	default:
		return pattern
	}
}

func addAsteriskEnd(s string) string {
	switch {
	case strings.HasSuffix(s, "//*"):
		return s
	case strings.HasSuffix(s, "/*"):
		return s + "*"
	case strings.HasSuffix(s, "*"):
		return s
	case strings.HasSuffix(s, `\`):
		return s + `\*`
	default:
		return s + "*"
	}
}

func addAsteriskBegin(s string) string {
	switch {
	case strings.HasPrefix(s, "//*"):
		return s
	case strings.HasPrefix(s, "/*"):
		return "*" + s
	case strings.HasPrefix(s, "*"):
		return s
	default:
		return "*" + s
	}
}

// pipePatternWildcard lowers a SIGMA-style wildcard pattern into a
// case-insensitive regex: `\*`/`\?` become the literal character, `\\*`/
// `\\?` become a literal backslash followed by a wildcard, an unescaped `*`
// expands to a whitespace-and-newline-crossing "any" class, and `?` expands
// to `.`. Everything else is regex-escaped.
func pipePatternWildcard(pattern string) string {
	runes := []rune(pattern)
	n := len(runes)

	var splits []string
	var cur strings.Builder
	idx := 0
	for idx < n {
		prevIdx := idx
		for _, wc := range []rune{'*', '?'} {
			switch {
			case idx+2 < n && runes[idx] == '\\' && runes[idx+1] == '\\' && runes[idx+2] == wc:
				cur.WriteRune('\\')
				splits = append(splits, cur.String(), string(wc))
				cur.Reset()
				idx += 3
			case idx+1 < n && runes[idx] == '\\' && runes[idx+1] == wc:
				cur.WriteRune(wc)
				idx += 2
			case runes[idx] == wc:
				splits = append(splits, cur.String(), string(wc))
				cur.Reset()
				idx++
			default:
				continue
			}
			break
		}
		if prevIdx != idx {
			continue
		}
		cur.WriteRune(runes[idx])
		idx++
	}
	if cur.Len() > 0 {
		splits = append(splits, cur.String())
	}

	var out strings.Builder
	for i, s := range splits {
		if i%2 == 0 {
			out.WriteString(regexp.QuoteMeta(s))
		} else if s == "*" {
			out.WriteString(`(.|\a|\f|\t|\n|\r|\v)*`)
		} else {
			out.WriteString(".")
		}
	}
	return "(?i)" + out.String()
}

// fastMatchKind is the shape of a non-regex fast path.
type fastMatchKind int

const (
	fmExact fastMatchKind = iota
	fmStartsWith
	fmEndsWith
	fmContains
	fmAllOnly
)

type fastMatch struct {
	kind  fastMatchKind
	value string
}

// Matcher evaluates a single field predicate: a pattern plus its pipe
// modifier chain, lowered at compile time to either a fast string-op path
// or a case-insensitive full-match regex (or both, the fast path taking
// priority and the regex serving as a fallback for shapes it can't decide,
// such as a non-ASCII value under a startswith/endswith fast match).
type Matcher struct {
	fieldKeys []string
	pattern   string
	pipes     []pipeElement
	fast      []fastMatch
	re        *regexp.Regexp
}

// FieldName is the first '|'-delimited segment of the selection key: the
// record field this matcher reads.
func (m *Matcher) FieldName() string {
	if len(m.fieldKeys) == 0 {
		return ""
	}
	return strings.SplitN(m.fieldKeys[0], "|", 2)[0]
}

// NewMatcher parses fieldKeys[0]'s pipe chain and the YAML scalar value,
// returning a compiled Matcher or a non-empty list of human-readable
// compile errors.
func NewMatcher(fieldKeys []string, value *yaml.Node) (*Matcher, []string) {
	m := &Matcher{fieldKeys: append([]string(nil), fieldKeys...)}

	if value == nil || value.Tag == "!!null" {
		// A null pattern matches nothing; this is not a compile error.
		return m, nil
	}

	pattern, err := scalarToPattern(value)
	if err != nil {
		return nil, []string{err.Error()}
	}
	m.pattern = pattern

	rawKey := ""
	if len(fieldKeys) > 0 {
		rawKey = fieldKeys[0]
	}
	keysAll := strings.Split(rawKey, "|")
	if len(keysAll) == 2 && keysAll[0] == "" && keysAll[1] == "all" {
		keysAll[1] = "allOnly"
	}

	var errs []string
	for _, key := range keysAll[1:] {
		pe, err := newPipeElement(key, pattern)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		m.pipes = append(m.pipes, pe)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	switch len(m.pipes) {
	case 0:
		m.fast = convertToFastMatch(pattern, true)
	case 1:
		switch m.pipes[0].kind {
		case pipeStartsWith:
			m.fast = convertToFastMatch(pattern+"*", true)
		case pipeEndsWith:
			m.fast = convertToFastMatch("*"+pattern, true)
		case pipeContains:
			m.fast = convertToFastMatch("*"+pattern+"*", true)
		case pipeAllOnly:
			m.fast = convertToFastMatch("allOnly*"+pattern+"*", true)
		}
	case 2:
		if m.pipes[0].kind == pipeBase64Offset && m.pipes[1].kind == pipeContains {
			m.fast = base64OffsetContains(pattern)
		} else if m.pipes[0].kind == pipeContains && m.pipes[1].kind == pipeAll {
			// The |contains|all pipe degrades to a plain contains match; the
			// "all" semantics are realised by the enclosing And selection,
			// not by this matcher (see DESIGN.md open question #2).
			m.fast = convertToFastMatch("*"+pattern+"*", true)
		}
	default:
		return nil, []string{"Multiple pipe elements cannot be used."}
	}

	if len(m.fast) > 0 && (m.fast[0].kind == fmExact || m.fast[0].kind == fmContains) && len(m.fieldKeys) > 0 {
		return m, nil
	}

	hasRe := false
	for _, p := range m.pipes {
		if p.kind == pipeRe {
			hasRe = true
			break
		}
	}
	effectivePipes := m.pipes
	if !hasRe {
		effectivePipes = append(append([]pipeElement(nil), m.pipes...), pipeElement{kind: pipeWildcard})
	}

	regexPattern := pattern
	for _, p := range effectivePipes {
		regexPattern = p.pipePattern(regexPattern)
	}
	re, err := regexp.Compile(regexPattern)
	if err != nil {
		return nil, []string{"Cannot parse regex: " + regexPattern}
	}
	m.re = re

	return m, nil
}

func scalarToPattern(value *yaml.Node) (string, error) {
	if value.Kind != yaml.ScalarNode {
		return "", errors.New("An unknown error occurred while parsing a selection value.")
	}
	return value.Value, nil
}

// convertToFastMatch derives a cheap substring check from a wildcard
// pattern where possible: patterns with `?`, non-ASCII text alongside `*`,
// or an interior `*` are left for the regex path (nil return).
func convertToFastMatch(s string, ignoreCase bool) []fastMatch {
	wildcardCount := strings.Count(s, "*")
	isLiteralAsterisk := strings.HasSuffix(s, `\*`) && !strings.HasSuffix(s, `\\*`)

	if strings.Contains(s, "?") || strings.HasSuffix(s, `\\\*`) || (!isASCII(s) && strings.Contains(s, "*")) {
		return nil
	}

	unescape := func(s string) string { return strings.ReplaceAll(s, `\\`, `\`) }

	switch {
	case strings.HasPrefix(s, "allOnly*") && strings.HasSuffix(s, "*") && wildcardCount == 2:
		removed := unescape(s[8 : len(s)-1])
		if ignoreCase {
			removed = strings.ToLower(removed)
		}
		return []fastMatch{{kind: fmAllOnly, value: removed}}

	case strings.HasPrefix(s, "*") && strings.HasSuffix(s, "*") && wildcardCount == 2 && !isLiteralAsterisk:
		removed := unescape(s[1 : len(s)-1])
		if ignoreCase {
			removed = strings.ToLower(removed)
		}
		return []fastMatch{{kind: fmContains, value: removed}}

	case strings.HasPrefix(s, "*") && wildcardCount == 1 && !isLiteralAsterisk:
		return []fastMatch{{kind: fmEndsWith, value: unescape(s[1:])}}

	case strings.HasSuffix(s, "*") && wildcardCount == 1 && !isLiteralAsterisk:
		return []fastMatch{{kind: fmStartsWith, value: unescape(s[:len(s)-1])}}

	case strings.Contains(s, "*"):
		return nil

	default:
		return []fastMatch{{kind: fmExact, value: unescape(s)}}
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// base64OffsetContains builds up to three Contains fast matches, one per
// byte-offset 0..2 of the base64 encoding of pattern padded with that many
// leading NUL bytes, per §4.1's base64offset+contains table.
func base64OffsetContains(pattern string) []fastMatch {
	var out []fastMatch
	patBytes := []byte(pattern)

	for i := 0; i < 3; i++ {
		target := make([]byte, i, i+len(patBytes))
		target = append(target, patBytes...)
		encoded := base64.StdEncoding.EncodeToString(target)

		padIdx := strings.IndexByte(encoded, '=')
		key := 0
		if padIdx >= 0 {
			key = padIdx % 4
		}

		var content string
		switch key {
		case 2:
			end := max0(len(encoded) - 3)
			if i == 0 {
				content = encoded[:end]
			} else if i+1 <= end {
				content = encoded[i+1 : end]
			}
		case 3:
			end := max0(len(encoded) - 2)
			if i == 0 {
				content = encoded[:end]
			} else if i+1 <= end {
				content = encoded[i+1 : end]
			}
		default:
			if i == 0 {
				content = encoded
			} else if i+1 <= len(encoded) {
				content = encoded[i+1:]
			}
		}

		out = append(out, convertToFastMatch("*"+content+"*", false)...)
	}
	return out
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Match evaluates the matcher against value (the record's field, if
// present) and the full record, per §4.1 step 1-5.
func (m *Matcher) Match(value string, present bool, rec record.LogRecord) bool {
	if len(m.pipes) > 0 && m.pipes[0].kind == pipeCidr {
		if m.pipes[0].network == nil {
			return false
		}
		ip := net.ParseIP(value)
		if ip == nil {
			return false
		}
		return m.pipes[0].network.Contains(ip)
	}

	if m.re == nil && len(m.fast) == 0 {
		return false
	}

	if len(m.fieldKeys) == 0 {
		if !present {
			return false
		}
		return m.re != nil && m.re.MatchString(value)
	}

	if !present {
		return false
	}

	if len(m.fast) == 1 {
		switch m.fast[0].kind {
		case fmExact:
			return eqIgnoreCase(value, m.fast[0].value)
		case fmStartsWith:
			if ok, known := startsWithIgnoreCase(value, m.fast[0].value); known {
				return ok
			}
		case fmEndsWith:
			if ok, known := endsWithIgnoreCase(value, m.fast[0].value); known {
				return ok
			}
		case fmContains, fmAllOnly:
			return strings.Contains(strings.ToLower(value), m.fast[0].value)
		}
	} else if len(m.fast) > 1 {
		for _, fm := range m.fast {
			if fm.kind == fmContains && strings.Contains(value, fm.value) {
				return true
			}
		}
		return false
	}

	if m.re == nil {
		return false
	}
	return isRegexFullMatch(m.re, value)
}

func eqIgnoreCase(value, pattern string) bool {
	if len(value) != len(pattern) {
		return false
	}
	return strings.EqualFold(value, pattern)
}

// startsWithIgnoreCase returns (result, known). known is false when value
// is non-ASCII, in which case the caller should fall back to the regex.
func startsWithIgnoreCase(value, pattern string) (bool, bool) {
	if len(pattern) > len(value) {
		return false, true
	}
	if !isASCII(value) {
		return false, false
	}
	return strings.EqualFold(value[:len(pattern)], pattern), true
}

func endsWithIgnoreCase(value, pattern string) (bool, bool) {
	if len(pattern) > len(value) {
		return false, true
	}
	if !isASCII(value) {
		return false, false
	}
	return strings.EqualFold(value[len(value)-len(pattern):], pattern), true
}

func isRegexFullMatch(re *regexp.Regexp, value string) bool {
	for _, loc := range re.FindAllStringIndex(value, -1) {
		if loc[0] == 0 && loc[1] == len(value) {
			return true
		}
	}
	return false
}
