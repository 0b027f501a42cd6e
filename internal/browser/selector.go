package browser

import (
	"fmt"
	"strings"

	"github.com/kuitang/aihub-e2e/internal/errs"
)

// Combinator links a step to the matches of the previous step.
type Combinator string

const (
	CombinatorNone       Combinator = ""
	CombinatorDescendant Combinator = "descendant"
	CombinatorChild      Combinator = "child"
	CombinatorSame       Combinator = "same"
)

// Step selects nodes with CSS relative to the previous step, optionally
// keeping only those whose text contains HasText.
type Step struct {
	Combinator Combinator `json:"combinator"`
	CSS        string     `json:"css"`
	HasText    string     `json:"hasText,omitempty"`
}

// Alternative is one comma-separated branch of a selector.
type Alternative struct {
	Steps []Step `json:"steps"`
}

// Plan is a parsed selector. Matches of all alternatives are merged in
// document order.
type Plan struct {
	Source       string        `json:"source"`
	Alternatives []Alternative `json:"alternatives"`
}

const hasTextPseudo = ":has-text("

// ParseSelector parses CSS extended with the :has-text("...") pseudo-class.
func ParseSelector(selector string) (Plan, error) {
	plan := Plan{Source: selector}
	parts, err := splitTopLevel(selector)
	if err != nil {
		return Plan{}, err
	}
	for _, part := range parts {
		alt, err := parseAlternative(part)
		if err != nil {
			return Plan{}, errs.ForSelector(errs.InvalidArgument, err.Error(), selector, nil)
		}
		plan.Alternatives = append(plan.Alternatives, alt)
	}
	return plan, nil
}

// NormalizeText lowercases s and collapses whitespace runs to one space.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// TextMatches reports whether content contains needle, ignoring case and
// whitespace differences.
func TextMatches(content, needle string) bool {
	return strings.Contains(NormalizeText(content), NormalizeText(needle))
}

// splitTopLevel splits on commas outside quotes, brackets and parentheses.
func splitTopLevel(selector string) ([]string, error) {
	var parts []string
	var quote rune
	depth := 0
	start := 0
	for i, r := range selector {
		switch {
		case quote != 0:
			if r == quote && !escaped(selector, i) {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			depth--
			if depth < 0 {
				return nil, errs.ForSelector(errs.InvalidArgument, "unbalanced brackets in selector", selector, nil)
			}
		case r == ',' && depth == 0:
			parts = append(parts, selector[start:i])
			start = i + 1
		}
	}
	if quote != 0 || depth != 0 {
		return nil, errs.ForSelector(errs.InvalidArgument, "unterminated selector", selector, nil)
	}
	parts = append(parts, selector[start:])
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] == "" {
			return nil, errs.ForSelector(errs.InvalidArgument, "empty selector alternative", selector, nil)
		}
	}
	return parts, nil
}

func escaped(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

func parseAlternative(alt string) (Alternative, error) {
	var out Alternative
	rest := alt
	first := true
	for {
		idx := indexTopLevel(rest, hasTextPseudo)
		if idx < 0 {
			break
		}
		comb, css, err := leadingCombinator(rest[:idx], first)
		if err != nil {
			return Alternative{}, err
		}
		text, n, err := parseQuotedArg(rest[idx+len(hasTextPseudo):])
		if err != nil {
			return Alternative{}, err
		}
		out.Steps = append(out.Steps, Step{Combinator: comb, CSS: css, HasText: text})
		rest = rest[idx+len(hasTextPseudo)+n:]
		first = false
	}
	if strings.TrimSpace(rest) != "" || first {
		comb, css, err := leadingCombinator(rest, first)
		if err != nil {
			return Alternative{}, err
		}
		out.Steps = append(out.Steps, Step{Combinator: comb, CSS: css})
	}
	return out, nil
}

// leadingCombinator classifies the text between two :has-text steps.
func leadingCombinator(segment string, first bool) (Combinator, string, error) {
	if first {
		css := strings.TrimSpace(segment)
		if css == "" {
			css = "*"
		}
		return CombinatorNone, css, nil
	}
	trimmed := strings.TrimSpace(segment)
	if trimmed == "" {
		return CombinatorSame, "*", nil
	}
	switch trimmed[0] {
	case '>':
		css := strings.TrimSpace(trimmed[1:])
		if css == "" {
			return "", "", fmt.Errorf("child combinator without selector")
		}
		return CombinatorChild, css, nil
	case '+', '~':
		return "", "", fmt.Errorf("sibling combinator %q after :has-text is not supported", trimmed[0])
	}
	if segment[0] == ' ' || segment[0] == '\t' || segment[0] == '\n' {
		return CombinatorDescendant, trimmed, nil
	}
	return CombinatorSame, trimmed, nil
}

// parseQuotedArg reads `"text")` and returns the text and bytes consumed.
func parseQuotedArg(s string) (string, int, error) {
	i := 0
	for i < len(s) && s[i] == ' ' {
		i++
	}
	if i >= len(s) || (s[i] != '"' && s[i] != '\'') {
		return "", 0, fmt.Errorf(":has-text requires a quoted argument")
	}
	quote := s[i]
	i++
	var b strings.Builder
	for ; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])
			continue
		}
		if c == quote {
			break
		}
		b.WriteByte(c)
	}
	if i >= len(s) {
		return "", 0, fmt.Errorf("unterminated :has-text argument")
	}
	i++
	for i < len(s) && s[i] == ' ' {
		i++
	}
	if i >= len(s) || s[i] != ')' {
		return "", 0, fmt.Errorf(":has-text argument must be followed by ')'")
	}
	return b.String(), i + 1, nil
}

// indexTopLevel finds needle outside quotes and brackets.
func indexTopLevel(s, needle string) int {
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote && !escaped(s, i) {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], needle):
			return i
		case c == '(':
			depth++
		case c == ')':
			depth--
		}
	}
	return -1
}
