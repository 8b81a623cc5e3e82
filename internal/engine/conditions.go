package engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/model"
)

// matchText evaluates the text-matching trigger condition kinds against
// a message body. A malformed regex counts as no match.
func matchText(kind model.ConditionKind, value, body string) bool {
	switch kind {
	case model.ConditionContains:
		return strings.Contains(strings.ToLower(body), strings.ToLower(value))
	case model.ConditionStartsWith:
		return strings.HasPrefix(strings.ToLower(body), strings.ToLower(value))
	case model.ConditionExact:
		return strings.EqualFold(strings.TrimSpace(body), strings.TrimSpace(value))
	case model.ConditionRegex:
		re, err := regexp.Compile(value)
		if err != nil {
			log.Warn().Err(err).Str("pattern", value).Msg("malformed trigger regex")
			return false
		}
		return re.MatchString(body)
	}
	return false
}

// window converts an (amount, unit) pair into a duration. Unknown units
// read as days, the broadest interpretation.
func window(amount int, unit string) time.Duration {
	d := time.Duration(amount)
	switch unit {
	case "seconds":
		return d * time.Second
	case "minutes":
		return d * time.Minute
	case "hours":
		return d * time.Hour
	default:
		return d * 24 * time.Hour
	}
}

// withinActiveHours reports whether t falls inside the window, in t's
// location. A To numerically before From wraps past midnight.
func withinActiveHours(hours *model.ActiveHours, t time.Time) bool {
	if hours == nil {
		return true
	}
	from, okFrom := parseClock(hours.From)
	to, okTo := parseClock(hours.To)
	if !okFrom || !okTo {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	if from <= to {
		return minute >= from && minute <= to
	}
	// Overnight range, e.g. 22:00 → 06:00.
	return minute >= from || minute <= to
}

func parseClock(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// PredicateSource selects what a condition-node predicate reads.
type PredicateSource string

const (
	PredicateContact  PredicateSource = "contact"
	PredicateTag      PredicateSource = "tag"
	PredicateVariable PredicateSource = "variable"
	PredicateMessage  PredicateSource = "message"
	PredicateSystem   PredicateSource = "system"
)

// FlowPredicate is one leaf of a condition node's predicate tree.
type FlowPredicate struct {
	Source PredicateSource `json:"source"`
	Field  string          `json:"field,omitempty"`
	Op     string          `json:"op"`
	Value  string          `json:"value,omitempty"`
}

// PredicateTree is a nested AND/OR combination of predicates.
type PredicateTree struct {
	Op         string          `json:"op,omitempty"` // "and" (default) or "or"
	Predicates []FlowPredicate `json:"predicates,omitempty"`
	Children   []PredicateTree `json:"children,omitempty"`
}

// Evaluate walks the tree. An empty tree is true.
func (t *PredicateTree) Evaluate(rc *RunContext, resolver *Resolver) bool {
	results := make([]bool, 0, len(t.Predicates)+len(t.Children))
	for _, p := range t.Predicates {
		results = append(results, p.Evaluate(rc, resolver))
	}
	for i := range t.Children {
		results = append(results, t.Children[i].Evaluate(rc, resolver))
	}
	if len(results) == 0 {
		return true
	}
	if t.Op == "or" {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// Evaluate resolves the predicate's left-hand value and compares it to
// the (template-resolved) expected value.
func (p *FlowPredicate) Evaluate(rc *RunContext, resolver *Resolver) bool {
	expected := resolver.Resolve(p.Value, rc)

	switch p.Source {
	case PredicateTag:
		has := rc.Contact.HasTag(p.Field)
		if p.Op == "not_exists" {
			return !has
		}
		return has
	case PredicateContact:
		actual, ok := rc.Contact.Field(p.Field)
		if !ok {
			return p.Op == "not_exists"
		}
		return compare(p.Op, actual, expected)
	case PredicateVariable:
		actual, ok := rc.Vars[p.Field]
		switch p.Op {
		case "exists":
			return ok
		case "not_exists":
			return !ok
		}
		if !ok {
			return false
		}
		return compare(p.Op, actual, expected)
	case PredicateMessage:
		if rc.Envelope == nil {
			return false
		}
		switch p.Field {
		case "has_media":
			return compare(p.Op, boolField(rc.Envelope.HasMedia), expected)
		case "media_type":
			return compare(p.Op, rc.Envelope.MediaType, expected)
		default:
			return compare(p.Op, rc.Envelope.Body, expected)
		}
	case PredicateSystem:
		actual := resolver.Resolve("{{"+p.Field+"}}", rc)
		return compare(p.Op, actual, expected)
	}

	log.Warn().Str("source", string(p.Source)).Msg("unknown predicate source")
	return false
}

func compare(op, actual, expected string) bool {
	switch op {
	case "", "equals":
		return strings.EqualFold(actual, expected)
	case "not_equals":
		return !strings.EqualFold(actual, expected)
	case "contains":
		return strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
	case "starts_with":
		return strings.HasPrefix(strings.ToLower(actual), strings.ToLower(expected))
	case "exists":
		return actual != ""
	case "not_exists":
		return actual == ""
	case "greater", "less":
		a, err1 := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		b, err2 := strconv.ParseFloat(strings.TrimSpace(expected), 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if op == "greater" {
			return a > b
		}
		return a < b
	}
	log.Warn().Str("op", op).Msg("unknown predicate operator")
	return false
}

func boolField(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
