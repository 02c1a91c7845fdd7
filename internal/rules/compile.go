package rules

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// CompileError reports the rule that failed validation. The index refers to
// the rule's position in the segment's ordered rule list.
type CompileError struct {
	Index int
	Rule  Rule
	Err   error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("rule %d (%s.%s %s): %v", e.Index, e.Rule.Type, e.Rule.Field, e.Rule.Operator, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// condition is one compiled single-field check. Implementations follow the
// Strategy pattern: the compiler picks the strategy from the operator and
// bakes the coerced operand into it.
//
// Absence semantics follow the document-store behavior the rule model grew
// up with: positive operators (equals, contains, in, comparisons) never
// match an absent attribute, while their negations (notEquals, notContains,
// notIn) do.
type condition interface {
	eval(value any, present bool, now time.Time) bool
}

// compiledRule pairs a condition with its resolved attribute path.
type compiledRule struct {
	rule Rule
	path ResolvedPath
	cond condition
}

// Predicate is the compiled, evaluable form of a segment's rule set.
// A record matches only if every rule matches (logical AND).
type Predicate struct {
	conds []compiledRule
}

// Len returns the number of compiled rules.
func (p *Predicate) Len() int {
	return len(p.conds)
}

// Match evaluates the predicate against a record using the current time for
// relative-date operators.
func (p *Predicate) Match(rec Record) bool {
	return p.MatchAt(rec, time.Now())
}

// MatchAt evaluates the predicate with an explicit reference time. Tests and
// batch jobs use it to pin "now".
func (p *Predicate) MatchAt(rec Record, now time.Time) bool {
	for _, c := range p.conds {
		value, present := rec.Attribute(c.path.Path)
		if !c.cond.eval(value, present, now) {
			return false
		}
	}
	return true
}

// Compile validates and compiles an ordered rule set into a Predicate.
// It is the single fallible step: every value coercion happens here, and a
// rule whose value does not fit its operator is rejected with a CompileError
// carrying the rule index. Raw (unmapped) attribute paths are logged so the
// escape hatch stays a conscious choice.
func Compile(rs []Rule, logger *slog.Logger) (*Predicate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("rule set cannot be empty")
	}

	conds := make([]compiledRule, 0, len(rs))
	for i, r := range rs {
		if _, ok := ruleTypes[r.Type]; !ok {
			return nil, &CompileError{Index: i, Rule: r, Err: fmt.Errorf("unknown rule type %q", r.Type)}
		}
		if r.Field == "" {
			return nil, &CompileError{Index: i, Rule: r, Err: fmt.Errorf("field is required")}
		}

		path := ResolvePath(r.Type, r.Field)
		if path.Raw {
			logger.Warn("unmapped rule field passes through as raw attribute path",
				slog.String("rule_type", string(r.Type)),
				slog.String("field", r.Field),
			)
		}

		cond, err := compileCondition(r)
		if err != nil {
			return nil, &CompileError{Index: i, Rule: r, Err: err}
		}
		conds = append(conds, compiledRule{rule: r, path: path, cond: cond})
	}

	return &Predicate{conds: conds}, nil
}

// compileCondition selects and builds the strategy for one rule.
func compileCondition(r Rule) (condition, error) {
	switch r.Operator {
	case OpEquals, OpNotEquals:
		if r.Value == nil {
			return nil, fmt.Errorf("value is required for %s", r.Operator)
		}
		return &equalsCond{want: r.Value, negate: r.Operator == OpNotEquals}, nil

	case OpContains, OpNotContains:
		s, ok := r.Value.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%s requires a non-empty string value, got %T", r.Operator, r.Value)
		}
		return &containsCond{sub: strings.ToLower(s), negate: r.Operator == OpNotContains}, nil

	case OpGreaterThan, OpLessThan:
		return compileCompare(r.Value, r.Operator == OpLessThan)

	case OpBetween:
		return compileBetween(r.Value)

	case OpIn, OpNotIn:
		items, ok := asList(r.Value)
		if !ok {
			return nil, fmt.Errorf("%s requires a list value, got %T", r.Operator, r.Value)
		}
		return &setCond{items: items, negate: r.Operator == OpNotIn}, nil

	case OpExists, OpNotExists:
		// Value is ignored for existence checks.
		return &existsCond{negate: r.Operator == OpNotExists}, nil

	case OpDaysAgo, OpOlderThanDays:
		days, ok := asFloat(r.Value)
		if !ok {
			return nil, fmt.Errorf("%s requires a numeric day count, got %T", r.Operator, r.Value)
		}
		if days < 0 {
			return nil, fmt.Errorf("%s day count cannot be negative, got %v", r.Operator, days)
		}
		return &recencyCond{days: days, within: r.Operator == OpDaysAgo}, nil

	default:
		return nil, fmt.Errorf("unknown operator %q", r.Operator)
	}
}

// compileCompare coerces the operand for greaterThan/lessThan. Numbers win
// over dates: a value like "42" compares numerically, "2024-06-01" as a date.
func compileCompare(value any, less bool) (condition, error) {
	if n, ok := asFloat(value); ok {
		return &compareCond{num: n, less: less}, nil
	}
	if t, ok := asTime(value); ok {
		return &compareCond{t: t, isTime: true, less: less}, nil
	}
	op := OpGreaterThan
	if less {
		op = OpLessThan
	}
	return nil, fmt.Errorf("%s requires a numeric or date value, got %T (%v)", op, value, value)
}

// compileBetween coerces the [lower, upper] pair. Both ends must coerce to
// the same domain and the pair must be ordered.
func compileBetween(value any) (condition, error) {
	pair, ok := asList(value)
	if !ok || len(pair) != 2 {
		return nil, fmt.Errorf("between requires a [lower, upper] pair, got %v", value)
	}

	if lo, ok := asFloat(pair[0]); ok {
		hi, ok := asFloat(pair[1])
		if !ok {
			return nil, fmt.Errorf("between bounds must both be numeric or both dates")
		}
		if lo > hi {
			return nil, fmt.Errorf("between lower bound %v exceeds upper bound %v", lo, hi)
		}
		return &betweenCond{loNum: lo, hiNum: hi}, nil
	}

	loT, okLo := asTime(pair[0])
	hiT, okHi := asTime(pair[1])
	if !okLo || !okHi {
		return nil, fmt.Errorf("between bounds must both be numeric or both dates, got [%T, %T]", pair[0], pair[1])
	}
	if loT.After(hiT) {
		return nil, fmt.Errorf("between lower bound %v exceeds upper bound %v", loT, hiT)
	}
	return &betweenCond{loTime: loT, hiTime: hiT, isTime: true}, nil
}
