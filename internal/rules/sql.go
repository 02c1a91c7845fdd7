package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Push-down support for query-capable user directories.
//
// Prefilter translates the translatable subset of a predicate into a SQL
// boolean expression over a JSONB attribute column. The contract is strictly
// "superset": every record matching the predicate also matches the
// prefilter, so the caller narrows the scan with it and re-applies Match on
// the survivors. Conditions that cannot be translated without risking a
// false exclusion (numeric coercion of string attributes, relative dates)
// are simply left out of the clause.

// pathElemRx guards against raw field names that cannot be embedded in a
// jsonb path literal. Mapped paths always satisfy it.
var pathElemRx = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// likeEscaper neutralizes LIKE wildcards in user-supplied substrings.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Prefilter builds the push-down clause for the predicate.
//
// column is the JSONB column holding the user attributes. startArg is the
// number of the first free bind placeholder ($N). The returned clause is
// empty when nothing could be translated; covered reports how many of the
// predicate's rules the clause enforces.
func (p *Predicate) Prefilter(column string, startArg int) (clause string, args []any, covered int) {
	var parts []string

	for _, c := range p.conds {
		elems := strings.Split(c.path.Path, ".")
		if !validPathElems(elems) {
			continue
		}

		part, condArgs, ok := translate(c.cond, column, elems, startArg+len(args))
		if !ok {
			continue
		}
		parts = append(parts, part)
		args = append(args, condArgs...)
		covered++
	}

	if len(parts) == 0 {
		return "", nil, 0
	}
	return strings.Join(parts, " AND "), args, covered
}

func validPathElems(elems []string) bool {
	for _, e := range elems {
		if !pathElemRx.MatchString(e) {
			return false
		}
	}
	return true
}

// jsonbPath renders a '{a,b,c}' path literal for #> / #>> operators.
func jsonbPath(elems []string) string {
	return "'{" + strings.Join(elems, ",") + "}'"
}

// translate produces the SQL for a single condition, or ok=false when the
// condition has no safe translation.
func translate(cond condition, column string, elems []string, nextArg int) (string, []any, bool) {
	extracted := fmt.Sprintf("%s #> %s", column, jsonbPath(elems))
	asText := fmt.Sprintf("%s #>> %s", column, jsonbPath(elems))

	switch c := cond.(type) {
	case *equalsCond:
		// Negations and operands with ambiguous JSON forms stay in-process:
		// loose equality accepts "5.0" for 5 and "true" for true, which
		// containment cannot.
		if c.negate || !sqlExactScalar(c.want) {
			return "", nil, false
		}
		doc, err := nestedJSON(elems, c.want)
		if err != nil {
			return "", nil, false
		}
		return fmt.Sprintf("%s @> $%d::jsonb", column, nextArg), []any{string(doc)}, true

	case *containsCond:
		pattern := "%" + likeEscaper.Replace(c.sub) + "%"
		if c.negate {
			// Absent, non-string and non-matching values all count as "not
			// contains"; the substring check applies to strings only, so the
			// text form of a number must not be tested against the pattern.
			clause := fmt.Sprintf("(%s IS NULL OR jsonb_typeof(%s) <> 'string' OR %s NOT ILIKE $%d)",
				asText, extracted, asText, nextArg)
			return clause, []any{pattern}, true
		}
		return fmt.Sprintf("%s ILIKE $%d", asText, nextArg), []any{pattern}, true

	case *setCond:
		if c.negate {
			return "", nil, false
		}
		var ors []string
		var args []any
		for _, item := range c.items {
			if !sqlExactScalar(item) {
				return "", nil, false
			}
			doc, err := nestedJSON(elems, item)
			if err != nil {
				return "", nil, false
			}
			ors = append(ors, fmt.Sprintf("%s @> $%d::jsonb", column, nextArg+len(args)))
			args = append(args, string(doc))
		}
		if len(ors) == 0 {
			// An empty "in" set matches nothing.
			return "FALSE", nil, true
		}
		return "(" + strings.Join(ors, " OR ") + ")", args, true

	case *existsCond:
		// jsonb null is "absent" for rule purposes, and #> returns SQL NULL
		// for missing keys, so both cases need checking.
		presentExpr := fmt.Sprintf("(%s IS NOT NULL AND jsonb_typeof(%s) <> 'null')", extracted, extracted)
		if c.negate {
			return "NOT " + presentExpr, nil, true
		}
		return presentExpr, nil, true

	default:
		// Comparisons, ranges and relative dates coerce string attributes at
		// evaluation time; that cannot be mirrored in SQL without excluding
		// legitimate matches.
		return "", nil, false
	}
}

// sqlExactScalar reports whether a rule operand has exactly one JSON
// representation in the directory. Only strings whose text is not itself
// valid JSON qualify: the store may hold 5, "5" or "5.0" for a numeric
// operand, and a "true" operand loosely equals the boolean true, so any
// operand that parses as JSON could match a stored value of another type.
func sqlExactScalar(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	var decoded any
	return json.Unmarshal([]byte(s), &decoded) != nil
}

// nestedJSON builds the containment document for a dotted path, e.g.
// ["location","country"] + "BR" -> {"location":{"country":"BR"}}.
func nestedJSON(elems []string, leaf any) ([]byte, error) {
	var v any = leaf
	for i := len(elems) - 1; i >= 0; i-- {
		v = map[string]any{elems[i]: v}
	}
	return json.Marshal(v)
}
