package rules

import (
	"strings"
	"time"
)

// equalsCond implements equals/notEquals with loose scalar equality.
type equalsCond struct {
	want   any
	negate bool
}

func (c *equalsCond) eval(value any, present bool, _ time.Time) bool {
	if !present {
		// Absent attributes never equal anything, and therefore always
		// "not equal" everything.
		return c.negate
	}
	match := looseEqual(value, c.want)
	if c.negate {
		return !match
	}
	return match
}

// containsCond implements contains/notContains as a case-insensitive
// substring match on string attributes.
type containsCond struct {
	sub    string // already lowercased
	negate bool
}

func (c *containsCond) eval(value any, present bool, _ time.Time) bool {
	match := false
	if present {
		if s, ok := value.(string); ok {
			match = strings.Contains(strings.ToLower(s), c.sub)
		}
	}
	if c.negate {
		return !match
	}
	return match
}

// compareCond implements greaterThan/lessThan. The comparison domain
// (numeric or date) was fixed at compile time from the rule value; the
// attribute is coerced into the same domain at evaluation, and a value that
// does not coerce simply does not match.
type compareCond struct {
	num    float64
	t      time.Time
	isTime bool
	less   bool
}

func (c *compareCond) eval(value any, present bool, _ time.Time) bool {
	if !present {
		return false
	}

	if c.isTime {
		at, ok := asTime(value)
		if !ok {
			return false
		}
		if c.less {
			return at.Before(c.t)
		}
		return at.After(c.t)
	}

	n, ok := asFloat(value)
	if !ok {
		return false
	}
	if c.less {
		return n < c.num
	}
	return n > c.num
}

// betweenCond implements the inclusive range check on both ends.
type betweenCond struct {
	loNum, hiNum   float64
	loTime, hiTime time.Time
	isTime         bool
}

func (c *betweenCond) eval(value any, present bool, _ time.Time) bool {
	if !present {
		return false
	}

	if c.isTime {
		at, ok := asTime(value)
		if !ok {
			return false
		}
		return !at.Before(c.loTime) && !at.After(c.hiTime)
	}

	n, ok := asFloat(value)
	if !ok {
		return false
	}
	return n >= c.loNum && n <= c.hiNum
}

// setCond implements in/notIn. Membership uses the same loose equality as
// equals; rule sets are small, so a linear scan beats building a map per
// evaluation domain.
type setCond struct {
	items  []any
	negate bool
}

func (c *setCond) eval(value any, present bool, _ time.Time) bool {
	match := false
	if present {
		for _, item := range c.items {
			if looseEqual(value, item) {
				match = true
				break
			}
		}
	}
	if c.negate {
		return !match
	}
	return match
}

// existsCond implements exists/notExists. Record.Attribute already treats
// null as absent.
type existsCond struct {
	negate bool
}

func (c *existsCond) eval(_ any, present bool, _ time.Time) bool {
	if c.negate {
		return !present
	}
	return present
}

// recencyCond implements the relative-date operators against the evaluation
// reference time:
//
//	daysAgo N        -> attribute date on/after now - N days
//	olderThanDays N  -> attribute date strictly before now - N days
type recencyCond struct {
	days   float64
	within bool
}

func (c *recencyCond) eval(value any, present bool, now time.Time) bool {
	if !present {
		return false
	}
	at, ok := asTime(value)
	if !ok {
		return false
	}

	cutoff := now.Add(-time.Duration(c.days * float64(24*time.Hour)))
	if c.within {
		return !at.Before(cutoff)
	}
	return at.Before(cutoff)
}
