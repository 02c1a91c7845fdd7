// Package rules implements the segmentation rule compiler. Rule sets are
// compiled once, at segment write time, into a Predicate that can be
// evaluated in-process against a user record or partially pushed down to a
// query-capable user directory. Compilation is the only place where rule
// values are coerced; evaluation never fails.
package rules

// RuleType namespaces a rule's field. It determines how the logical field
// name is resolved into an attribute path in the user record.
type RuleType string

const (
	TypeDemographic RuleType = "demographic"
	TypeBehavior    RuleType = "behavior"
	TypePreference  RuleType = "preference"
	TypePurchase    RuleType = "purchase"
	TypeEngagement  RuleType = "engagement"
	TypeLocation    RuleType = "location"
	TypeDate        RuleType = "date"
	TypeDevice      RuleType = "device"
)

// ruleTypes is the closed set of valid namespaces.
var ruleTypes = map[RuleType]struct{}{
	TypeDemographic: {},
	TypeBehavior:    {},
	TypePreference:  {},
	TypePurchase:    {},
	TypeEngagement:  {},
	TypeLocation:    {},
	TypeDate:        {},
	TypeDevice:      {},
}

// Operator is the comparison applied between the resolved attribute and the
// rule value.
type Operator string

const (
	OpEquals        Operator = "equals"
	OpNotEquals     Operator = "notEquals"
	OpContains      Operator = "contains"
	OpNotContains   Operator = "notContains"
	OpGreaterThan   Operator = "greaterThan"
	OpLessThan      Operator = "lessThan"
	OpBetween       Operator = "between"
	OpIn            Operator = "in"
	OpNotIn         Operator = "notIn"
	OpExists        Operator = "exists"
	OpNotExists     Operator = "notExists"
	OpDaysAgo       Operator = "daysAgo"
	OpOlderThanDays Operator = "olderThanDays"
)

// Rule is one atomic filter condition. A segment's membership predicate is
// the logical AND of all its rules.
type Rule struct {
	// Type selects the namespace used to resolve Field.
	Type RuleType `json:"rule_type"`

	// Field is the logical attribute name within the namespace.
	Field string `json:"field"`

	// Operator selects the comparison strategy.
	Operator Operator `json:"operator"`

	// Value is the comparison operand. Required for every operator except
	// exists/notExists. For between it is a 2-element [lower, upper] pair,
	// for in/notIn a list.
	Value any `json:"value,omitempty"`
}

// Record is the read contract the compiler evaluates against. The user
// directory's User type implements it; tests can implement it with a map.
type Record interface {
	// Attribute resolves a dotted path (e.g. "purchases.total_spent") and
	// reports whether the attribute is present and non-null.
	Attribute(path string) (any, bool)
}
