package rules

// pathKey identifies one (ruleType, field) pair in the attribute table.
type pathKey struct {
	Type  RuleType
	Field string
}

// attributePaths is the closed mapping from logical rule fields to canonical
// attribute paths in the user directory record shape. Pairs missing from
// this table resolve to a RawField path: the field name passes through
// unchanged. That is a deliberate escape hatch for attributes added to the
// directory before this table learns about them, and the compiler logs
// every use of it.
var attributePaths = map[pathKey]string{
	{TypeDemographic, "age"}:      "profile.age",
	{TypeDemographic, "gender"}:   "profile.gender",
	{TypeDemographic, "language"}: "profile.language",
	{TypeDemographic, "name"}:     "profile.name",

	{TypeBehavior, "lastActive"}:   "activity.last_active_at",
	{TypeBehavior, "sessionCount"}: "activity.session_count",
	{TypeBehavior, "cartItems"}:    "activity.cart_items",

	{TypePreference, "categories"}: "preferences.categories",
	{TypePreference, "channel"}:    "preferences.channel",
	{TypePreference, "optedIn"}:    "preferences.opted_in",

	{TypePurchase, "totalSpent"}:   "purchases.total_spent",
	{TypePurchase, "orderCount"}:   "purchases.order_count",
	{TypePurchase, "lastPurchase"}: "purchases.last_purchase_at",
	{TypePurchase, "avgOrder"}:     "purchases.avg_order_value",

	{TypeEngagement, "openRate"}:  "engagement.open_rate",
	{TypeEngagement, "clickRate"}: "engagement.click_rate",
	{TypeEngagement, "lastOpen"}:  "engagement.last_open_at",

	{TypeLocation, "country"}:  "location.country",
	{TypeLocation, "city"}:     "location.city",
	{TypeLocation, "timezone"}: "location.timezone",

	{TypeDate, "createdAt"}:  "created_at",
	{TypeDate, "birthday"}:   "profile.birthday",

	{TypeDevice, "platform"}:   "devices.platform",
	{TypeDevice, "appVersion"}: "devices.app_version",
	{TypeDevice, "model"}:      "devices.model",
}

// ResolvedPath is the outcome of attribute resolution for one rule.
type ResolvedPath struct {
	// Path is the dotted attribute path evaluated against the record.
	Path string

	// Raw is true when the (type, field) pair was not in the mapping table
	// and the field name passed through unchanged.
	Raw bool
}

// ResolvePath maps a (ruleType, field) pair to its canonical attribute path.
func ResolvePath(t RuleType, field string) ResolvedPath {
	if path, ok := attributePaths[pathKey{Type: t, Field: field}]; ok {
		return ResolvedPath{Path: path}
	}
	return ResolvedPath{Path: field, Raw: true}
}
