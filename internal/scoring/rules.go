// Package scoring derives the customer scoring relations (RFM segments and
// churn risk) and the revenue and product roll-ups from the dimensional
// model.
//
// Every classification is an ordered decision table evaluated first match
// wins, so the priority of each label is visible in one place.
package scoring

// Rule pairs a label with the predicate that selects it.
type Rule[T any] struct {
	Label string
	Match func(T) bool
}

// Classify returns the label of the first rule that matches v, or fallback.
func Classify[T any](rules []Rule[T], v T, fallback string) string {
	for _, r := range rules {
		if r.Match(v) {
			return r.Label
		}
	}
	return fallback
}

// Bands is a customer's R, F and M quantile bands, 1 (worst) to 5 (best).
type Bands struct {
	R, F, M int32
}

// Segment labels.
const (
	SegmentChampions      = "Champions"
	SegmentLoyal          = "Loyal"
	SegmentPotential      = "Potential"
	SegmentAtRisk         = "At Risk"
	SegmentNeedActivation = "Need Activation"
	SegmentCantLoseThem   = "Can't Lose Them"
	SegmentLost           = "Lost"
	SegmentOthers         = "Others"
)

// SegmentRules classify RFM bands into segments.
var SegmentRules = []Rule[Bands]{
	{SegmentChampions, func(b Bands) bool { return b.R >= 4 && b.F >= 4 && b.M >= 4 }},
	{SegmentLoyal, func(b Bands) bool { return b.R >= 4 && b.F >= 4 }},
	{SegmentPotential, func(b Bands) bool { return b.R >= 4 && b.M >= 4 }},
	{SegmentAtRisk, func(b Bands) bool { return b.F >= 4 && b.M >= 4 }},
	{SegmentNeedActivation, func(b Bands) bool { return b.R >= 4 }},
	{SegmentCantLoseThem, func(b Bands) bool { return b.F >= 4 || b.M >= 4 }},
	{SegmentLost, func(b Bands) bool { return b.R <= 2 }},
}

// Segment returns the segment of b.
func Segment(b Bands) string {
	return Classify(SegmentRules, b, SegmentOthers)
}

// RiskInput is what the risk rules look at. Days is nil for a customer who
// never purchased; day-based rules never match such a customer.
type RiskInput struct {
	Days   *int64
	Orders int64
	Spent  float64
	Active bool
}

func (in RiskInput) inactiveFor(days int64) bool {
	return in.Days != nil && *in.Days > days
}

// Risk categories.
const (
	RiskCritical = "CRITICAL"
	RiskHigh     = "HIGH"
	RiskMedium   = "MEDIUM"
	RiskLow      = "LOW"
	RiskVeryLow  = "VERY_LOW"
)

// RiskCategoryRules assign the risk category.
var RiskCategoryRules = []Rule[RiskInput]{
	{RiskCritical, func(in RiskInput) bool { return in.inactiveFor(90) && in.Spent > 500 }},
	{RiskHigh, func(in RiskInput) bool { return in.inactiveFor(90) }},
	{RiskMedium, func(in RiskInput) bool { return in.inactiveFor(60) }},
	{RiskLow, func(in RiskInput) bool { return in.inactiveFor(30) }},
}

// Risk reasons.
const (
	ReasonInactive     = "Inactive > 90 days"
	ReasonLowFrequency = "Low purchase frequency"
	ReasonLowValue     = "Low lifetime value"
	ReasonActive       = "Active customer"
)

// RiskReasonRules assign the risk reason, independently of the category.
var RiskReasonRules = []Rule[RiskInput]{
	{ReasonInactive, func(in RiskInput) bool { return in.inactiveFor(90) }},
	{ReasonLowFrequency, func(in RiskInput) bool { return in.Orders < 3 }},
	{ReasonLowValue, func(in RiskInput) bool { return in.Spent < 100 }},
}

// RiskCategory returns the category of in.
func RiskCategory(in RiskInput) string {
	return Classify(RiskCategoryRules, in, RiskVeryLow)
}

// RiskReason returns the reason of in.
func RiskReason(in RiskInput) string {
	return Classify(RiskReasonRules, in, ReasonActive)
}

// Alert reports whether in warrants an alert. It mirrors CRITICAL.
func Alert(in RiskInput) bool {
	return in.inactiveFor(90) && in.Spent > 500
}
