// Package abuse implements tenant abuse scoring and enforcement.
//
// Signals flow through the SignalWeightTable or the ComplaintScorer into the
// ScoreLedger, which owns every mutation of a tenant's cumulative score. The
// ThresholdClassifier maps the score onto a Level, the PolicyEngine turns the
// level and the complaint history into an enforcement Action, and the
// CooldownManager owns the lifecycle of suspensions.
//
// All tables come from a validated, immutable Policy built once at startup.
// Mutations for one tenant are serialized through a tenantlock.Locker; the
// repository additionally guards the score row with a version compare-and-swap.
//
// The service layer depends on the Repository interface defined in
// repository.go. It never imports net/http or database/sql directly.
package abuse
