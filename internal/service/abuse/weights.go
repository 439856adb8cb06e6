package abuse

import (
	"fmt"

	"github.com/ignite/abuse-guard/internal/domain"
)

// SignalWeightTable is the static signal-type to points lookup.
type SignalWeightTable struct {
	weights map[domain.SignalType]int
}

func newSignalWeightTable(m map[string]int) (SignalWeightTable, error) {
	known := map[domain.SignalType]bool{
		domain.SignalFraudDetected:         true,
		domain.SignalPolicyViolation:       true,
		domain.SignalManualFlag:            true,
		domain.SignalManualReview:          true,
		domain.SignalSuspiciousVolumeSpike: true,
		domain.SignalQualityRatingLow:      true,
		domain.SignalQualityRatingMedium:   true,
		domain.SignalBlockedByRecipient:    true,
		domain.SignalHighFailureRate:       true,
		domain.SignalTemplateRejected:      true,
		domain.SignalRateLimitViolation:    true,
	}
	t := SignalWeightTable{weights: make(map[domain.SignalType]int, len(m))}
	for key, w := range m {
		st := domain.SignalType(key)
		if st == domain.SignalComplaint {
			return t, invalid("signal_weights.complaint: complaints are weighted by complaints.weights")
		}
		if !known[st] {
			return t, invalid("signal_weights: unknown signal type %q", key)
		}
		if w < 0 {
			return t, invalid("signal_weights.%s must not be negative", key)
		}
		t.weights[st] = w
	}
	return t, nil
}

// WeightOf returns the points for a signal type. Unregistered types return
// ErrUnknownSignalKind; callers score them as zero and log a warning.
func (t SignalWeightTable) WeightOf(st domain.SignalType) (int, error) {
	w, ok := t.weights[st]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSignalKind, st)
	}
	return w, nil
}
