package gatekeeper

import "example.com/quakewatch/internal/domain"

// Outcome is the terminal state of one eligibility decision.
type Outcome string

const (
	Accepted              Outcome = "accepted"
	RejectedNotApplicable Outcome = "rejected_not_applicable"
	RejectedLowMagnitude  Outcome = "rejected_low_magnitude"
	RejectedStale         Outcome = "rejected_stale"
	RejectedFuture        Outcome = "rejected_future"
	RejectedDuplicate     Outcome = "rejected_duplicate"
	RejectedProximate     Outcome = "rejected_proximate"
)

func (o Outcome) Accepted() bool { return o == Accepted }

// Decision is the gatekeeper's answer for one event.
type Decision struct {
	Outcome Outcome      `json:"outcome"`
	Reason  string       `json:"reason,omitempty"`
	Event   domain.Event `json:"event"`

	// ConflictingID names the earlier notification behind a RejectedProximate outcome.
	ConflictingID string `json:"conflicting_id,omitempty"`
	// Published is set when the notification went out; a RejectedDuplicate with
	// Published set means a concurrent invocation won the append.
	Published bool `json:"published"`
	// Text is the published notification text, if any.
	Text string `json:"text,omitempty"`
}
