package overstay

// transitions is the canonical table of legal status transitions. Every
// write path consults it before mutating a record's status.
var transitions = map[Status][]Status{
	StatusDetected:        {StatusGracePeriod, StatusPendingReview},
	StatusGracePeriod:     {StatusPendingReview},
	StatusPendingReview:   {StatusPenaltyApproved, StatusPenaltyWaived, StatusResolved},
	StatusPenaltyApproved: {StatusChargePending, StatusResolved},
	StatusChargePending:   {StatusChargeSucceeded, StatusChargeFailed},
	StatusChargeFailed:    {StatusPenaltyApproved, StatusPenaltyWaived, StatusChargePending},
}

// terminal statuses permit no further transition.
var terminal = map[Status]bool{
	StatusPenaltyWaived:   true,
	StatusChargeSucceeded: true,
	StatusResolved:        true,
	StatusEscalated:       true,
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s permits no further transition.
func IsTerminal(s Status) bool {
	return terminal[s]
}

// DecidableStatuses are the statuses from which a manager decision is
// accepted.
var DecidableStatuses = []Status{StatusPendingReview, StatusChargeFailed}

// Decidable reports whether a manager decision is legal from s.
func Decidable(s Status) bool {
	for _, d := range DecidableStatuses {
		if s == d {
			return true
		}
	}
	return false
}
