package models

var transitions = map[string][]string{
	StatusLead:      {StatusHold, StatusConfirmed, StatusCancelled},
	StatusHold:      {StatusConfirmed, StatusCancelled, StatusExpired},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn: {StatusCheckedOut},
}

// CanTransition reports whether a booking may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	switch status {
	case StatusCheckedOut, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func IsValidStatus(status string) bool {
	switch status {
	case StatusLead, StatusHold, StatusConfirmed, StatusCheckedIn, StatusCheckedOut, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsConfirmedEquivalent reports whether a status keeps the unit occupied.
func IsConfirmedEquivalent(status string) bool {
	return status == StatusConfirmed || status == StatusCheckedIn
}

// BlockStatusFor maps a booking status to the status of its ledger entry.
// The second result is false when the booking should not own an entry.
func BlockStatusFor(status string) (string, bool) {
	switch status {
	case StatusConfirmed, StatusCheckedIn, StatusCheckedOut:
		return BlockStatusActive, true
	case StatusHold:
		return BlockStatusHold, true
	case StatusCancelled, StatusLead:
		return BlockStatusCancelled, true
	case StatusExpired:
		return BlockStatusExpired, true
	}
	return "", false
}
