package vending

import "strings"

// ParseStatus normalizes a status token from the monitor or an operator
// form into one of the three statuses. It tolerates the known legacy
// synonyms (Italian operator UI values) and is case-insensitive.
// The second return is false for blank or unrecognized input.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ACTIVE", "ATTIVO":
		return StatusActive, true
	case "MAINTENANCE", "MANUTENZIONE", "IN MANUTENZIONE":
		return StatusMaintenance, true
	case "FAULT", "GUASTO", "DISATTIVO":
		return StatusFault, true
	default:
		return "", false
	}
}

// MergeStatus folds the local authoritative status and the monitor's
// remote view into the operational status reported externally.
//
// Local MAINTENANCE always wins: maintenance is operator-declared and
// blocking. Otherwise a remote FAULT wins over a stale local ACTIVE,
// because the monitor's heartbeat-derived view is more current.
// Otherwise the local status is used verbatim; remoteKnown=false means
// the monitor had nothing to say about this machine.
//
// Pure function: never touches persisted state.
func MergeStatus(local Status, remote Status, remoteKnown bool) Status {
	if local == StatusMaintenance {
		return StatusMaintenance
	}
	if remoteKnown && remote == StatusFault {
		return StatusFault
	}
	return local
}
