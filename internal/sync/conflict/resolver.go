// Package conflict decides which side of a concurrent edit wins when
// two copies of a record carry different update timestamps.
package conflict

import "time"

// Winner names the side whose version is kept.
type Winner string

const (
	WinnerIncoming Winner = "incoming"
	WinnerExisting Winner = "existing"
)

// Outcome is the result of comparing an incoming record against the
// version already stored on the receiving side.
type Outcome struct {
	Winner Winner
	// Resolved is true when the two sides genuinely diverged, i.e.
	// the existing side was strictly newer and its version survives.
	// An incoming write that is newer or equal overwrites silently.
	Resolved bool
}

// Resolve applies last-write-wins to a pair of update timestamps.
// Equal timestamps favor the incoming side so that re-sending the same
// record is a no-op rather than a conflict.
func Resolve(incoming, existing time.Time) Outcome {
	if existing.After(incoming) {
		return Outcome{Winner: WinnerExisting, Resolved: true}
	}
	return Outcome{Winner: WinnerIncoming}
}

// IncomingWins reports whether an incoming record should replace the
// existing one.
func IncomingWins(incoming, existing time.Time) bool {
	return Resolve(incoming, existing).Winner == WinnerIncoming
}
