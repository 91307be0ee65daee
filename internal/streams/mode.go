package streams

// Mode selects how a Subscribe call combines history and live delivery.
type Mode int

const (
	// ModeHistoryOnly replays after to the tail as it stood when the read
	// began, then completes.
	ModeHistoryOnly Mode = iota
	// ModeLiveOnly attaches a live queue and emits only events appended
	// from that moment forward.
	ModeLiveOnly
	// ModeHistoryThenLive replays history first, then splices into the
	// live feed with no gap and no duplicate at the seam.
	ModeHistoryThenLive
)
