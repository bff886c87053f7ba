package domain

import "time"

// ProgressCursor marks the last block fully ingested for a scope.
type ProgressCursor struct {
	Scope              string
	LastProcessedBlock uint64
	UpdatedAt          time.Time
}

// CursorScope builds the identity of a cursor from the mode and netuid scope.
func CursorScope(mode Mode, netuids []uint16) string {
	return mode.String() + ":" + FormatNetuids(netuids)
}
