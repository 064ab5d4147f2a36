package obs

import (
	"sync/atomic"
	"time"
)

// SignalIDs hands out monotonically increasing signal ids.
type SignalIDs struct {
	next uint64
}

// NewSignalIDs returns a generator seeded with the given value. A zero seed
// starts from the current time so ids stay unique across restarts.
func NewSignalIDs(seed uint64) *SignalIDs {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	return &SignalIDs{next: seed}
}

// Next returns the next signal id.
func (g *SignalIDs) Next() uint64 {
	if g == nil {
		return 0
	}
	return atomic.AddUint64(&g.next, 1)
}
