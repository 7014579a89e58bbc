// internal/app/system/realtime/sequencer.go
package realtime

import (
	"hash/maphash"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const sequencerStripes = 64

// sequencer serializes every room change and delivery for one ride: join
// authorization and registration, leave and disconnect cleanup,
// persist-then-broadcast, and evictions. Rides hash onto a
// fixed set of mutexes, so unrelated rides may occasionally wait on each
// other but never deadlock: callers hold at most one stripe at a time.
type sequencer struct {
	seed    maphash.Seed
	stripes [sequencerStripes]sync.Mutex
}

func newSequencer() *sequencer {
	return &sequencer{seed: maphash.MakeSeed()}
}

// lock acquires the stripe for rideID and returns its unlock func.
func (s *sequencer) lock(rideID primitive.ObjectID) func() {
	m := &s.stripes[maphash.Bytes(s.seed, rideID[:])%sequencerStripes]
	m.Lock()
	return m.Unlock
}
