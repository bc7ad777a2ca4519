package service

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// challengeIDs hands out lexicographically sortable challenge handles.
// ULID entropy sources are not safe for concurrent use.
var challengeIDs = struct {
	once    sync.Once
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}{}

func newChallengeID(t time.Time) string {
	challengeIDs.once.Do(func() {
		challengeIDs.entropy = ulid.Monotonic(rand.Reader, 0)
	})

	challengeIDs.mu.Lock()
	defer challengeIDs.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), challengeIDs.entropy).String()
}

// validChallengeID rejects anything that is not a ULID before it reaches
// the store.
func validChallengeID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
