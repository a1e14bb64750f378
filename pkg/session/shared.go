package session

import "sync"

var (
	sharedOnce sync.Once
	shared     *Session
)

// Shared returns the process-wide session, building it with build on first
// use. Later calls ignore build. Prefer passing a *Session explicitly; this is
// for hosts that need ambient access.
func Shared(build func() *Session) *Session {
	sharedOnce.Do(func() {
		shared = build()
	})
	return shared
}
