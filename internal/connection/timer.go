package connection

import "time"

// loopTimer fires a callback on the session loop. A stopped timer never
// fires, even if its underlying timer already expired.
type loopTimer struct {
	t        *time.Timer
	canceled bool // Loop-owned.
}

// after runs fn on the loop once d has elapsed.
func (s *Session) after(d time.Duration, fn func()) *loopTimer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		s.post(func() {
			if lt.canceled {
				return
			}
			lt.canceled = true
			fn()
		})
	})
	return lt
}

func (lt *loopTimer) stop() {
	if lt == nil {
		return
	}
	lt.canceled = true
	lt.t.Stop()
}
