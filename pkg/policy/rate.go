package policy

import (
	"sync"
	"time"
)

// rateWindow is a fixed per-minute counter keyed by (workspace, tool).
// Windows roll over on the minute boundary; an exhausted window denies the
// action rather than queueing it.
type rateWindow struct {
	mu     sync.Mutex
	counts map[string]*minuteCount
}

type minuteCount struct {
	minute time.Time
	n      int
}

func newRateWindow() *rateWindow {
	return &rateWindow{counts: make(map[string]*minuteCount)}
}

// allow consumes one permit for the current minute. perMinute <= 0 means
// unlimited.
func (r *rateWindow) allow(workspaceID, tool string, now time.Time, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	key := workspaceID + "\x00" + tool
	minute := now.Truncate(time.Minute)

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counts[key]
	if !ok || !c.minute.Equal(minute) {
		c = &minuteCount{minute: minute}
		r.counts[key] = c
	}
	if c.n >= perMinute {
		return false
	}
	c.n++
	return true
}
