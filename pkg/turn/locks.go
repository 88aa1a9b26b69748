package turn

import "sync"

// conversationLocks serializes turns per conversation id so two turns for the
// same conversation can never interleave between loading state and committing
// the transition. Locks are created on demand and dropped once no turn holds
// or waits on them.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*conversationLock
}

type conversationLock struct {
	mu      sync.Mutex
	holders int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: map[string]*conversationLock{}}
}

// acquire blocks until the conversation lock is held and returns its release
// function.
func (c *conversationLocks) acquire(conversationID string) func() {
	c.mu.Lock()
	lock, ok := c.locks[conversationID]
	if !ok {
		lock = &conversationLock{}
		c.locks[conversationID] = lock
	}
	lock.holders++
	c.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		c.mu.Lock()
		lock.holders--
		if lock.holders == 0 {
			delete(c.locks, conversationID)
		}
		c.mu.Unlock()
	}
}
