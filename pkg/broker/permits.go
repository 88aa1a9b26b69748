package broker

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// permitTable caps concurrent dispatches: one broker-wide semaphore plus one
// per (workspace, tool). semaphore.Weighted serves waiters in FIFO order and
// honors ctx cancellation, which gives blocked callers the remaining turn
// deadline and no more.
type permitTable struct {
	global *semaphore.Weighted

	mu      sync.Mutex
	perTool map[string]*semaphore.Weighted
}

func newPermitTable(globalCap int64) *permitTable {
	p := &permitTable{perTool: make(map[string]*semaphore.Weighted)}
	if globalCap > 0 {
		p.global = semaphore.NewWeighted(globalCap)
	}
	return p
}

// acquire takes the global permit then the tool permit, releasing the global
// one if the tool permit cannot be had. The returned func releases both.
func (p *permitTable) acquire(ctx context.Context, workspaceID, tool string, toolCap int) (func(), error) {
	if p.global != nil {
		if err := p.global.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	sem := p.toolSemaphore(workspaceID, tool, toolCap)
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			if p.global != nil {
				p.global.Release(1)
			}
			return nil, err
		}
	}

	return func() {
		if sem != nil {
			sem.Release(1)
		}
		if p.global != nil {
			p.global.Release(1)
		}
	}, nil
}

// toolSemaphore returns the semaphore for the key, creating it with the
// first-seen cap. toolCap <= 0 means uncapped.
func (p *permitTable) toolSemaphore(workspaceID, tool string, toolCap int) *semaphore.Weighted {
	if toolCap <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(workspaceID, tool)
	sem, ok := p.perTool[k]
	if !ok {
		sem = semaphore.NewWeighted(int64(toolCap))
		p.perTool[k] = sem
	}
	return sem
}
