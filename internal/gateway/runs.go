// ABOUTME: Registry of in-flight runs so the abort endpoint can find and stop them
// ABOUTME: Each entry finishes once: either its stream writes final or an abort claims it

package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/2389/runstream/internal/protocol"
)

var (
	// ErrRunNotFound is returned when no active run matches an abort request.
	ErrRunNotFound = errors.New("Request not found")
	// ErrAbortTimeout is returned when a cancelled run does not finish in time.
	ErrAbortTimeout = errors.New("run did not stop in time")
	// ErrRunExists is returned when a run id is already active.
	ErrRunExists = errors.New("run already in progress")
)

// activeRun is one in-flight run.
type activeRun struct {
	runID          string
	conversationID string
	principalID    string
	startedAt      time.Time
	cancel         context.CancelFunc

	mu      sync.Mutex
	aborted bool
	result  *protocol.FinalFrame
	done    chan struct{}
}

func newActiveRun(runID, conversationID, principalID string, cancel context.CancelFunc) *activeRun {
	return &activeRun{
		runID:          runID,
		conversationID: conversationID,
		principalID:    principalID,
		startedAt:      time.Now(),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// abort marks the run aborted and cancels it. It returns false when the run
// already finished.
func (r *activeRun) abort() bool {
	r.mu.Lock()
	if r.result != nil {
		r.mu.Unlock()
		return false
	}
	r.aborted = true
	r.mu.Unlock()

	r.cancel()
	return true
}

// finish records the final frame and releases waiters. It returns true when
// the stream owns the terminal frame, false when an abort claimed it.
// Only the first call has an effect.
func (r *activeRun) finish(final *protocol.FinalFrame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result != nil {
		return false
	}
	r.result = final
	close(r.done)
	return !r.aborted
}

// wait blocks until finish is called or ctx is done.
func (r *activeRun) wait(ctx context.Context) (*protocol.FinalFrame, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.result, nil
	case <-ctx.Done():
		return nil, ErrAbortTimeout
	}
}

// runRegistry indexes active runs by run id and by conversation.
type runRegistry struct {
	mu             sync.Mutex
	byRun          map[string]*activeRun
	byConversation map[string][]*activeRun
}

func newRunRegistry() *runRegistry {
	return &runRegistry{
		byRun:          make(map[string]*activeRun),
		byConversation: make(map[string][]*activeRun),
	}
}

func (reg *runRegistry) add(r *activeRun) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.byRun[r.runID]; ok {
		return ErrRunExists
	}
	reg.byRun[r.runID] = r
	reg.byConversation[r.conversationID] = append(reg.byConversation[r.conversationID], r)
	return nil
}

func (reg *runRegistry) remove(r *activeRun) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.byRun[r.runID] == r {
		delete(reg.byRun, r.runID)
	}
	runs := reg.byConversation[r.conversationID]
	for i, other := range runs {
		if other == r {
			runs = append(runs[:i], runs[i+1:]...)
			break
		}
	}
	if len(runs) == 0 {
		delete(reg.byConversation, r.conversationID)
	} else {
		reg.byConversation[r.conversationID] = runs
	}
}

// lookup finds the run named by key, falling back to the most recent run
// in the conversation.
func (reg *runRegistry) lookup(key, conversationID string) (*activeRun, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.byRun[key]; ok {
		return r, true
	}
	runs := reg.byConversation[conversationID]
	if len(runs) == 0 {
		return nil, false
	}
	return runs[len(runs)-1], true
}

// cancelAll cancels every active run without claiming its terminal frame,
// so each stream still writes final. Used at shutdown.
func (reg *runRegistry) cancelAll() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, r := range reg.byRun {
		r.cancel()
	}
	return len(reg.byRun)
}

func (reg *runRegistry) len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.byRun)
}
