// ABOUTME: Session owns a fixed number of submission slots and their stream goroutines
// ABOUTME: A new submission on a slot tears down the previous stream before starting

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/runstream/internal/dedupe"
)

var (
	// ErrInvalidSlot is returned for a slot outside the session's range.
	ErrInvalidSlot = errors.New("invalid slot")
	// ErrEmptyText is returned when submitting blank text.
	ErrEmptyText = errors.New("message text is empty")
	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("session closed")
)

type stream struct {
	cancel context.CancelFunc
	done   chan struct{}
	sub    *Submission
}

// Session runs submissions against one gateway agent.
type Session struct {
	transport    *Transport
	state        *State
	completed    *dedupe.Cache
	agentID      string
	slots        int
	checkBalance bool
	logger       *slog.Logger

	// slotMu serializes Submit and Stop per slot so a slot never has two
	// live streams.
	slotMu []sync.Mutex

	mu      sync.Mutex
	streams map[int]*stream
	closed  bool
}

// NewSession builds a session from cfg reporting to state.
func NewSession(cfg *Config, state *State, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	slots := cfg.Slots
	if slots <= 0 {
		slots = DefaultSlots
	}
	return &Session{
		transport:    NewTransport(cfg.ServerURL, cfg.Token, logger),
		state:        state,
		completed:    dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
		agentID:      cfg.AgentID,
		slots:        slots,
		checkBalance: cfg.CheckBalance,
		logger:       logger.With("component", "session"),
		slotMu:       make([]sync.Mutex, slots),
		streams:      make(map[int]*stream),
	}
}

// Transport returns the session's transport.
func (s *Session) Transport() *Transport { return s.transport }

// State returns the session's conversation state.
func (s *Session) State() *State { return s.state }

// Slots returns how many slots the session has.
func (s *Session) Slots() int { return s.slots }

func (s *Session) checkSlot(slot int) error {
	if slot < 0 || slot >= s.slots {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	return nil
}

// Submit starts streaming a reply to text on slot. Any stream already
// running on the slot is torn down first, which aborts its run. The stream
// stops when ctx is cancelled.
func (s *Session) Submit(ctx context.Context, slot int, text string) (*Submission, error) {
	if err := s.checkSlot(slot); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	s.slotMu[slot].Lock()
	defer s.slotMu[slot].Unlock()
	s.stopLocked(slot)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	sub := NewSubmission(slot, s.agentID, text, s.state.View(slot), s.logger)
	d := NewDispatcher(sub, s.state, s.transport, s.completed, s.checkBalance, s.logger)

	streamCtx, cancel := context.WithCancel(ctx)
	st := &stream{cancel: cancel, done: make(chan struct{}), sub: sub}
	s.streams[slot] = st

	s.state.SetSubmitting(slot, true)
	go func() {
		defer close(st.done)
		defer cancel()
		if err := s.transport.Stream(streamCtx, sub, d); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("stream ended with error", "slot", slot, "error", err)
		}
	}()

	return sub, nil
}

// Stop tears down slot's stream and waits for its teardown to finish.
func (s *Session) Stop(slot int) {
	if s.checkSlot(slot) != nil {
		return
	}
	s.slotMu[slot].Lock()
	defer s.slotMu[slot].Unlock()
	s.stopLocked(slot)
}

// stopLocked requires slotMu[slot].
func (s *Session) stopLocked(slot int) {
	s.mu.Lock()
	st, ok := s.streams[slot]
	delete(s.streams, slot)
	s.mu.Unlock()

	if !ok {
		return
	}
	st.cancel()
	<-st.done
}

// StopAll tears down every slot.
func (s *Session) StopAll() {
	for slot := 0; slot < s.slots; slot++ {
		s.Stop(slot)
	}
}

// Wait blocks until every running stream ends on its own or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		pending = append(pending, st)
	}
	s.mu.Unlock()

	for _, st := range pending {
		select {
		case <-st.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Fork copies from's conversation onto to so both continue the same thread.
func (s *Session) Fork(from, to int) error {
	if err := s.checkSlot(from); err != nil {
		return err
	}
	if err := s.checkSlot(to); err != nil {
		return err
	}
	s.Stop(to)

	s.mu.Lock()
	st := s.streams[from]
	s.mu.Unlock()
	if st != nil && s.state.Submitting(from) {
		// The in-flight turn is not persisted yet, so branch from before it.
		s.state.SetMessages(to, st.sub.Prior)
		s.state.SetConversationID(to, s.state.ConversationID(from))
		return nil
	}
	s.state.Fork(from, to)
	return nil
}

// Reset stops slot and clears its conversation.
func (s *Session) Reset(slot int) error {
	if err := s.checkSlot(slot); err != nil {
		return err
	}
	s.Stop(slot)
	s.state.Reset(slot)
	return nil
}

// Close stops every slot and releases the completion tracker.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.StopAll()
	s.completed.Close()
}
