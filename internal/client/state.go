// ABOUTME: Conversation state shared by a session's slots, guarded by one mutex
// ABOUTME: Observers hear about message updates and submitting transitions outside the lock

package client

import (
	"sync"

	"github.com/2389/runstream/internal/protocol"
)

// ReadyState mirrors EventSource: CONNECTING, OPEN or CLOSED.
type ReadyState int

const (
	Connecting ReadyState = iota
	Open
	Closed
)

func (r ReadyState) String() string {
	switch r {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Observer is told about state changes. Calls are made without the state
// lock held, from the goroutine of the slot that changed.
type Observer interface {
	MessageUpdated(slot int, msg protocol.Message)
	SubmittingChanged(slot int, submitting bool)
	Finished(slot int, final protocol.FinalFrame)
	Failed(slot int, text string)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) MessageUpdated(int, protocol.Message) {}
func (NopObserver) SubmittingChanged(int, bool)          {}
func (NopObserver) Finished(int, protocol.FinalFrame)    {}
func (NopObserver) Failed(int, string)                   {}

// SlotView is one slot's conversation as the UI sees it.
type SlotView struct {
	Messages       []protocol.Message
	ConversationID string
	ActiveRunID    string
	AbortScroll    bool
	ShowStopButton bool
	Submitting     bool
	Ready          ReadyState
}

func (v *SlotView) clone() SlotView {
	out := *v
	out.Messages = append([]protocol.Message(nil), v.Messages...)
	return out
}

// State holds every slot's view plus the shared balance.
type State struct {
	mu       sync.Mutex
	slots    map[int]*SlotView
	balance  int64
	observer Observer
}

// NewState returns empty state reporting to obs. A nil obs is replaced by
// NopObserver.
func NewState(obs Observer) *State {
	if obs == nil {
		obs = NopObserver{}
	}
	return &State{slots: make(map[int]*SlotView), observer: obs}
}

// slotLocked returns the view for slot, creating it on first use.
func (s *State) slotLocked(slot int) *SlotView {
	v, ok := s.slots[slot]
	if !ok {
		v = &SlotView{Ready: Closed}
		s.slots[slot] = v
	}
	return v
}

func (s *State) update(slot int, fn func(v *SlotView)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.slotLocked(slot))
}

// View returns a copy of slot's view.
func (s *State) View(slot int) SlotView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotLocked(slot).clone()
}

// Messages returns a copy of slot's messages.
func (s *State) Messages(slot int) []protocol.Message {
	return s.View(slot).Messages
}

// SetMessages replaces slot's messages.
func (s *State) SetMessages(slot int, msgs []protocol.Message) {
	s.update(slot, func(v *SlotView) {
		v.Messages = append([]protocol.Message(nil), msgs...)
	})
}

// Message finds a message by id.
func (s *State) Message(slot int, id string) (protocol.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.slotLocked(slot).Messages {
		if m.MessageID == id {
			return m, true
		}
	}
	return protocol.Message{}, false
}

// UpsertMessage replaces the message with the same id or appends msg.
func (s *State) UpsertMessage(slot int, msg protocol.Message) {
	s.update(slot, func(v *SlotView) {
		for i := range v.Messages {
			if v.Messages[i].MessageID == msg.MessageID {
				v.Messages[i] = msg
				return
			}
		}
		v.Messages = append(v.Messages, msg)
	})
	s.observer.MessageUpdated(slot, msg)
}

// ConversationID returns slot's conversation id.
func (s *State) ConversationID(slot int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotLocked(slot).ConversationID
}

// SetConversationID sets slot's conversation id. Empty ids are ignored.
func (s *State) SetConversationID(slot int, id string) {
	if id == "" {
		return
	}
	s.update(slot, func(v *SlotView) { v.ConversationID = id })
}

// SetActiveRunID records the run a slot is following.
func (s *State) SetActiveRunID(slot int, id string) {
	s.update(slot, func(v *SlotView) { v.ActiveRunID = id })
}

// SetAbortScroll sets the abort-scroll flag.
func (s *State) SetAbortScroll(slot int, on bool) {
	s.update(slot, func(v *SlotView) { v.AbortScroll = on })
}

// SetShowStopButton sets whether the stop control is visible.
func (s *State) SetShowStopButton(slot int, on bool) {
	s.update(slot, func(v *SlotView) { v.ShowStopButton = on })
}

// SetReady records the transport's ready state.
func (s *State) SetReady(slot int, r ReadyState) {
	s.update(slot, func(v *SlotView) { v.Ready = r })
}

// SetSubmitting sets the submitting flag. Observers hear only real
// transitions.
func (s *State) SetSubmitting(slot int, on bool) {
	s.mu.Lock()
	v := s.slotLocked(slot)
	changed := v.Submitting != on
	v.Submitting = on
	s.mu.Unlock()

	if changed {
		s.observer.SubmittingChanged(slot, on)
	}
}

// Submitting reports whether slot has a submission in flight.
func (s *State) Submitting(slot int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotLocked(slot).Submitting
}

// Fork seeds slot to with a copy of from's conversation.
func (s *State) Fork(from, to int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.slotLocked(from)
	dst := s.slotLocked(to)
	dst.Messages = append([]protocol.Message(nil), src.Messages...)
	dst.ConversationID = src.ConversationID
}

// Reset clears slot's conversation.
func (s *State) Reset(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = &SlotView{Ready: Closed}
}

// Balance returns the last fetched token credits.
func (s *State) Balance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// SetBalance stores fetched token credits.
func (s *State) SetBalance(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = n
}

func (s *State) finished(slot int, final protocol.FinalFrame) {
	s.observer.Finished(slot, final)
}

func (s *State) failed(slot int, text string) {
	s.observer.Failed(slot, text)
}
