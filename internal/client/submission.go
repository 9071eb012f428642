// ABOUTME: A single chat submission: the request body plus the optimistic messages it renders
// ABOUTME: Tracks whether the stream reached a terminal frame or the error path

package client

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/2389/runstream/internal/content"
	"github.com/2389/runstream/internal/protocol"
)

// Submission is one POST to the chat endpoint and everything the slot knows
// about it while it streams.
type Submission struct {
	Slot           int
	ConversationID string
	Request        protocol.ChatRequest

	// Prior is the conversation before this submission.
	Prior []protocol.Message

	mu              sync.Mutex
	userMessage     protocol.Message
	initialResponse protocol.Message
	aggregator      *content.Aggregator
	lastTextIndex   int

	terminated atomic.Bool
	errored    atomic.Bool
}

// NewSubmission builds the request for text on top of view. The user message
// and response ids are generated here, and the response id doubles as the
// abort key.
func NewSubmission(slot int, agentID, text string, view SlotView, logger *slog.Logger) *Submission {
	parentID := protocol.NoParentID
	if n := len(view.Messages); n > 0 {
		parentID = view.Messages[n-1].MessageID
	}

	userID := uuid.New().String()
	responseID := uuid.New().String()

	user := protocol.Message{
		MessageID:       userID,
		ConversationID:  view.ConversationID,
		ParentMessageID: parentID,
		Sender:          protocol.SenderUser,
		Text:            text,
		IsCreatedByUser: true,
		Endpoint:        protocol.EndpointAgents,
	}
	response := protocol.Message{
		MessageID:       responseID,
		ConversationID:  view.ConversationID,
		ParentMessageID: userID,
		Endpoint:        protocol.EndpointAgents,
	}

	return &Submission{
		Slot:           slot,
		ConversationID: view.ConversationID,
		Prior:          append([]protocol.Message(nil), view.Messages...),
		Request: protocol.ChatRequest{
			Text:              text,
			ConversationID:    view.ConversationID,
			ParentMessageID:   parentID,
			MessageID:         userID,
			ResponseMessageID: responseID,
			AgentID:           agentID,
			Endpoint:          protocol.EndpointAgents,
		},
		userMessage:     user,
		initialResponse: response,
		aggregator:      content.New(logger),
		lastTextIndex:   -1,
	}
}

// UserMessage returns the optimistic user message.
func (s *Submission) UserMessage() protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userMessage
}

func (s *Submission) setUserMessage(m protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userMessage = m
}

// InitialResponse returns the placeholder response message.
func (s *Submission) InitialResponse() protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialResponse
}

func (s *Submission) setInitialResponse(m protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialResponse = m
}

// AbortKey is the key the gateway registered the run under.
func (s *Submission) AbortKey() string {
	return s.InitialResponse().MessageID
}

// Terminated reports whether a final frame was handled.
func (s *Submission) Terminated() bool { return s.terminated.Load() }

// Errored reports whether the error path ran.
func (s *Submission) Errored() bool { return s.errored.Load() }
