package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// OutboundMessage is a rendered sequence step ready to leave the system.
type OutboundMessage struct {
	ParticipantID uint
	ContactID     uint
	To            string
	Subject       string
	Body          string
}

// Dispatcher hands a message to the outreach channel. It returns the
// channel's message id so delivery, reply and bounce signals can be
// correlated back to the send that caused them.
type Dispatcher interface {
	Send(ctx context.Context, msg OutboundMessage) (string, error)
}

// Recorder is a Dispatcher that keeps every message in memory. Used in
// tests and as a stand-in when no channel is configured.
type Recorder struct {
	mu       sync.Mutex
	Messages []OutboundMessage

	// FailWith, when set, makes every Send fail.
	FailWith error
}

func (r *Recorder) Send(_ context.Context, msg OutboundMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return "", r.FailWith
	}
	r.Messages = append(r.Messages, msg)
	return uuid.New().String(), nil
}

// Sent returns a copy of everything dispatched so far.
func (r *Recorder) Sent() []OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutboundMessage, len(r.Messages))
	copy(out, r.Messages)
	return out
}
