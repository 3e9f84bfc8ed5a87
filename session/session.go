// Package session owns one client conversation: the transcript, the busy
// gate around an outstanding send, and the typing indicator lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumic/docchat/citation"
	"github.com/lumic/docchat/relay"
)

// fallbackText replaces the bot reply when the relay call fails for any
// reason. The real cause goes to the logs only.
const fallbackText = "Sorry, there was an error. Please try again."

var (
	// ErrEmptyMessage rejects blank input before a user turn is appended or
	// any network call happens.
	ErrEmptyMessage = errors.New("message cannot be empty")

	// ErrBusy rejects a send while a previous one is still outstanding.
	// Submission reopens once that call settles.
	ErrBusy = errors.New("a message is already outstanding")
)

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Turn is one transcript entry. Turns are immutable once appended; bot turns
// carry the citations their reply arrived with, in reply order.
type Turn struct {
	Role      Role
	Text      string
	Citations []citation.Source
}

// Relayer forwards one message to the answer service.
type Relayer interface {
	Send(ctx context.Context, message, conversationID string) (relay.Reply, error)
}

// Listener observes session UI events: new turns and the typing indicator.
type Listener interface {
	TypingStarted()
	TypingStopped()
	TurnAppended(turn Turn)
}

type noopListener struct{}

func (noopListener) TypingStarted() {}
func (noopListener) TypingStopped() {}
func (noopListener) TurnAppended(Turn) {}

// Session drives one conversation. The conversation identifier is generated
// once and reused for every message so the answer service can correlate
// turns.
type Session struct {
	relay    Relayer
	listener Listener
	logger   *log.Logger
	id       string

	mu         sync.Mutex
	transcript []Turn
	busy       bool
}

func New(relayer Relayer, listener Listener, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	if listener == nil {
		listener = noopListener{}
	}

	return &Session{
		relay:    relayer,
		listener: listener,
		logger:   logger,
		id:       newConversationID(),
	}
}

func newConversationID() string {
	return fmt.Sprintf("conv_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func (s *Session) ConversationID() string {
	return s.id
}

// Send submits one user message. The user turn is appended first; when the
// relay call settles a bot turn follows, either the reply (with its
// citations) or the fixed fallback text when the relay failed. The typing
// indicator spans the whole outstanding call and stops exactly once. Only
// one send may be outstanding per session.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	userTurn := Turn{Role: RoleUser, Text: text}
	s.transcript = append(s.transcript, userTurn)
	s.mu.Unlock()

	s.listener.TurnAppended(userTurn)
	s.listener.TypingStarted()

	defer func() {
		s.listener.TypingStopped()
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	reply, err := s.relay.Send(ctx, text, s.id)

	var botTurn Turn
	if err != nil {
		s.logger.Printf("relay failed for conversation %s: %v", s.id, err)
		botTurn = Turn{Role: RoleBot, Text: fallbackText, Citations: []citation.Source{}}
	} else {
		sources := reply.Sources
		if sources == nil {
			sources = []citation.Source{}
		}
		botTurn = Turn{Role: RoleBot, Text: reply.Response, Citations: sources}
	}

	s.mu.Lock()
	s.transcript = append(s.transcript, botTurn)
	s.mu.Unlock()
	s.listener.TurnAppended(botTurn)

	return nil
}

// Transcript returns a copy of the turns in submission order.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.transcript...)
}

// Clear drops the transcript. The conversation identifier survives so the
// answer service can still correlate later turns.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = nil
}
