package intake

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrConversationNotFound is returned for turns referencing a conversation
// this process does not hold.
var ErrConversationNotFound = errors.New("conversation not found")

// conversation pairs a session with its turn lock. The lock guarantees one
// turn at a time per session; independent conversations never contend.
type conversation struct {
	mu      sync.Mutex
	session *Session
}

// Registry holds the live conversations, keyed by the conversation id the
// channel echoes back each turn. Expiry of abandoned conversations is the
// channel's responsibility, mirrored here only by Drop on session end.
type Registry struct {
	mu            sync.Mutex
	conversations map[string]*conversation
}

func NewRegistry() *Registry {
	return &Registry{conversations: make(map[string]*conversation)}
}

// Create mints a conversation id and registers a fresh session under it.
func (r *Registry) Create() *Session {
	s := NewSession(uuid.NewString())
	r.mu.Lock()
	r.conversations[s.ConversationID] = &conversation{session: s}
	r.mu.Unlock()
	return s
}

// With runs fn against the session while holding its turn lock.
func (r *Registry) With(conversationID string, fn func(*Session)) error {
	r.mu.Lock()
	c, ok := r.conversations[conversationID]
	r.mu.Unlock()
	if !ok {
		return ErrConversationNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.session)
	return nil
}

// Drop removes a conversation. In-flight turns finish against their own
// session reference.
func (r *Registry) Drop(conversationID string) {
	r.mu.Lock()
	delete(r.conversations, conversationID)
	r.mu.Unlock()
}
