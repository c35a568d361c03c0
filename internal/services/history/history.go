package history

import (
	"sync"

	"github.com/twitch-ai-cohost-go/internal/models"
)

// Queue is a bounded FIFO of chat messages. Appending past capacity
// evicts the oldest entries so length never exceeds capacity.
type Queue struct {
	capacity int
	items    []models.ChatMessage
}

// NewQueue creates an empty queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends a message, evicting from the head when over capacity.
func (q *Queue) Enqueue(msg models.ChatMessage) {
	q.items = append(q.items, msg)
	if over := len(q.items) - q.capacity; over > 0 {
		q.items = append(q.items[:0:0], q.items[over:]...)
	}
}

// Clear empties the queue and reports whether it held anything.
func (q *Queue) Clear() bool {
	hadItems := len(q.items) > 0
	q.items = nil
	return hadItems
}

// Snapshot returns an ordered copy for iteration, oldest first.
func (q *Queue) Snapshot() []models.ChatMessage {
	out := make([]models.ChatMessage, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the current number of messages.
func (q *Queue) Len() int {
	return len(q.items)
}

// Session owns the conversation state for one chat session: the raw
// chat-log queue and the prompt/response queue. All mutation goes through
// the session mutex; the host is not assumed to serialize turns.
type Session struct {
	mu      sync.Mutex
	chatLog *Queue
	prompts *Queue
}

// NewSession creates a session with empty queues. maxPromptHistory counts
// prompt/response pairs, so the underlying queue holds twice as many
// messages.
func NewSession(maxChatHistory, maxPromptHistory int) *Session {
	return &Session{
		chatLog: NewQueue(maxChatHistory),
		prompts: NewQueue(maxPromptHistory * 2),
	}
}

// RecordChatMessage appends one chat-log message.
func (s *Session) RecordChatMessage(userName, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatLog.Enqueue(models.ChatMessage{
		Role:    models.RoleUser,
		Content: userName + ": " + text,
	})
}

// RecordExchange appends one completed prompt/response pair.
func (s *Session) RecordExchange(prompt, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts.Enqueue(models.ChatMessage{Role: models.RoleUser, Content: prompt})
	s.prompts.Enqueue(models.ChatMessage{Role: models.RoleAssistant, Content: response})
}

// ChatLog returns a copy of the chat-log queue contents, oldest first.
func (s *Session) ChatLog() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatLog.Snapshot()
}

// Exchanges returns a copy of the prompt/response queue contents.
func (s *Session) Exchanges() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts.Snapshot()
}

// ClearChatLog empties the chat log and reports whether it held anything.
func (s *Session) ClearChatLog() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatLog.Clear()
}

// ClearExchanges empties the prompt/response queue and reports whether it
// held anything.
func (s *Session) ClearExchanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts.Clear()
}
