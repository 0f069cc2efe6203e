package client

import (
	"sync"

	"github.com/studyroom/studyroom/internal/domain"
)

const DefaultChatLogCap = 100

// ChatLog is an append-only, capacity-bounded message sequence. When full
// it evicts the oldest entry: a bounded FIFO, not a cache.
type ChatLog struct {
	mu   sync.RWMutex
	cap  int
	msgs []domain.ChatMessage
}

func NewChatLog(capacity int) *ChatLog {
	if capacity <= 0 {
		capacity = DefaultChatLogCap
	}
	return &ChatLog{cap: capacity}
}

func (l *ChatLog) Append(msg domain.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.msgs = append(l.msgs, msg)
	if len(l.msgs) > l.cap {
		l.msgs = l.msgs[len(l.msgs)-l.cap:]
	}
}

// Messages returns a copy in append order, oldest first.
func (l *ChatLog) Messages() []domain.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ChatMessage, len(l.msgs))
	copy(out, l.msgs)
	return out
}

func (l *ChatLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}
