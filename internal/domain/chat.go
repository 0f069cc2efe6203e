package domain

const MaxChatContentLen = 500

// ChatMessage is immutable once appended to a log. The timestamp is
// server-assigned, epoch milliseconds.
type ChatMessage struct {
	ID      string   `json:"id,omitempty"`
	User    Identity `json:"user"`
	Content string   `json:"content"`
	TS      int64    `json:"ts"`
}
