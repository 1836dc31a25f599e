package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

type MessageStatus string

const (
	StatusComplete  MessageStatus = "complete"
	StatusStreaming MessageStatus = "streaming"
	StatusFailed    MessageStatus = "failed"
)

const maxTitleRunes = 60

// Message is a single conversation entry as shown in the chat view.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// Session is one conversation. Messages only holds the current generation;
// a reset bumps Generation and starts over with a greeting.
type Session struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Messages   []Message `json:"messages"`
	Generation int       `json:"generation"`
	Turns      int       `json:"turns"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Loading    bool      `json:"loading"`
}

// TitleFrom derives a session title from the first user message.
func TitleFrom(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
}

// Turn is one completed exchange: the user message and the model reply that
// answered it, persisted together.
type Turn struct {
	User  Message
	Reply Message
	Title string
}
