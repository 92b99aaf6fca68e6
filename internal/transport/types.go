package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// Sender identifies the user behind an update.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	IsBot     bool
}

type Message struct {
	ID        int
	ChatID    int64
	ChatTitle string
	ThreadID  int // forum topic thread id (0 if none)
	From      Sender
	Text      string
	IsGroup   bool
}

type Callback struct {
	ID        string
	ChatID    int64
	ThreadID  int
	MessageID int
	From      Sender
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
	// Markup is adapter-specific (Telegram: *telebot.ReplyMarkup).
	// A nil Markup on Edit removes the keyboard.
	Markup any
}

// Messenger is the outbound capability the scheduler core calls.
// Failures are reported in the Result, never as panics or string errors.
type Messenger interface {
	Send(ctx context.Context, to ChatTarget, text string, opt *SendOptions) Result
	Edit(ctx context.Context, ref MessageRef, text string, opt *SendOptions) Result
	RemoveMarkup(ctx context.Context, ref MessageRef) Result
}

// Receiver is the inbound side of an adapter.
type Receiver interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
