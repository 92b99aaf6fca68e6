// Package transporttest provides an in-memory Messenger for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"checkinbot/internal/transport"
)

// Call records one Messenger invocation.
type Call struct {
	Op        string // "send", "edit", "remove_markup"
	ChatID    int64
	MessageID int
	Text      string
	HasMarkup bool
}

type message struct {
	text   string
	markup bool
}

// Messenger keeps sent messages per chat and answers edits the way a chat
// platform would: NotFound for unknown ids, Unmodified for identical content.
type Messenger struct {
	mu        sync.Mutex
	nextID    int
	chats     map[int64]map[int]message
	forbidden map[int64]bool
	queued    map[string][]transport.Result
	calls     []Call

	// Hook, when set, may override any call by returning a non-nil Result.
	Hook func(op string, chatID int64) *transport.Result
}

func New() *Messenger {
	return &Messenger{
		nextID:    100,
		chats:     map[int64]map[int]message{},
		forbidden: map[int64]bool{},
		queued:    map[string][]transport.Result{},
	}
}

// Forbid makes every later call for chatID return Forbidden.
func (m *Messenger) Forbid(chatID int64) {
	m.mu.Lock()
	m.forbidden[chatID] = true
	m.mu.Unlock()
}

// Delete drops a message as if a user removed it.
func (m *Messenger) Delete(chatID int64, messageID int) {
	m.mu.Lock()
	delete(m.chats[chatID], messageID)
	m.mu.Unlock()
}

// Queue makes the next call of op return r instead of the default behaviour.
func (m *Messenger) Queue(op string, r transport.Result) {
	m.mu.Lock()
	m.queued[op] = append(m.queued[op], r)
	m.mu.Unlock()
}

func (m *Messenger) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Count returns how many calls of op were made for chatID (0 = any chat).
func (m *Messenger) Count(op string, chatID int64) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Op == op && (chatID == 0 || c.ChatID == chatID) {
			n++
		}
	}
	return n
}

// Text returns the current text of a live message.
func (m *Messenger) Text(chatID int64, messageID int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.chats[chatID][messageID]
	return msg.text, ok
}

// HasMarkup reports whether a live message still carries a keyboard.
func (m *Messenger) HasMarkup(chatID int64, messageID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chats[chatID][messageID].markup
}

func (m *Messenger) intercept(op string, chatID int64) (transport.Result, bool) {
	if m.Hook != nil {
		if r := m.Hook(op, chatID); r != nil {
			return *r, true
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if q := m.queued[op]; len(q) > 0 {
		m.queued[op] = q[1:]
		return q[0], true
	}
	if m.forbidden[chatID] {
		return transport.Fail(transport.Forbidden, errors.New("bot was kicked")), true
	}
	return transport.Result{}, false
}

func (m *Messenger) record(c Call) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

func hasMarkup(opt *transport.SendOptions) bool { return opt != nil && opt.Markup != nil }

func (m *Messenger) Send(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) transport.Result {
	m.record(Call{Op: "send", ChatID: to.ChatID, Text: text, HasMarkup: hasMarkup(opt)})
	if r, ok := m.intercept("send", to.ChatID); ok {
		return r
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if m.chats[to.ChatID] == nil {
		m.chats[to.ChatID] = map[int]message{}
	}
	m.chats[to.ChatID][m.nextID] = message{text: text, markup: hasMarkup(opt)}
	return transport.Sent(m.nextID)
}

func (m *Messenger) Edit(_ context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) transport.Result {
	m.record(Call{Op: "edit", ChatID: ref.ChatID, MessageID: ref.MessageID, Text: text, HasMarkup: hasMarkup(opt)})
	if r, ok := m.intercept("edit", ref.ChatID); ok {
		return r
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.chats[ref.ChatID][ref.MessageID]
	if !ok {
		return transport.Fail(transport.NotFound, errors.New("message to edit not found"))
	}
	next := message{text: text, markup: hasMarkup(opt)}
	if cur == next {
		return transport.Result{Outcome: transport.Unmodified}
	}
	m.chats[ref.ChatID][ref.MessageID] = next
	return transport.Result{Outcome: transport.OK, MessageID: ref.MessageID}
}

func (m *Messenger) RemoveMarkup(_ context.Context, ref transport.MessageRef) transport.Result {
	m.record(Call{Op: "remove_markup", ChatID: ref.ChatID, MessageID: ref.MessageID})
	if r, ok := m.intercept("remove_markup", ref.ChatID); ok {
		return r
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.chats[ref.ChatID][ref.MessageID]
	if !ok {
		return transport.Fail(transport.NotFound, errors.New("message not found"))
	}
	if !cur.markup {
		return transport.Result{Outcome: transport.Unmodified}
	}
	cur.markup = false
	m.chats[ref.ChatID][ref.MessageID] = cur
	return transport.Result{Outcome: transport.OK, MessageID: ref.MessageID}
}
