// Package correlation makes day-bound sends idempotent by remembering which
// message each (tenant, logical key, kind) produced.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"checkinbot/internal/clock"
	"checkinbot/internal/storage"
	"checkinbot/internal/transport"
	logx "checkinbot/pkg/logx"
)

// Key identifies one logical message. Scope is usually the session date.
type Key struct {
	ChatID int64
	Scope  string
	Kind   Kind
}

func DayKey(chatID int64, day clock.Date, kind Kind) Key {
	return Key{ChatID: chatID, Scope: day.String(), Kind: kind}
}

// UserDayKey scopes a message to one user's day. Such keys never show up
// in the day's Scope listing.
func UserDayKey(chatID, userID int64, day clock.Date, kind Kind) Key {
	return Key{ChatID: chatID, Scope: fmt.Sprintf("%s/%d", day, userID), Kind: kind}
}

func (k Key) String() string { return fmt.Sprintf("%d/%s/%s", k.ChatID, k.Scope, k.Kind) }

// Entries is the persistence behind the store.
type Entries interface {
	GetCorrelation(ctx context.Context, chatID int64, key, kind string) (int, error)
	PutCorrelation(ctx context.Context, c storage.Correlation) error
	DeleteCorrelation(ctx context.Context, chatID int64, key, kind string, messageID int) error
	ListCorrelations(ctx context.Context, chatID int64, key string) ([]storage.Correlation, error)
}

// Message is the content a BuildFunc produces.
type Message struct {
	Text    string
	Options *transport.SendOptions
}

type BuildFunc func(ctx context.Context) (Message, error)

// Action says what a call did on the wire.
type Action uint8

const (
	// Reused: an entry existed; no network call.
	Reused Action = iota
	// Sent: a new message was sent and recorded.
	Sent
	// Edited: the existing message was edited in place (or was already current).
	Edited
	// Resent: the recorded message was gone; a fresh one replaced it.
	Resent
)

func (a Action) String() string {
	switch a {
	case Reused:
		return "reused"
	case Sent:
		return "sent"
	case Edited:
		return "edited"
	case Resent:
		return "resent"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

type Delivery struct {
	MessageID int
	Action    Action
}

// Store serializes every Ensure call per Key, so a lookup and the send it
// decides on cannot interleave with another caller for the same key.
type Store struct {
	entries Entries
	out     transport.Messenger
	log     logx.Logger

	mu    sync.Mutex
	locks map[Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func New(entries Entries, out transport.Messenger, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		entries: entries,
		out:     out,
		log:     log.With(logx.String("comp", "correlation")),
		locks:   make(map[Key]*keyLock),
	}
}

// lock holds key until the returned func runs. Idle keys are dropped.
func (s *Store) lock(key Key) func() {
	s.mu.Lock()
	l := s.locks[key]
	if l == nil {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Lookup returns the recorded message id or storage.ErrNotFound.
func (s *Store) Lookup(ctx context.Context, key Key) (int, error) {
	return s.entries.GetCorrelation(ctx, key.ChatID, key.Scope, key.Kind.String())
}

// EnsureSent returns the recorded message for key, or builds, sends and
// records a new one. A transport failure is returned as a *transport.Error
// and nothing is recorded.
func (s *Store) EnsureSent(ctx context.Context, key Key, build BuildFunc) (Delivery, error) {
	defer s.lock(key)()
	id, err := s.Lookup(ctx, key)
	switch {
	case err == nil:
		return Delivery{MessageID: id, Action: Reused}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return Delivery{}, err
	}
	id, err = s.send(ctx, key, build)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{MessageID: id, Action: Sent}, nil
}

// EnsureFresh edits the recorded message with freshly built content. An
// Unmodified edit is success. When the message no longer exists the entry
// is dropped and a new message is sent in its place.
func (s *Store) EnsureFresh(ctx context.Context, key Key, build BuildFunc) (Delivery, error) {
	defer s.lock(key)()
	id, err := s.Lookup(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		id, err := s.send(ctx, key, build)
		if err != nil {
			return Delivery{}, err
		}
		return Delivery{MessageID: id, Action: Sent}, nil
	}
	if err != nil {
		return Delivery{}, err
	}

	msg, err := build(ctx)
	if err != nil {
		return Delivery{}, fmt.Errorf("build %s: %w", key, err)
	}
	res := s.out.Edit(ctx, transport.MessageRef{ChatID: key.ChatID, MessageID: id}, msg.Text, msg.Options)
	switch res.Outcome {
	case transport.OK, transport.Unmodified:
		return Delivery{MessageID: id, Action: Edited}, nil
	case transport.NotFound:
	default:
		return Delivery{}, res.Err()
	}

	s.log.Info("correlated message gone; resending",
		logx.Int64("chat_id", key.ChatID),
		logx.String("key", key.Scope),
		logx.String("kind", key.Kind.String()),
		logx.Int("stale_message_id", id),
	)
	if err := s.entries.DeleteCorrelation(ctx, key.ChatID, key.Scope, key.Kind.String(), id); err != nil {
		return Delivery{}, err
	}
	fresh := s.out.Send(ctx, transport.ChatTarget{ChatID: key.ChatID}, msg.Text, msg.Options)
	if !fresh.Succeeded() {
		return Delivery{}, fresh.Err()
	}
	if err := s.record(ctx, key, fresh.MessageID); err != nil {
		return Delivery{}, err
	}
	return Delivery{MessageID: fresh.MessageID, Action: Resent}, nil
}

// Forget removes the entry for key regardless of its message id.
func (s *Store) Forget(ctx context.Context, key Key) error {
	defer s.lock(key)()
	return s.entries.DeleteCorrelation(ctx, key.ChatID, key.Scope, key.Kind.String(), 0)
}

// Entry is one recorded message of a scope.
type Entry struct {
	Kind      Kind
	MessageID int
}

// Scope lists the recorded messages of chatID under scope. Rows with an
// unknown kind are skipped.
func (s *Store) Scope(ctx context.Context, chatID int64, scope string) ([]Entry, error) {
	rows, err := s.entries.ListCorrelations(ctx, chatID, scope)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		k, ok := ParseKind(r.Kind)
		if !ok {
			s.log.Warn("unknown correlation kind", logx.Int64("chat_id", chatID), logx.String("kind", r.Kind))
			continue
		}
		out = append(out, Entry{Kind: k, MessageID: r.MessageID})
	}
	return out, nil
}

func (s *Store) send(ctx context.Context, key Key, build BuildFunc) (int, error) {
	msg, err := build(ctx)
	if err != nil {
		return 0, fmt.Errorf("build %s: %w", key, err)
	}
	res := s.out.Send(ctx, transport.ChatTarget{ChatID: key.ChatID}, msg.Text, msg.Options)
	if !res.Succeeded() {
		return 0, res.Err()
	}
	if err := s.record(ctx, key, res.MessageID); err != nil {
		return 0, err
	}
	return res.MessageID, nil
}

func (s *Store) record(ctx context.Context, key Key, messageID int) error {
	err := s.entries.PutCorrelation(ctx, storage.Correlation{
		ChatID:    key.ChatID,
		Key:       key.Scope,
		Kind:      key.Kind.String(),
		MessageID: messageID,
	})
	if err != nil {
		// The message is out but unrecorded; the next tick may send it again.
		s.log.Error("correlation not recorded after send",
			logx.Int64("chat_id", key.ChatID),
			logx.String("kind", key.Kind.String()),
			logx.Int("message_id", messageID),
			logx.Err(err),
		)
		return fmt.Errorf("record %s: %w", key, err)
	}
	return nil
}
