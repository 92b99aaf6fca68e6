package adapter

import (
	"errors"
	"fmt"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "checkinbot/internal/transport"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want kit.Outcome
	}{
		{"nil", nil, kit.OK},
		{"not modified", fmt.Errorf("telegram: Bad Request: message is not modified: specified new message content and reply markup are exactly the same (400)"), kit.Unmodified},
		{"edit not found", fmt.Errorf("telegram: Bad Request: message to edit not found (400)"), kit.NotFound},
		{"kicked", tele.ErrKickedFromGroup, kit.Forbidden},
		{"blocked wrapped", fmt.Errorf("telebot: %w", tele.ErrBlockedByUser), kit.Forbidden},
		{"chat not found", tele.ErrChatNotFound, kit.Forbidden},
		{"plain 403", fmt.Errorf("telegram: Forbidden: bot is not a member of the supergroup chat (403)"), kit.Forbidden},
		{"429 without params", tele.NewError(429, "Too Many Requests: retry later"), kit.RateLimited},
		{"network", errors.New("dial tcp: i/o timeout"), kit.Failed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err).Outcome; got != tt.want {
				t.Fatalf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyFloodRetryAfter(t *testing.T) {
	t.Parallel()
	res := Classify(tele.FloodError{RetryAfter: 7})
	if res.Outcome != kit.RateLimited || res.RetryAfter != 7*time.Second {
		t.Fatalf("result = %+v", res)
	}
}

func TestClip(t *testing.T) {
	t.Parallel()
	short := "hello"
	if clip(short) != short {
		t.Fatal("short text must be unchanged")
	}
	long := make([]rune, textLimit+10)
	for i := range long {
		long[i] = 'я'
	}
	if got := []rune(clip(string(long))); len(got) != textLimit {
		t.Fatalf("clip length = %d", len(got))
	}
}
