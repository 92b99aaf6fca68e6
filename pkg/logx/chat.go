package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	chatTextLimit  = 3500
	chatValueLimit = 600
	chatSendWait   = 10 * time.Second
)

// leadKeys are printed first, in this order, when present.
var leadKeys = []string{"comp", "chat_id", "user_id", "sweep", "kind", "err"}

var levelMarks = map[string]string{
	"debug": "🐞",
	"info":  "ℹ️",
	"warn":  "⚠️",
	"error": "🛑",
}

func (s *Service) startWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case it := <-s.queue:
				sctx, c := context.WithTimeout(ctx, chatSendWait)
				if err := s.send(sctx, it.chatID, it.text); err != nil {
					s.chatFailures.Add(1)
				}
				c()
			}
		}
	}()
}

// ChatFailures counts log lines the chat sink failed to deliver.
func (s *Service) ChatFailures() uint64 { return s.chatFailures.Load() }

// chatWriter is a zerolog.LevelWriter that queues lines for the operator chat.
// It never blocks the caller: lines over the rate limit or a full queue are dropped.
type chatWriter struct{ svc *Service }

func (w *chatWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	chatID, lim, minLevel := s.chatID, s.limiter, s.minLevel
	s.mu.Unlock()

	if chatID == 0 || lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if msg := formatChatLine(p); msg != "" {
		select {
		case s.queue <- chatLine{chatID: chatID, text: msg}:
		default:
		}
	}
	return len(p), nil
}

// formatChatLine renders one JSON log line as HTML for a chat message.
func formatChatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return html.EscapeString(truncate(raw, chatTextLimit))
	}

	var b strings.Builder
	lvl, _ := m["level"].(string)
	if mark, ok := levelMarks[lvl]; ok {
		b.WriteString(mark + " ")
	}
	msg, _ := m["message"].(string)
	b.WriteString("<b>" + html.EscapeString(msg) + "</b>")

	seen := map[string]bool{"time": true, "level": true, "message": true, "caller": true}
	line := func(k string) {
		v := truncate(fmt.Sprint(m[k]), chatValueLimit)
		b.WriteString("\n" + html.EscapeString(k) + ": <code>" + html.EscapeString(v) + "</code>")
		seen[k] = true
	}
	for _, k := range leadKeys {
		if _, ok := m[k]; ok {
			line(k)
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		line(k)
	}
	return truncate(b.String(), chatTextLimit)
}

// truncate cuts s to maxN bytes without splitting a UTF-8 sequence.
func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	cut := max(maxN-3, 0)
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
