// Package inbound routes chat updates: it registers tenants and members
// from group traffic, serves the chat commands and turns button presses
// into check-ins, poll answers and stats menu moves.
package inbound

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"checkinbot/internal/checkin"
	"checkinbot/internal/clock"
	"checkinbot/internal/render"
	"checkinbot/internal/runtime/supervisor"
	"checkinbot/internal/session"
	"checkinbot/internal/stats"
	"checkinbot/internal/storage"
	"checkinbot/internal/transport"
	logx "checkinbot/pkg/logx"
	"checkinbot/pkg/tgui"

	"github.com/google/uuid"
)

// Answerer closes the loading state of a pressed button.
type Answerer interface {
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

type Config struct {
	DefaultTimezone string
	Timeout         time.Duration
}

var DefaultConfig = Config{DefaultTimezone: "Europe/Minsk", Timeout: 15 * time.Second}

const tryAgain = "Something went wrong, try again."

// Request is one routed update.
type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	From    transport.Sender
	Command string
	Args    []string
	Logger  logx.Logger
}

type Router struct {
	store    *storage.Store
	sessions *session.Service
	checkin  *checkin.Service
	stats    *stats.Service
	resolver *clock.Resolver
	clock    clock.Clock
	out      transport.Messenger
	answer   Answerer
	log      logx.Logger

	cfg      atomic.Pointer[Config]
	commands map[string]command
}

func NewRouter(store *storage.Store, sessions *session.Service, ci *checkin.Service, st *stats.Service, resolver *clock.Resolver, clk clock.Clock, out transport.Messenger, answer Answerer, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System
	}
	r := &Router{
		store:    store,
		sessions: sessions,
		checkin:  ci,
		stats:    st,
		resolver: resolver,
		clock:    clk,
		out:      out,
		answer:   answer,
		log:      log.With(logx.String("comp", "inbound")),
	}
	r.commands = r.registry()
	r.Apply(DefaultConfig)
	return r
}

func (r *Router) Apply(cfg Config) { r.cfg.Store(&cfg) }

func (r *Router) config() Config { return *r.cfg.Load() }

// Run consumes updates until ctx ends or the channel closes. Updates of one
// chat are handled in order by the same worker.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update, workers int) error {
	if workers < 1 {
		workers = 1
	}
	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(r.log), supervisor.WithCancelOnError(false))
	shards := make([]chan transport.Update, workers)
	for i := range shards {
		ch := make(chan transport.Update, 64)
		shards[i] = ch
		sup.GoRestart("inbound.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-ch:
					if !ok {
						return nil
					}
					_ = r.Handle(c, up)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("inbound router started", logx.Int("workers", workers))

	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.log.Info("inbound router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			ch := shards[shardOf(chatOf(up), workers)]
			select {
			case ch <- up:
			default:
				r.log.Warn("inbound queue full; update dropped", logx.Int64("chat_id", chatOf(up)))
				if up.Callback != nil {
					_ = r.answer.AnswerCallback(ctx, up.Callback.ID, "Busy, try again.")
				}
			}
		}
	}
}

func chatOf(up transport.Update) int64 {
	switch {
	case up.Message != nil:
		return up.Message.ChatID
	case up.Callback != nil:
		return up.Callback.ChatID
	}
	return 0
}

func shardOf(chatID int64, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(chatID, 10)))
	return int(h.Sum32() % uint32(n))
}

// Handle routes one update synchronously.
func (r *Router) Handle(ctx context.Context, up transport.Update) error {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message == nil {
			return nil
		}
		return r.handleMessage(ctx, up)
	case transport.UpdateCallback:
		if up.Callback == nil {
			return nil
		}
		return r.handleCallback(ctx, up)
	}
	return nil
}

func (r *Router) newRequest(up transport.Update, chat transport.ChatTarget, from transport.Sender, cmd string) *Request {
	return &Request{
		Update:  up,
		Chat:    chat,
		From:    from,
		Command: cmd,
		Logger: r.log.With(
			logx.String("rid", uuid.NewString()[:8]),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from.ID),
			logx.String("cmd", cmd),
		),
	}
}

func (r *Router) handleMessage(ctx context.Context, up transport.Update) error {
	msg := up.Message
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if !msg.IsGroup {
		if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
			r.reply(ctx, chat, "Add me to a group chat to start daily check-ins.")
		}
		return nil
	}
	if err := r.register(ctx, msg.ChatID, msg.ChatTitle, msg.From); err != nil {
		r.log.Warn("register failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		return err
	}

	word, args, ok := parseCommand(msg.Text)
	if !ok {
		return nil
	}
	cmd, ok := r.commands[word]
	if !ok {
		return nil
	}
	req := r.newRequest(up, chat, msg.From, word)
	req.Args = args
	return r.pipeline(cmd.handle)(ctx, req)
}

func (r *Router) handleCallback(ctx context.Context, up transport.Update) error {
	cb := up.Callback
	prefix, name, ok := tgui.ParseData(cb.Data)
	if !ok {
		return nil
	}
	switch prefix {
	case render.CallbackPrefix:
		if action, ok := checkin.ParseAction(name); ok {
			return r.pressed(ctx, up, name, action.String(), func(ctx context.Context) (string, error) {
				res, err := r.checkin.Do(ctx, cb.ChatID, cb.From.ID, action)
				return checkin.Reply(action, res, err), err
			})
		}
		if p, choice, ok := render.ParsePollAction(name); ok {
			return r.pressed(ctx, up, name, p.String(), func(ctx context.Context) (string, error) {
				_, err := r.checkin.Rate(ctx, cb.ChatID, cb.From.ID, cb.MessageID, p, choice)
				return checkin.RateReply(choice, err), err
			})
		}
	case stats.CallbackPrefix:
		if v, ok := stats.ParseView(name); ok {
			return r.pressed(ctx, up, name, "stats", func(ctx context.Context) (string, error) {
				return r.navigate(ctx, cb, v)
			})
		}
	default:
		return nil
	}
	_ = r.answer.AnswerCallback(ctx, cb.ID, "")
	return nil
}

// pressed runs one button press through the pipeline. do returns the text
// the pressed button is answered with.
func (r *Router) pressed(ctx context.Context, up transport.Update, name, label string, do func(ctx context.Context) (string, error)) error {
	cb := up.Callback
	chat := transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := r.newRequest(up, chat, cb.From, "cb:"+name)

	h := r.pipeline(func(ctx context.Context, req *Request) error {
		if err := r.register(ctx, cb.ChatID, "", cb.From); err != nil {
			_ = r.answer.AnswerCallback(ctx, cb.ID, tryAgain)
			return err
		}
		text, err := do(ctx)
		_ = r.answer.AnswerCallback(ctx, cb.ID, text)
		return err
	}, countAction(label))
	return h(ctx, req)
}

// navigate moves the stats menu of cb to view v in place.
func (r *Router) navigate(ctx context.Context, cb *transport.Callback, v stats.View) (string, error) {
	res, err := r.today(ctx, cb.ChatID)
	if err != nil {
		return tryAgain, err
	}
	post, err := r.stats.Navigate(ctx, cb.ChatID, cb.From.ID, cb.MessageID, res.Date, v)
	if errors.Is(err, stats.ErrNotOwner) {
		return "Open your own menu with /stats.", err
	}
	if err != nil {
		return tryAgain, err
	}
	ref := transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	if out := r.out.Edit(ctx, ref, post.Text, post.Options()); !out.Succeeded() {
		return tryAgain, out.Err()
	}
	return "", nil
}

// today resolves the local day of chatID.
func (r *Router) today(ctx context.Context, chatID int64) (clock.Resolution, error) {
	tenant, err := r.store.GetTenant(ctx, chatID)
	if err != nil {
		return clock.Resolution{}, err
	}
	return r.resolver.Resolve(tenant.Zone(r.config().DefaultTimezone), r.clock.Now())
}

// isRejection reports user-facing refusals that are not failures.
func isRejection(err error) bool {
	rejections := []error{
		checkin.ErrBlocked, checkin.ErrRateLimited, checkin.ErrLimit, checkin.ErrNothingToUndo,
		checkin.ErrNoActivity, checkin.ErrStale, session.ErrClosed, stats.ErrNotOwner,
	}
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// register records the chat as an enabled tenant and the sender as its member.
func (r *Router) register(ctx context.Context, chatID int64, title string, from transport.Sender) error {
	return r.store.InTx(ctx, func(tx *storage.Store) error {
		reenabled, err := tx.UpsertTenant(ctx, chatID, title)
		if err != nil {
			return err
		}
		if reenabled {
			r.log.Info("tenant re-enabled", logx.Int64("chat_id", chatID))
		}
		if from.ID == 0 || from.IsBot {
			return nil
		}
		if err := tx.UpsertUser(ctx, storage.User{ID: from.ID, Username: from.Username, FirstName: from.FirstName, LastName: from.LastName}); err != nil {
			return err
		}
		added, err := tx.AddMember(ctx, chatID, from.ID)
		if err == nil && added {
			r.log.Info("member joined", logx.Int64("chat_id", chatID), logx.Int64("user_id", from.ID))
		}
		return err
	})
}

func (r *Router) reply(ctx context.Context, chat transport.ChatTarget, text string) {
	res := r.out.Send(ctx, chat, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if !res.Succeeded() {
		r.log.Warn("reply failed", logx.Int64("chat_id", chat.ChatID), logx.Err(res.Err()))
	}
}

// parseCommand splits "/word@bot arg..." into its lowercased word and args.
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), fields[1:], true
}
