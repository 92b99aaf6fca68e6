package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	rtsup "checkinbot/internal/runtime/supervisor"
	kit "checkinbot/internal/transport"
	logx "checkinbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps outbound API calls across all chats.
	RatePerSec int
}

// Adapter is the Telegram implementation of transport.Messenger and transport.Receiver.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter

	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func senderOf(u *tele.User) kit.Sender {
	if u == nil {
		return kit.Sender{}
	}
	return kit.Sender{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName, IsBot: u.IsBot}
}

func (a *Adapter) registerHandlers() {
	// Commands without a dedicated handler fall through to OnText.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:        m.ID,
				ChatID:    m.Chat.ID,
				ChatTitle: m.Chat.Title,
				ThreadID:  m.ThreadID,
				From:      senderOf(m.Sender),
				Text:      m.Text,
				IsGroup:   m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    cb.Message.Chat.ID,
				ThreadID:  cb.Message.ThreadID,
				MessageID: cb.Message.ID,
				From:      senderOf(cb.Sender),
				Data:      strings.TrimSpace(cb.Data),
			},
		})
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

// Start begins long polling; updates are pushed to out without blocking.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if n := a.droppedUpdates.Swap(0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start() blocks until Stop(); restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates is still long-polling.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

const textLimit = 4096

func clip(s string) string {
	rs := []rune(s)
	if len(rs) <= textLimit {
		return s
	}
	return string(rs[:textLimit-1]) + "…"
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func sendOptions(opt *kit.SendOptions, chat *tele.Chat, threadID int) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: threadID}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	if opt.ReplyTo != 0 {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
		so.AllowWithoutReply = true
	}
	if rm, ok := opt.Markup.(*tele.ReplyMarkup); ok && rm != nil {
		so.ReplyMarkup = rm
	}
	return so
}

func (a *Adapter) Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) kit.Result {
	if err := a.wait(ctx); err != nil {
		return kit.Fail(kit.Failed, err)
	}
	chat := &tele.Chat{ID: to.ChatID}
	msg, err := a.bot.Send(chat, clip(text), sendOptions(opt, chat, to.ThreadID))
	if err != nil {
		return Classify(err)
	}
	return kit.Sent(msg.ID)
}

func (a *Adapter) Edit(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) kit.Result {
	if err := a.wait(ctx); err != nil {
		return kit.Fail(kit.Failed, err)
	}
	chat := &tele.Chat{ID: ref.ChatID}
	so := sendOptions(opt, chat, 0)
	so.ReplyTo = nil
	_, err := a.bot.Edit(&tele.Message{ID: ref.MessageID, Chat: chat}, clip(text), so)
	if err != nil {
		return Classify(err)
	}
	return kit.Result{Outcome: kit.OK, MessageID: ref.MessageID}
}

func (a *Adapter) RemoveMarkup(ctx context.Context, ref kit.MessageRef) kit.Result {
	if err := a.wait(ctx); err != nil {
		return kit.Fail(kit.Failed, err)
	}
	_, err := a.bot.EditReplyMarkup(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}, nil)
	if err != nil {
		return Classify(err)
	}
	return kit.Result{Outcome: kit.OK, MessageID: ref.MessageID}
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// SendText adapts the adapter to logx.ChatSender.
func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) error {
	return a.Send(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true}).Err()
}
