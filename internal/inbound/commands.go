package inbound

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"checkinbot/internal/clock"
	"checkinbot/internal/correlation"
	"checkinbot/internal/storage"
	"checkinbot/internal/transport"
	logx "checkinbot/pkg/logx"
	"checkinbot/pkg/tgui"
)

type command struct {
	usage       string
	description string
	handle      HandlerFunc
}

func (r *Router) registry() map[string]command {
	return map[string]command{
		"start":    {"/start", "post today's check-in", r.cmdStart},
		"help":     {"/help", "show this help", r.cmdHelp},
		"timezone": {"/timezone Area/City", "set the chat's timezone", r.cmdTimezone},
		"posttime": {"/posttime HH:MM", "set the daily post time", r.cmdPostTime},
		"notify":   {"/notify on|off", "turn reminders on or off", r.cmdNotify},
		"stats":    {"/stats", "show check-in stats", r.cmdStats},
		"forget":   {"/forget confirm", "erase your check-ins in this chat", r.cmdForget},
	}
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	res, err := r.today(ctx, req.Chat.ChatID)
	if err != nil {
		r.reply(ctx, req.Chat, "This chat's timezone is invalid. Fix it with /timezone.")
		return err
	}
	if res.Window == clock.BlockedTransition {
		r.reply(ctx, req.Chat, "The day is being closed. Try again in a few minutes.")
		return nil
	}
	sess, err := r.sessions.GetOrCreate(ctx, req.Chat.ChatID, res.Date)
	if err != nil {
		return err
	}
	if sess.Closed() {
		r.reply(ctx, req.Chat, "Today's session is already closed.")
		return nil
	}
	del, err := r.sessions.PostDaily(ctx, sess)
	if err != nil {
		return err
	}
	if del.Action == correlation.Reused {
		// Bring the existing post up to date instead of duplicating it.
		_, err = r.sessions.RefreshDaily(ctx, sess)
	}
	return err
}

// cmdStats opens the sender's stats menu. A second call on the same day
// resets the existing menu and points at it.
func (r *Router) cmdStats(ctx context.Context, req *Request) error {
	if req.From.ID == 0 || req.From.IsBot {
		return nil
	}
	res, err := r.today(ctx, req.Chat.ChatID)
	if err != nil {
		r.reply(ctx, req.Chat, "This chat's timezone is invalid. Fix it with /timezone.")
		return err
	}
	del, err := r.stats.Open(ctx, req.Chat.ChatID, req.From.ID, res.Date)
	if err != nil {
		return err
	}
	if del.Action == correlation.Edited {
		opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyTo: del.MessageID}
		if out := r.out.Send(ctx, req.Chat, "Your stats are above 👆", opt); !out.Succeeded() {
			req.Logger.Warn("reply failed", logx.Err(out.Err()))
		}
	}
	return nil
}

// cmdForget erases the sender from this chat. It needs the literal
// argument "confirm".
func (r *Router) cmdForget(ctx context.Context, req *Request) error {
	if req.From.ID == 0 || req.From.IsBot {
		return nil
	}
	if len(req.Args) != 1 || strings.ToLower(req.Args[0]) != "confirm" {
		r.reply(ctx, req.Chat, "This erases your check-ins and streak in this chat. Send /forget confirm to go ahead.")
		return nil
	}
	res, err := r.today(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if _, err := r.sessions.Forget(ctx, req.Chat.ChatID, req.From.ID, res.Date); err != nil {
		return err
	}
	r.reply(ctx, req.Chat, "Done. Your check-ins here are erased; writing in this chat adds you back.")
	return nil
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := []tgui.H{tgui.B("Commands")}
	for _, name := range names {
		c := r.commands[name]
		lines = append(lines, tgui.JoinH(" ", tgui.Code(c.usage), tgui.Esc("- "+c.description)))
	}
	r.reply(ctx, req.Chat, tgui.Lines(lines...).String())
	return nil
}

func (r *Router) cmdTimezone(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		r.reply(ctx, req.Chat, "Usage: /timezone Area/City")
		return nil
	}
	tz := req.Args[0]
	if _, err := r.resolver.Location(tz); err != nil {
		r.reply(ctx, req.Chat, tgui.Esc(fmt.Sprintf("Unknown timezone %q.", tz)).String())
		return nil
	}
	if err := r.store.UpdateTenantSettings(ctx, req.Chat.ChatID, storage.TenantSettings{Timezone: &tz}); err != nil {
		return err
	}
	r.reply(ctx, req.Chat, tgui.Esc("Timezone set to "+tz+".").String())
	return nil
}

func (r *Router) cmdPostTime(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		r.reply(ctx, req.Chat, "Usage: /posttime HH:MM")
		return nil
	}
	tod, err := clock.ParseTimeOfDay(req.Args[0])
	if err != nil {
		r.reply(ctx, req.Chat, "Usage: /posttime HH:MM")
		return nil
	}
	at := tod.String()
	if err := r.store.UpdateTenantSettings(ctx, req.Chat.ChatID, storage.TenantSettings{PostAt: &at}); err != nil {
		return err
	}
	r.reply(ctx, req.Chat, "Daily post time set to "+at+".")
	return nil
}

var errBadToggle = errors.New("expected on or off")

func parseToggle(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "1":
		return true, nil
	case "off", "no", "0":
		return false, nil
	}
	return false, errBadToggle
}

func (r *Router) cmdNotify(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		r.reply(ctx, req.Chat, "Usage: /notify on|off")
		return nil
	}
	on, err := parseToggle(req.Args[0])
	if err != nil {
		r.reply(ctx, req.Chat, "Usage: /notify on|off")
		return nil
	}
	if err := r.store.UpdateTenantSettings(ctx, req.Chat.ChatID, storage.TenantSettings{Notifications: &on}); err != nil {
		return err
	}
	if on {
		r.reply(ctx, req.Chat, "Reminders are on.")
	} else {
		r.reply(ctx, req.Chat, "Reminders are off.")
	}
	return nil
}
