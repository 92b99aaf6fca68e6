package adapter

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "checkinbot/internal/transport"
)

// Telegram reports most failures as free-form descriptions, so the last
// resort is a match on the lowercased text.
var (
	unmodifiedHints = []string{"message is not modified"}
	notFoundHints   = []string{
		"message to edit not found",
		"message to delete not found",
		"message not found",
		"message_id_invalid",
		"message can't be edited",
	}
	forbiddenHints = []string{
		"forbidden",
		"bot was kicked",
		"bot was blocked",
		"chat not found",
		"not enough rights",
		"have no rights",
		"group chat was upgraded",
		"chat was deactivated",
		"(403)",
	}
	rateHints = []string{"too many requests", "(429)"}
)

// Classify maps a telebot error to a transport.Result.
func Classify(err error) kit.Result {
	if err == nil {
		return kit.Result{Outcome: kit.OK}
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return kit.Result{Outcome: kit.RateLimited, RetryAfter: time.Duration(flood.RetryAfter) * time.Second, Cause: err}
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return kit.Result{Outcome: kit.RateLimited, RetryAfter: time.Duration(floodPtr.RetryAfter) * time.Second, Cause: err}
	}
	var group tele.GroupError
	if errors.As(err, &group) {
		// Migrated to a supergroup: this chat id is gone for good.
		return kit.Fail(kit.Forbidden, err)
	}

	desc := err.Error()
	var te *tele.Error
	if errors.As(err, &te) && te != nil {
		switch te.Code {
		case 403:
			return kit.Fail(kit.Forbidden, err)
		case 429:
			return kit.Result{Outcome: kit.RateLimited, Cause: err}
		}
		desc = te.Description + " " + desc
	}

	low := strings.ToLower(desc)
	switch {
	case containsAny(low, unmodifiedHints):
		return kit.Fail(kit.Unmodified, err)
	case containsAny(low, notFoundHints):
		return kit.Fail(kit.NotFound, err)
	case containsAny(low, forbiddenHints):
		return kit.Fail(kit.Forbidden, err)
	case containsAny(low, rateHints):
		return kit.Result{Outcome: kit.RateLimited, Cause: err}
	default:
		return kit.Fail(kit.Failed, err)
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
