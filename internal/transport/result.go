package transport

import (
	"errors"
	"fmt"
	"time"
)

// Outcome is the closed set of transport results.
type Outcome uint8

const (
	OK Outcome = iota
	// Unmodified: edit with identical content. Treated as success.
	Unmodified
	// NotFound: the referenced message no longer exists.
	NotFound
	// RateLimited: retry after Result.RetryAfter.
	RateLimited
	// Forbidden: the bot can no longer reach the chat.
	Forbidden
	// Failed: anything else (network, bad request, timeout).
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Unmodified:
		return "unmodified"
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	case Forbidden:
		return "forbidden"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Result is returned by every Messenger call.
type Result struct {
	Outcome    Outcome
	MessageID  int           // Send only
	RetryAfter time.Duration // RateLimited only
	Cause      error         // underlying error, if any
}

func Sent(messageID int) Result { return Result{Outcome: OK, MessageID: messageID} }

func Fail(o Outcome, cause error) Result { return Result{Outcome: o, Cause: cause} }

// Succeeded reports OK or Unmodified.
func (r Result) Succeeded() bool { return r.Outcome == OK || r.Outcome == Unmodified }

// Err returns nil on success, otherwise an *Error wrapping the cause.
func (r Result) Err() error {
	if r.Succeeded() {
		return nil
	}
	return &Error{Outcome: r.Outcome, RetryAfter: r.RetryAfter, Cause: r.Cause}
}

// Error carries a non-success Result through error returns.
type Error struct {
	Outcome    Outcome
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return "transport " + e.Outcome.String() + ": " + e.Cause.Error()
	}
	return "transport " + e.Outcome.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// OutcomeOf extracts the Outcome from an error chain; Failed if none.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OK
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Outcome
	}
	return Failed
}

// IsForbidden reports a permanent access error anywhere in err's chain.
func IsForbidden(err error) bool { return err != nil && OutcomeOf(err) == Forbidden }
