package reminder

import (
	"fmt"

	"checkinbot/internal/correlation"
)

// Kind is the closed set of time-gated notifications.
type Kind uint8

const (
	EndOfDay Kind = iota + 1
	LastCall
	PeriodSummary
	Anniversary
	Milestone
)

// Kinds lists every Kind in dispatch order.
func Kinds() []Kind { return []Kind{Milestone, EndOfDay, LastCall, PeriodSummary, Anniversary} }

func (k Kind) String() string { return k.Correlation().String() }

// Correlation maps the kind to its correlation key kind.
func (k Kind) Correlation() correlation.Kind {
	switch k {
	case EndOfDay:
		return correlation.EndOfDay
	case LastCall:
		return correlation.LastCall
	case PeriodSummary:
		return correlation.PeriodSummary
	case Anniversary:
		return correlation.Anniversary
	case Milestone:
		return correlation.Milestone
	default:
		panic(fmt.Sprintf("reminder: unknown kind %d", uint8(k)))
	}
}

// Notice is the session flag bit recording that the kind was handled today.
func (k Kind) Notice() uint32 { return 1 << uint32(k) }

// Outcome tells a send apart from "nothing to do".
type Outcome uint8

const (
	NotDue Outcome = iota
	AlreadyHandled
	// Suppressed: due, but the content was empty or notifications are off.
	// Recorded as handled.
	Suppressed
	Sent
)

func (o Outcome) String() string {
	switch o {
	case NotDue:
		return "not_due"
	case AlreadyHandled:
		return "already_handled"
	case Suppressed:
		return "suppressed"
	case Sent:
		return "sent"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}
