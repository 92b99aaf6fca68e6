package inbound

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"checkinbot/internal/observability"
	logx "checkinbot/pkg/logx"
)

// slowRequest promotes the completion log of a handler to Info.
const slowRequest = 750 * time.Millisecond

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// wrap applies mw around h; mw[0] runs outermost.
func wrap(h HandlerFunc, mw ...Middleware) HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// pipeline is the stack every command and button press runs through.
func (r *Router) pipeline(h HandlerFunc, extra ...Middleware) HandlerFunc {
	base := []Middleware{recoverPanic, logRequest, withTimeout(r.config().Timeout)}
	return wrap(h, append(base, extra...)...)
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func recoverPanic(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				req.Logger.Error("handler panic",
					logx.Any("panic", rec),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return next(ctx, req)
	}
}

func logRequest(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		d := time.Since(start)

		fields := []logx.Field{logx.Duration("dur", d)}
		switch {
		case err != nil:
			req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
		case d >= slowRequest:
			req.Logger.Info("request slow", fields...)
		default:
			req.Logger.Debug("request ok", fields...)
		}
		return err
	}
}

// countAction records the result of a button press under label and
// swallows user-facing refusals so they are not logged as failures.
func countAction(label string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			result := "ok"
			switch {
			case err == nil:
			case isRejection(err):
				result = "rejected"
				req.Logger.Debug("action rejected", logx.Err(err))
				err = nil
			default:
				result = "error"
			}
			observability.Actions.WithLabelValues(label, result).Inc()
			return err
		}
	}
}
