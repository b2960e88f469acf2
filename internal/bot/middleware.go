package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "kibot/pkg/logx"
)

// HandlerFunc produces the reply for a request. An error means an upstream
// failed; the dispatcher logs it and answers with the unavailable reply.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (reply string, err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Log.Error("handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					reply, err = "", fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// slowRequest promotes a successful request log line to info.
const slowRequest = 750 * time.Millisecond

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			log := req.Log.With(logx.String("cmd", req.Command), logx.Int("args", len(req.Args)), logx.Duration("dur", time.Since(start)))
			switch {
			case err != nil:
				log.Warn("request failed", logx.Err(err))
			case time.Since(start) >= slowRequest:
				log.Info("request handled")
			default:
				log.Debug("request handled")
			}
			return reply, err
		}
	}
}
