package caprpc

import "github.com/joeycumines/logiface"

// config holds the resolved configuration shared by LocalClient and
// QueuedClient construction.
type config struct {
	debugf func(msg string, kv ...any)
}

// Option configures a [NewLocalClient] or [NewPromiseClient] instance.
//
// This follows the same functional-option shape as
// github.com/joeycumines/go-inprocgrpc's Option and
// github.com/joeycumines/go-eventloop's LoopOption: an interface wrapping
// a single apply method, implemented by an unexported closure type.
type Option interface {
	applyOption(*config)
}

type optionFunc func(*config)

func (f optionFunc) applyOption(c *config) { f(c) }

// WithLogger attaches a structured logger. When set, dispatch starts,
// queued-client calls and tail-call forwarding are logged at Debug level. E is left to the caller
// so any logiface backend works — github.com/joeycumines/stumpy,
// logiface-zerolog, logiface-logrus, and logiface-slog all satisfy
// logiface.Event. The zero value (no WithLogger) disables logging
// entirely, at zero cost: debugf stays nil and is never called.
func WithLogger[E logiface.Event](logger *logiface.Logger[E]) Option {
	return optionFunc(func(c *config) {
		c.debugf = func(msg string, kv ...any) {
			b := logger.Debug()
			if !b.Enabled() {
				return
			}
			for i := 0; i+1 < len(kv); i += 2 {
				key, _ := kv[i].(string)
				switch v := kv[i+1].(type) {
				case string:
					b.Str(key, v)
				case int:
					b.Int(key, v)
				case uint64:
					b.Uint64(key, v)
				case error:
					b.Err(v)
				}
			}
			b.Log(msg)
		}
	})
}

func resolveOptions(opts []Option) *config {
	c := &config{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyOption(c)
	}
	return c
}

// logDebug is a nil-safe convenience wrapper so call sites don't need to
// guard on c.debugf themselves. kv is alternating key/value pairs.
func (c *config) logDebug(msg string, kv ...any) {
	if c == nil || c.debugf == nil {
		return
	}
	c.debugf(msg, kv...)
}
