package push

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/observability"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Supervisor keeps a channel subscription alive across dropped connections.
// Every connection is dialed fresh and the handler is bound again once the
// new connection is subscribed. A server that is down at startup is retried
// the same way.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	// OnSubscribed runs after every successful subscribe, with resumed set
	// for all but the first. Events sent while disconnected are lost, so
	// callers use it to resynchronise. Set it before Listen.
	OnSubscribed func(resumed bool)
}

func NewSupervisor(cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, logger: logger, minBackoff: defaultMinBackoff, maxBackoff: defaultMaxBackoff}
}

// Listen never fails up front; connecting happens in the background until
// stop is called. stop leaves the channel and closes the live connection.
func (s *Supervisor) Listen(ctx context.Context, channel string, handler func(event string, data []byte)) (func() error, error) {
	lctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.run(lctx, channel, handler)
	}()

	var once sync.Once
	stop := func() error {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
		return nil
	}
	return stop, nil
}

func (s *Supervisor) run(ctx context.Context, channel string, handler func(event string, data []byte)) {
	backoff := s.minBackoff
	subscribed := 0
	for {
		c, unbind, err := s.connect(ctx, channel, handler)
		if err == nil {
			observability.PushSessionsTotal.WithLabelValues("subscribed").Inc()
			subscribed++
			backoff = s.minBackoff
			if s.OnSubscribed != nil {
				s.OnSubscribed(subscribed > 1)
			}
			select {
			case <-ctx.Done():
				if err := unbind(); err != nil {
					s.logger.Warn("push unsubscribe failed", "channel", channel, "error", err)
				}
				_ = c.Close()
				return
			case <-c.Done():
				observability.PushSessionsTotal.WithLabelValues("dropped").Inc()
				s.logger.Warn("push connection dropped, redialing", "channel", channel, "error", c.Err(), "backoff", backoff.String())
				_ = c.Close()
			}
		} else {
			if ctx.Err() != nil {
				return
			}
			observability.PushSessionsTotal.WithLabelValues("failed").Inc()
			s.logger.Warn("push connect failed", "channel", channel, "error", err, "backoff", backoff.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

func (s *Supervisor) connect(ctx context.Context, channel string, handler func(event string, data []byte)) (*Client, func() error, error) {
	c, err := Dial(ctx, s.cfg, s.logger)
	if err != nil {
		return nil, nil, err
	}
	unbind, err := c.Listen(ctx, channel, handler)
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	return c, unbind, nil
}
