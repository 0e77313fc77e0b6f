package changefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Dispatcher receives decoded events in NOTIFY order.
type Dispatcher func(Event) error

// ListenerConfig configures the NOTIFY listener. OnResync runs whenever events may
// have been lost: after a reconnect or when dispatch fails.
type ListenerConfig struct {
	DSN          string
	Channel      string
	MinReconnect time.Duration
	MaxReconnect time.Duration
	PingInterval time.Duration
	OnResync     func()
	Logger       *zap.Logger
}

// Listener turns PostgreSQL notifications into Events.
type Listener struct {
	cfg      ListenerConfig
	dispatch Dispatcher
	logger   *zap.Logger
}

// NewListener builds a listener that forwards every decoded event to dispatch.
func NewListener(cfg ListenerConfig, dispatch Dispatcher) *Listener {
	if cfg.MinReconnect <= 0 {
		cfg.MinReconnect = 10 * time.Second
	}
	if cfg.MaxReconnect < cfg.MinReconnect {
		cfg.MaxReconnect = cfg.MinReconnect
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 90 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.OnResync == nil {
		cfg.OnResync = func() {}
	}
	return &Listener{cfg: cfg, dispatch: dispatch, logger: cfg.Logger}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.cfg.DSN, l.cfg.MinReconnect, l.cfg.MaxReconnect, l.onConnEvent)
	defer listener.Close() //nolint:errcheck

	if err := listener.Listen(l.cfg.Channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.cfg.Channel, err)
	}
	l.logger.Sugar().Infow("change feed listening", "channel", l.cfg.Channel)

	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("change feed listener stopped")
			return nil
		case n, ok := <-listener.Notify:
			if !ok {
				return fmt.Errorf("listen %s: notification channel closed", l.cfg.Channel)
			}
			l.receive(n)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				l.logger.Warn("change feed ping failed", zap.Error(err))
			}
		}
	}
}

func (l *Listener) receive(n *pq.Notification) {
	if n == nil {
		// pq sends nil after a reconnect; events in the gap are lost.
		l.logger.Warn("change feed reconnected, resyncing subscribers")
		l.cfg.OnResync()
		return
	}
	l.handle(n.Extra)
}

func (l *Listener) handle(payload string) {
	ev, err := Decode(payload)
	if err != nil {
		l.logger.Warn("dropping malformed notification", zap.Error(err))
		return
	}
	if err := l.dispatch(ev); err != nil {
		l.logger.Warn("change event dispatch failed, resyncing subscribers",
			zap.String("table", ev.Table),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
		l.cfg.OnResync()
	}
}

func (l *Listener) onConnEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.logger.Info("change feed connected")
	case pq.ListenerEventDisconnected:
		l.logger.Warn("change feed disconnected", zap.Error(err))
	case pq.ListenerEventReconnected:
		l.logger.Info("change feed reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn("change feed connection attempt failed", zap.Error(err))
	}
}
