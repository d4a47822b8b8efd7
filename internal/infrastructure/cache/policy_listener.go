// Package cache keeps in-process caches in step with the database through
// PostgreSQL LISTEN/NOTIFY.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"backoffice/pkg/logger"
)

// Invalidator drops cached policies. An empty family drops all of them.
type Invalidator interface {
	Invalidate(tenantID, family string)
}

// waitTimeout bounds one WaitForNotification call so Stop is noticed.
const waitTimeout = 30 * time.Second

// PolicyListener invalidates cached numbering policies when another process
// changes them. TTL expiry still applies if notifications are lost.
type PolicyListener struct {
	pool    *pgxpool.Pool
	channel string
	target  Invalidator

	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewPolicyListener creates a listener on channel.
func NewPolicyListener(pool *pgxpool.Pool, channel string, target Invalidator) *PolicyListener {
	return &PolicyListener{pool: pool, channel: channel, target: target}
}

// Start begins listening in the background. Calling it twice is a no-op.
func (l *PolicyListener) Start(ctx context.Context) {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()
	if l.started {
		return
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.started = true

	l.wg.Add(1)
	go l.listenLoop()
	logger.Info(l.ctx, "policy listener started", "channel", l.channel)
}

// Stop cancels the listener and waits for it to exit.
func (l *PolicyListener) Stop() {
	l.lifecycleMu.Lock()
	if !l.started {
		l.lifecycleMu.Unlock()
		return
	}
	cancel := l.cancel
	l.started = false
	l.cancel = nil
	l.lifecycleMu.Unlock()

	cancel()
	l.wg.Wait()
	logger.Info(context.Background(), "policy listener stopped", "channel", l.channel)
}

func (l *PolicyListener) listenLoop() {
	defer l.wg.Done()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.MaxInterval = 30 * time.Second
	expo.MaxElapsedTime = 0
	retry := backoff.WithContext(expo, l.ctx)

	for l.ctx.Err() == nil {
		began := time.Now()
		err := l.session()
		if l.ctx.Err() != nil {
			return
		}
		if time.Since(began) > time.Minute {
			retry.Reset()
		}
		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		logger.Error(l.ctx, "policy listener disconnected", "error", err, "retry_in", wait)
		// Anything may have changed while disconnected.
		l.target.Invalidate("", "")

		select {
		case <-l.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session holds one LISTEN connection until it fails or the listener stops.
func (l *PolicyListener) session() error {
	conn, err := l.pool.Acquire(l.ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(l.ctx, "LISTEN "+l.channel); err != nil {
		return err
	}
	logger.Info(l.ctx, "listening for policy changes", "channel", l.channel)

	for {
		waitCtx, cancel := context.WithTimeout(l.ctx, waitTimeout)
		n, err := conn.Conn().WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if l.ctx.Err() != nil {
				return nil
			}
			if waitCtx.Err() != nil {
				continue
			}
			return err
		}
		l.handle(n.Payload)
	}
}

// handle applies one "tenant|family" payload. Malformed payloads flush everything.
func (l *PolicyListener) handle(payload string) {
	tenantID, family, ok := strings.Cut(strings.TrimSpace(payload), "|")
	if !ok || tenantID == "" {
		logger.Warn(l.ctx, "unrecognized policy notification, flushing cache", "payload", payload)
		l.target.Invalidate("", "")
		return
	}
	logger.Debug(l.ctx, "numbering policy changed", "tenant_id", tenantID, "family", family)
	l.target.Invalidate(tenantID, family)
}
