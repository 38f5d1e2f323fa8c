package service

import (
	"context"
	"fmt"
	"kis_trader/internal/models"
	notify "kis_trader/internal/modules/notify/service"
	"kis_trader/pkg/logger"
	"kis_trader/pkg/metrics"
	"sync/atomic"
	"time"
)

const (
	defaultInboxSize = 256
	defaultInboxWait = 5 * time.Second
)

// Evaluator is called once per tick, in arrival order. completed=true ends the monitor.
type Evaluator interface {
	Evaluate(ctx context.Context, sess models.Session, tick models.Tick) (completed bool, err error)
}

// Monitor drains one instrument's inbox.
type Monitor struct {
	ticker  string
	inbox   chan models.Tick
	session atomic.Pointer[models.Session]

	cancel    context.CancelFunc
	done      chan struct{}
	completed atomic.Bool
}

func (m *Monitor) Ticker() string { return m.ticker }

// Session is the latest snapshot handed to Watch.
func (m *Monitor) Session() models.Session { return *m.session.Load() }

func (m *Monitor) Done() <-chan struct{} { return m.done }

// Completed is true once the monitor ended because the position was exited.
func (m *Monitor) Completed() bool { return m.completed.Load() }

func (m *Monitor) Stop() { m.cancel() }

// Watch subscribes sess.Ticker and starts its monitor. ctx bounds the monitor's lifetime.
// A second Watch for the same ticker only refreshes the session snapshot and
// re-asserts the subscription; started is false then.
func (c *Client) Watch(ctx context.Context, sess models.Session, eval Evaluator) (m *Monitor, started bool, err error) {
	size := c.cfg.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}

	mctx, cancel := context.WithCancel(ctx)
	m = &Monitor{
		ticker: sess.Ticker,
		inbox:  make(chan models.Tick, size),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.session.Store(&sess)

	cur, created := c.reg.attach(m)
	if !created {
		cancel()
		cur.session.Store(&sess)
		if err := c.Subscribe(ctx, sess.Ticker); err != nil {
			return cur, false, err
		}
		return cur, false, nil
	}

	if err := c.Subscribe(ctx, sess.Ticker); err != nil {
		c.reg.detach(m)
		cancel()
		close(m.done)
		return nil, false, fmt.Errorf("watch %s: %w", sess.Ticker, err)
	}

	metrics.ActiveMonitors.Inc()
	c.alert(ctx, notify.LevelInfo, "Monitoring started", notify.Fields{
		"ticker":      sess.Ticker,
		"avg_price":   sess.AvgPrice,
		"quantity":    sess.Quantity,
		"target_date": sess.TargetDate.Format("2006-01-02"),
	})

	go c.runMonitor(mctx, m, eval)
	return m, true, nil
}

// Unwatch stops the monitor for ticker, if any, and unsubscribes it.
func (c *Client) Unwatch(ctx context.Context, ticker string) error {
	if m, ok := c.reg.monitor(ticker); ok {
		m.Stop()
	}
	return c.Unsubscribe(ctx, ticker)
}

func (c *Client) Monitors() []*Monitor { return c.reg.Monitors() }

// Watching lists the tickers with a running monitor.
func (c *Client) Watching() []string {
	ms := c.reg.Monitors()
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ticker)
	}
	return out
}

func (c *Client) deliver(tick models.Tick) {
	inbox, reason := c.reg.route(tick.Ticker)
	if inbox == nil {
		metrics.TicksDropped.WithLabelValues(reason).Inc()
		return
	}
	select {
	case inbox <- tick:
	default:
		metrics.TicksDropped.WithLabelValues("inbox_full").Inc()
		logger.Warn("[FEED] %s inbox full, tick dropped", tick.Ticker)
	}
}

func (c *Client) runMonitor(ctx context.Context, m *Monitor, eval Evaluator) {
	defer func() {
		c.reg.detach(m)
		metrics.ActiveMonitors.Dec()
		close(m.done)
	}()

	wait := c.inboxWait
	if wait <= 0 {
		wait = defaultInboxWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	logger.Info("[MONITOR] %s started", m.ticker)
	for {
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			logger.Info("[MONITOR] %s cancelled", m.ticker)
			return

		case <-timer.C:
			// keepalive

		case tick := <-m.inbox:
			completed, err := m.evaluate(ctx, eval, tick)
			if err != nil {
				logger.Error("[MONITOR] %s: %v", m.ticker, err)
				continue
			}
			if completed {
				m.completed.Store(true)
				if err := c.Unsubscribe(ctx, m.ticker); err != nil {
					logger.Error("[MONITOR] %s unsubscribe after exit: %v", m.ticker, err)
				}
				logger.Info("[MONITOR] %s exit completed", m.ticker)
				return
			}
		}
	}
}

// evaluate isolates one tick: a panic becomes an error and the loop goes on.
func (m *Monitor) evaluate(ctx context.Context, eval Evaluator, tick models.Tick) (completed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic on tick: %v", r)
		}
	}()
	return eval.Evaluate(ctx, m.Session(), tick)
}
