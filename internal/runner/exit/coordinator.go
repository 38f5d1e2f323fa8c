package exit

import (
	"context"
	"errors"
	"fmt"
	"kis_trader/internal/models"
	"kis_trader/internal/modules/config"
	notify "kis_trader/internal/modules/notify/service"
	storage "kis_trader/internal/modules/storage/service"
	"kis_trader/internal/runner/execution"
	"kis_trader/pkg/exception"
	"kis_trader/pkg/logger"
	"kis_trader/pkg/metrics"
	"kis_trader/pkg/tracing"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Feed is the subscription side of the market feed.
type Feed interface {
	Subscribe(ctx context.Context, ticker string) error
	Unsubscribe(ctx context.Context, ticker string) error
}

// Seller sells a whole session at the observed price.
type Seller interface {
	Sell(ctx context.Context, sess models.Session, price int64) execution.Result
}

// Coordinator evaluates ticks against the exit rules and runs at most one exit per ticker at a time.
type Coordinator struct {
	rules       Rules
	loc         *time.Location
	lockTimeout time.Duration

	locks    *LockRegistry
	feed     Feed
	seller   Seller
	sessions storage.SessionStore
	alerts   notify.Sink
	now      func() time.Time

	mu     sync.Mutex
	exited map[exitKey]struct{}
}

// exitKey identifies one session lifetime; ids alone are reused across sessions.
type exitKey struct {
	id     int64
	ticker string
	start  string
}

func keyOf(sess models.Session) exitKey {
	return exitKey{id: sess.ID, ticker: sess.Ticker, start: sess.StartDate.Format("2006-01-02")}
}

func NewCoordinator(
	cfg *config.Config,
	feed Feed,
	seller Seller,
	sessions storage.SessionStore,
	alerts notify.Sink,
) (*Coordinator, error) {
	h, m, err := config.ParseClock(cfg.Trading.ExitCutoff)
	if err != nil {
		return nil, fmt.Errorf("exit cutoff: %w", err)
	}
	return &Coordinator{
		rules: Rules{
			SellUpper:    cfg.Trading.SellUpper,
			RiskLower:    cfg.Trading.RiskLower,
			CutoffHour:   h,
			CutoffMinute: m,
		},
		loc:         cfg.Location(),
		lockTimeout: cfg.Trading.LockTimeout,
		locks:       NewLockRegistry(),
		feed:        feed,
		seller:      seller,
		sessions:    sessions,
		alerts:      alerts,
		now:         time.Now,
		exited:      make(map[exitKey]struct{}),
	}, nil
}

// Evaluate implements the feed's per-tick evaluator.
func (c *Coordinator) Evaluate(ctx context.Context, sess models.Session, tick models.Tick) (bool, error) {
	price, err := tick.Price()
	if err != nil {
		return false, err
	}
	reason := c.rules.Decide(c.now().In(c.loc), sess.TargetDate, sess.AvgPrice, price)
	if reason == NoExit {
		return false, nil
	}
	return c.Exit(ctx, sess, price, reason)
}

// Exit sells sess under the ticker's lock. A busy lock drops this trigger: (false, nil).
func (c *Coordinator) Exit(ctx context.Context, sess models.Session, price int64, reason Reason) (completed bool, err error) {
	release, err := c.locks.Acquire(ctx, sess.Ticker, c.lockTimeout)
	if err != nil {
		if errors.Is(err, exception.ErrLockTimeout) {
			metrics.LockTimeouts.Inc()
			logger.Warn("[EXIT] %s lock busy for %s, trigger dropped", sess.Ticker, c.lockTimeout)
			c.alert(ctx, notify.LevelWarning, "Lock acquisition timeout", notify.Fields{"ticker": sess.Ticker})
			return false, nil
		}
		return false, err
	}
	defer release()

	// a tick queued behind a successful exit must not sell again
	if c.hasExited(sess) {
		return true, nil
	}

	attemptID := uuid.NewString()
	span, ctx := tracing.StartSpan(ctx, "exit.Exit", map[string]any{
		"ticker":     sess.Ticker,
		"session_id": sess.ID,
		"reason":     reason.Label(),
		"attempt_id": attemptID,
	})
	defer func() { tracing.Finish(span, err) }()

	logger.Info("[EXIT %s] %s session=%d %s price=%d avg=%d qty=%d",
		attemptID, sess.Ticker, sess.ID, reason, price, sess.AvgPrice, sess.Quantity)

	if uerr := c.feed.Unsubscribe(ctx, sess.Ticker); uerr != nil {
		logger.Warn("[EXIT %s] %s unsubscribe: %v", attemptID, sess.Ticker, uerr)
	}

	res := c.seller.Sell(ctx, sess, price)
	metrics.Exits.WithLabelValues(reason.Label(), res.Kind.String()).Inc()

	switch res.Kind {
	case execution.Success:
		c.markExited(sess)
		if derr := c.sessions.Delete(ctx, sess.ID); derr != nil {
			logger.Error("[EXIT %s] delete session %d: %v", attemptID, sess.ID, derr)
			c.alert(ctx, notify.LevelError, "Session delete failed after sell", notify.Fields{
				"ticker": sess.Ticker, "session_id": sess.ID, "error": derr.Error(),
			})
		}
		fields := notify.Fields{
			"ticker":     sess.Ticker,
			"reason":     string(reason),
			"price":      price,
			"avg_price":  sess.AvgPrice,
			"filled":     res.Fill.Filled,
			"amount":     res.Fill.FilledAmount,
			"attempt_id": attemptID,
		}
		switch reason {
		case ReasonExpired:
			fields["target_date"] = sess.TargetDate.Format("2006-01-02")
		case ReasonProfit:
			fields["condition"] = float64(sess.AvgPrice) * c.rules.SellUpper
		case ReasonRisk:
			fields["condition"] = float64(sess.AvgPrice) * c.rules.RiskLower
		}
		c.alert(ctx, notify.LevelWarning, "Sell condition met", fields)
		return true, nil

	case execution.Fatal:
		// stay unsubscribed; the session is kept, so the runner's next Sync
		// watches the ticker again and the following qualifying tick retries
		logger.Error("[EXIT %s] %s sell rejected: %v", attemptID, sess.Ticker, res.Err)
		c.alert(ctx, notify.LevelCritical, "Sell rejected by broker", notify.Fields{
			"ticker":     sess.Ticker,
			"session_id": sess.ID,
			"filled":     res.Fill.Filled,
			"attempt_id": attemptID,
			"error":      errString(res.Err),
		})
		return false, fmt.Errorf("exit %s: %w", sess.Ticker, res.Err)

	default:
		c.restore(ctx, sess, attemptID, res)
		return false, fmt.Errorf("exit %s: %w", sess.Ticker, res.Err)
	}
}

func (c *Coordinator) restore(ctx context.Context, sess models.Session, attemptID string, res execution.Result) {
	if err := c.feed.Subscribe(context.WithoutCancel(ctx), sess.Ticker); err != nil {
		logger.Error("[EXIT %s] %s subscription restore failed: %v", attemptID, sess.Ticker, err)
		c.alert(ctx, notify.LevelCritical, "Subscription restoration failed", notify.Fields{
			"ticker":     sess.Ticker,
			"attempt_id": attemptID,
			"error":      err.Error(),
		})
		return
	}
	logger.Warn("[EXIT %s] %s sell failed, subscription restored: %v", attemptID, sess.Ticker, res.Err)
	c.alert(ctx, notify.LevelError, "Sell failed; subscription restored", notify.Fields{
		"ticker":     sess.Ticker,
		"filled":     res.Fill.Filled,
		"attempt_id": attemptID,
		"error":      errString(res.Err),
	})
}

func (c *Coordinator) hasExited(sess models.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.exited[keyOf(sess)]
	return ok
}

func (c *Coordinator) markExited(sess models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exited[keyOf(sess)] = struct{}{}
}

func (c *Coordinator) alert(ctx context.Context, level notify.Level, msg string, fields notify.Fields) {
	if c.alerts != nil {
		c.alerts.Send(ctx, level, msg, fields)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
