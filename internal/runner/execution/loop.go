package execution

import (
	"context"
	"errors"
	"fmt"
	"kis_trader/internal/models"
	"kis_trader/internal/modules/config"
	"kis_trader/pkg/exception"
	"kis_trader/pkg/logger"
	"kis_trader/pkg/metrics"
	"kis_trader/pkg/tracing"
	"time"

	"github.com/google/uuid"
)

// Broker is the part of the brokerage client the loop drives.
type Broker interface {
	PlaceOrder(ctx context.Context, r models.OrderRequest) (models.OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	QueryExecution(ctx context.Context, orderID string) (models.Execution, error)
	QueryBalance(ctx context.Context) ([]models.Holding, error)
}

type Config struct {
	BuySettle        time.Duration
	SellSettle       time.Duration
	CancelPause      time.Duration
	RateLimitRetries int
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BuySettle:        cfg.Trading.BuySettle,
		SellSettle:       cfg.Trading.SellSettle,
		CancelPause:      cfg.Trading.CancelPause,
		RateLimitRetries: cfg.Trading.RateLimitRetries,
	}
}

// Loop runs submit -> settle -> verify -> cancel remainder -> resubmit at market
// until the requested quantity is filled.
type Loop struct {
	broker Broker
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewLoop(cfg *config.Config, broker Broker) *Loop {
	return &Loop{
		broker: broker,
		cfg:    ConfigFrom(cfg),
		sleep:  sleepCtx,
	}
}

func (l *Loop) settle(side models.Side) time.Duration {
	if side == models.SideSell {
		return l.cfg.SellSettle
	}
	return l.cfg.BuySettle
}

// Execute returns once the whole quantity is confirmed filled. Any broker error
// ends the invocation; the returned FillResult still reports what was filled.
// Failures after the broker accepted an order wrap exception.ErrUnsettled.
func (l *Loop) Execute(ctx context.Context, req models.OrderRequest) (res models.FillResult, err error) {
	attemptID := uuid.NewString()
	span, ctx := tracing.StartSpan(ctx, "execution.Execute", map[string]any{
		"ticker":     req.Ticker,
		"side":       string(req.Side),
		"quantity":   req.Quantity,
		"attempt_id": attemptID,
	})
	defer func() { tracing.Finish(span, err) }()

	res = models.FillResult{Ticker: req.Ticker, Side: req.Side, Requested: req.Quantity}
	if req.Quantity <= 0 {
		return res, fmt.Errorf("execute %s: nothing to order", req)
	}

	logger.Info("[EXEC %s] %s", attemptID, req)
	ack, err := l.submit(ctx, req)
	if err != nil {
		return res, err
	}
	res.Submissions++
	res.LastOrderID = ack.OrderID

	ordered := req.Quantity
	for {
		if err := l.sleep(ctx, l.settle(req.Side)); err != nil {
			return res, exception.Unsettled("execute "+req.Ticker, err)
		}

		exec, err := l.query(ctx, ack.OrderID)
		if err != nil {
			return res, exception.Unsettled("execute "+req.Ticker, err)
		}

		unfilled := ordered - exec.Filled
		if unfilled > 0 {
			cerr := l.retryRateLimited(ctx, req.Ticker, "cancel", func() error {
				return l.broker.CancelOrder(ctx, ack.OrderID)
			})
			// a rejected cancel usually means the remainder filled in the meantime
			if cerr != nil && !errors.Is(cerr, exception.ErrOrderRejected) {
				return addFill(res, exec), exception.Unsettled("execute "+req.Ticker+" cancel", cerr)
			}
			if cerr == nil {
				res.Cancels++
				metrics.OrderCancels.Inc()
			}

			// the cancel freezes the order; anything filled before it must not be resubmitted
			again, qerr := l.query(ctx, ack.OrderID)
			if qerr != nil {
				return addFill(res, exec), exception.Unsettled("execute "+req.Ticker+" cancel", qerr)
			}
			exec, unfilled = again, ordered-again.Filled
			if cerr != nil && unfilled > 0 {
				return addFill(res, exec), exception.Unsettled("execute "+req.Ticker+" cancel", cerr)
			}
		}

		res = addFill(res, exec)
		if unfilled <= 0 {
			logger.Info("[EXEC %s] done %s filled=%d amount=%d submissions=%d cancels=%d",
				attemptID, req.Ticker, res.Filled, res.FilledAmount, res.Submissions, res.Cancels)
			return res, nil
		}

		logger.Info("[EXEC %s] %s unfilled=%d, resubmitting at market", attemptID, req.Ticker, unfilled)
		if err := l.sleep(ctx, l.cfg.CancelPause); err != nil {
			return res, err
		}

		next := models.OrderRequest{Ticker: req.Ticker, Side: req.Side, Quantity: unfilled}
		ack, err = l.submit(ctx, next)
		if err != nil {
			return res, err
		}
		res.Submissions++
		res.LastOrderID = ack.OrderID
		ordered = unfilled
	}
}

// submit retries rate-limit rejections immediately, up to RateLimitRetries times.
func (l *Loop) submit(ctx context.Context, req models.OrderRequest) (ack models.OrderAck, err error) {
	err = l.retryRateLimited(ctx, req.Ticker, "submit", func() error {
		ack, err = l.broker.PlaceOrder(ctx, req)
		return err
	})
	if err != nil {
		return models.OrderAck{}, fmt.Errorf("submit %s: %w", req, err)
	}
	return ack, nil
}

func (l *Loop) query(ctx context.Context, orderID string) (exec models.Execution, err error) {
	err = l.retryRateLimited(ctx, orderID, "query", func() error {
		exec, err = l.broker.QueryExecution(ctx, orderID)
		return err
	})
	return exec, err
}

func (l *Loop) retryRateLimited(ctx context.Context, key, op string, call func() error) error {
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil || !exception.IsRateLimited(err) || attempt >= l.cfg.RateLimitRetries {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("[EXEC] %s %s rate limited, retry %d", key, op, attempt+1)
	}
}

func addFill(res models.FillResult, exec models.Execution) models.FillResult {
	res.Filled += exec.Filled
	res.FilledAmount += exec.FilledAmount
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
