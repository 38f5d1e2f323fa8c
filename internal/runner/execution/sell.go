package execution

import (
	"context"
	"errors"
	"fmt"
	"kis_trader/internal/models"
	"kis_trader/pkg/exception"
	"kis_trader/pkg/logger"
)

type Kind int

const (
	Success Kind = iota
	// Recoverable failures leave the position open; monitoring should continue.
	Recoverable
	// Fatal means the broker refused the sell outright.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Result is the tagged outcome of a sell.
type Result struct {
	Kind Kind
	Fill models.FillResult
	Err  error
}

// Classify maps an Execute outcome onto a Result. Anything after the broker accepted
// the order, rate-limit exhaustion and transport, auth or context errors are recoverable;
// other rejections are fatal.
func Classify(fill models.FillResult, err error) Result {
	switch {
	case err == nil:
		return Result{Kind: Success, Fill: fill}
	case errors.Is(err, exception.ErrUnsettled):
		return Result{Kind: Recoverable, Fill: fill, Err: err}
	case errors.Is(err, exception.ErrOrderRejected) && !exception.IsRateLimited(err):
		return Result{Kind: Fatal, Fill: fill, Err: err}
	default:
		return Result{Kind: Recoverable, Fill: fill, Err: err}
	}
}

// Sell exits sess: a limit order at the observed price, remainders at market.
// The quantity is capped by the broker's balance so a stale snapshot never oversells.
func (l *Loop) Sell(ctx context.Context, sess models.Session, price int64) Result {
	qty := sess.Quantity
	if holdings, err := l.broker.QueryBalance(ctx); err != nil {
		logger.Warn("[SELL] %s balance check failed, selling session quantity: %v", sess.Ticker, err)
	} else {
		held := int64(0)
		for _, h := range holdings {
			if h.Ticker == sess.Ticker {
				held = h.Quantity
				break
			}
		}
		if held <= 0 {
			logger.Warn("[SELL] %s not held anymore, treating session %d as closed", sess.Ticker, sess.ID)
			return Result{Kind: Success, Fill: models.FillResult{Ticker: sess.Ticker, Side: models.SideSell}}
		}
		if held < qty {
			logger.Warn("[SELL] %s session qty %d > held %d, selling held", sess.Ticker, qty, held)
			qty = held
		}
	}

	if qty <= 0 {
		return Result{Kind: Fatal, Err: fmt.Errorf("sell %s: session %d has no quantity", sess.Ticker, sess.ID)}
	}

	fill, err := l.Execute(ctx, models.OrderRequest{
		Ticker:   sess.Ticker,
		Side:     models.SideSell,
		Quantity: qty,
		Price:    price,
	})
	return Classify(fill, err)
}
