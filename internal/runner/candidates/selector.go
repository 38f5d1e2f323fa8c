package candidates

import (
	"context"
	"fmt"
	"kis_trader/internal/models"
	"kis_trader/internal/modules/config"
	notify "kis_trader/internal/modules/notify/service"
	storage "kis_trader/internal/modules/storage/service"
	"kis_trader/pkg/calendar"
	"kis_trader/pkg/logger"
	"time"
)

// Broker is the market-data side of the brokerage client.
type Broker interface {
	UpperLimitStocks(ctx context.Context) ([]models.UpperLimitStock, error)
	CurrentPrice(ctx context.Context, ticker string) (models.Quote, error)
}

// Selector keeps the upper-limit history and turns yesterday's list into today's candidate queue.
type Selector struct {
	broker     Broker
	stocks     storage.StockStore
	alerts     notify.Sink
	cal        *calendar.Calendar
	ratio      float64
	purgeAfter int
	pause      time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSelector(
	cfg *config.Config,
	broker Broker,
	stocks storage.StockStore,
	alerts notify.Sink,
	cal *calendar.Calendar,
) *Selector {
	return &Selector{
		broker:     broker,
		stocks:     stocks,
		alerts:     alerts,
		cal:        cal,
		ratio:      cfg.Trading.SelectRatio,
		purgeAfter: cfg.Trading.PurgeAfterDays,
		pause:      cfg.Trading.OrderPause,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func (s *Selector) today() time.Time {
	return calendar.Day(s.now().In(s.cal.Location()))
}

// FetchUpperLimit stores today's upper-limit stocks.
func (s *Selector) FetchUpperLimit(ctx context.Context) (int, error) {
	list, err := s.broker.UpperLimitStocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("upper limit stocks: %w", err)
	}
	if len(list) == 0 {
		logger.Info("[CANDIDATES] no upper-limit stocks today")
		return 0, nil
	}

	day := s.today()
	for i := range list {
		list[i].Date = day
	}
	if err := s.stocks.SaveUpperLimit(ctx, day, list); err != nil {
		return 0, fmt.Errorf("save upper limit: %w", err)
	}
	logger.Info("[CANDIDATES] stored %d upper-limit stocks for %s", len(list), day.Format(time.DateOnly))
	return len(list), nil
}

// Select keeps the previous business day's upper-limit stocks that still trade above
// closing × ratio and are not halted, and makes them the candidate queue.
func (s *Selector) Select(ctx context.Context) ([]models.Candidate, error) {
	prev := s.cal.PreviousBusinessDay(s.today())
	stocks, err := s.stocks.UpperLimitOn(ctx, prev)
	if err != nil {
		return nil, fmt.Errorf("upper limit on %s: %w", prev.Format(time.DateOnly), err)
	}

	var picked []models.Candidate
	for i, st := range stocks {
		if i > 0 {
			if err := s.sleep(ctx, s.pause); err != nil {
				return nil, err
			}
		}
		q, err := s.broker.CurrentPrice(ctx, st.Ticker)
		if err != nil {
			logger.Warn("[CANDIDATES] %s price: %v", st.Ticker, err)
			continue
		}
		if q.Halted || float64(q.Price) <= float64(st.ClosingPrice)*s.ratio {
			continue
		}
		picked = append(picked, models.Candidate{
			Date:         st.Date,
			Ticker:       st.Ticker,
			Name:         st.Name,
			ClosingPrice: st.ClosingPrice,
		})
		logger.Info("[CANDIDATES] %s(%s) price=%d close=%d", st.Name, st.Ticker, q.Price, st.ClosingPrice)
	}

	if len(picked) == 0 {
		logger.Info("[CANDIDATES] nothing selected from %d stocks", len(stocks))
		return nil, nil
	}
	if err := s.stocks.ReplaceCandidates(ctx, picked); err != nil {
		return nil, fmt.Errorf("replace candidates: %w", err)
	}
	s.alerts.Send(ctx, notify.LevelInfo, "Buy candidates selected", notify.Fields{
		"from":     prev.Format(time.DateOnly),
		"selected": len(picked),
	})
	return picked, nil
}

// PurgeOld drops upper-limit rows older than the retention window.
func (s *Selector) PurgeOld(ctx context.Context) (int64, error) {
	cutoff := s.today().AddDate(0, 0, -s.purgeAfter)
	n, err := s.stocks.PurgeUpperLimitBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge upper limit: %w", err)
	}
	logger.Info("[CANDIDATES] purged %d rows before %s", n, cutoff.Format(time.DateOnly))
	return n, nil
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
