package sessions

import (
	"context"
	"errors"
	"fmt"
	"kis_trader/internal/models"
	"kis_trader/internal/modules/config"
	notify "kis_trader/internal/modules/notify/service"
	storage "kis_trader/internal/modules/storage/service"
	"kis_trader/pkg/calendar"
	"kis_trader/pkg/exception"
	"kis_trader/pkg/logger"
	"kis_trader/pkg/metrics"
	"kis_trader/pkg/tracing"
	"math/rand/v2"
	"time"
)

const (
	minSessionID = 1000
	maxSessionID = 9999
)

// Broker is the inquiry side of the brokerage client.
type Broker interface {
	CurrentPrice(ctx context.Context, ticker string) (models.Quote, error)
	QueryTradableCash(ctx context.Context) (int64, error)
	QueryBalance(ctx context.Context) ([]models.Holding, error)
}

// Executor fills an order completely or fails.
type Executor interface {
	Execute(ctx context.Context, req models.OrderRequest) (models.FillResult, error)
}

// Manager opens sessions from the candidate queue and buys their tranches.
type Manager struct {
	maxSessions int
	maxTranches int
	orderPause  time.Duration

	broker   Broker
	exec     Executor
	sessions storage.SessionStore
	stocks   storage.StockStore
	alerts   notify.Sink
	cal      *calendar.Calendar

	now   func() time.Time
	newID func() int64
	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(
	cfg *config.Config,
	broker Broker,
	exec Executor,
	sessions storage.SessionStore,
	stocks storage.StockStore,
	alerts notify.Sink,
	cal *calendar.Calendar,
) *Manager {
	return &Manager{
		maxSessions: cfg.Trading.MaxSessions,
		maxTranches: cfg.Trading.MaxTranches,
		orderPause:  cfg.Trading.OrderPause,
		broker:      broker,
		exec:        exec,
		sessions:    sessions,
		stocks:      stocks,
		alerts:      alerts,
		cal:         cal,
		now:         time.Now,
		newID:       func() int64 { return minSessionID + rand.Int64N(maxSessionID-minSessionID+1) },
		sleep:       sleepCtx,
	}
}

// OpenSessions fills the free slots with candidates, oldest first, and returns how many were opened.
func (m *Manager) OpenSessions(ctx context.Context) (int, error) {
	open, err := m.sessions.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	free := m.maxSessions - len(open)
	if free <= 0 {
		logger.Info("[SESSIONS] no free slot (%d open)", len(open))
		return 0, nil
	}

	cash, err := m.broker.QueryTradableCash(ctx)
	if err != nil {
		return 0, fmt.Errorf("tradable cash: %w", err)
	}
	fund := AllocateFund(cash, Committed(open), free, m.maxSessions)
	if fund <= 0 {
		m.alerts.Send(ctx, notify.LevelWarning, "No capital for new sessions", notify.Fields{
			"cash":      cash,
			"committed": Committed(open),
		})
		return 0, nil
	}

	used := make(map[int64]struct{}, len(open)+free)
	for _, s := range open {
		used[s.ID] = struct{}{}
	}

	today := calendar.Day(m.now().In(m.cal.Location()))
	opened := 0
	for i := 0; i < free; i++ {
		cand, ok, err := m.stocks.PopCandidate(ctx)
		if err != nil {
			return opened, fmt.Errorf("pop candidate: %w", err)
		}
		if !ok {
			break
		}

		sess := models.Session{
			ID:          m.uniqueID(used),
			Ticker:      cand.Ticker,
			Name:        cand.Name,
			StartDate:   today,
			CurrentDate: today,
			Fund:        fund,
		}
		if err := m.sessions.Save(ctx, sess); err != nil {
			return opened, fmt.Errorf("save session %d: %w", sess.ID, err)
		}
		opened++
		logger.Info("[SESSIONS] opened %d %s(%s) fund=%d", sess.ID, sess.Name, sess.Ticker, fund)
	}

	if opened > 0 {
		m.alerts.Send(ctx, notify.LevelInfo, "Trading sessions opened", notify.Fields{
			"open":   len(open),
			"opened": opened,
			"fund":   fund,
		})
	}
	return opened, nil
}

func (m *Manager) uniqueID(used map[int64]struct{}) int64 {
	for {
		id := m.newID()
		if _, dup := used[id]; !dup {
			used[id] = struct{}{}
			return id
		}
	}
}

// RunBuyCycle opens sessions for free slots and buys one tranche for every session
// that has tranches left. A failing session never stops the others.
func (m *Manager) RunBuyCycle(ctx context.Context) error {
	if _, err := m.OpenSessions(ctx); err != nil {
		logger.Error("[SESSIONS] open sessions: %v", err)
	}

	list, err := m.sessions.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	metrics.OpenSessions.Set(float64(len(list)))

	for _, s := range list {
		if s.Tranches >= m.maxTranches {
			continue
		}
		if err := m.sleep(ctx, m.orderPause); err != nil {
			return err
		}
		if err := m.BuyTranche(ctx, s); err != nil {
			logger.Error("[SESSIONS] %d %s: %v", s.ID, s.Ticker, err)
		}
	}
	return nil
}

// BuyTranche buys the session's next tranche at market and records the fill.
func (m *Manager) BuyTranche(ctx context.Context, s models.Session) (err error) {
	span, ctx := tracing.StartSpan(ctx, "sessions.BuyTranche", map[string]any{
		"ticker":     s.Ticker,
		"session_id": s.ID,
		"tranche":    s.Tranches + 1,
	})
	defer func() { tracing.Finish(span, err) }()

	quote, err := m.broker.CurrentPrice(ctx, s.Ticker)
	if err != nil {
		return fmt.Errorf("current price: %w", err)
	}
	if quote.Halted {
		logger.Warn("[SESSIONS] %s halted, skipping tranche", s.Ticker)
		return nil
	}

	qty := Shares(TrancheFund(s, m.maxTranches), quote.Price)
	if qty <= 0 {
		logger.Warn("[SESSIONS] %d %s: tranche buys nothing at %d", s.ID, s.Ticker, quote.Price)
		return nil
	}

	fill, err := m.exec.Execute(ctx, models.OrderRequest{
		Ticker:   s.Ticker,
		Side:     models.SideBuy,
		Quantity: qty,
	})
	if err != nil {
		return m.buyFailed(ctx, s, fill, err)
	}

	s.SpentFund += fill.FilledAmount
	s.Quantity += fill.Filled
	s.Tranches++
	s.CurrentDate = calendar.Day(m.now().In(m.cal.Location()))
	s.AvgPrice = m.averagePrice(ctx, s)

	if err := m.sessions.Save(ctx, s); err != nil {
		m.alerts.Send(ctx, notify.LevelCritical, "Session update failed after buy", notify.Fields{
			"sessionId": s.ID,
			"ticker":    s.Ticker,
			"filled":    fill.Filled,
			"error":     err.Error(),
		})
		return fmt.Errorf("save session: %w", err)
	}

	m.alerts.Send(ctx, notify.LevelInfo, "Session updated", notify.Fields{
		"sessionId": s.ID,
		"name":      s.Name,
		"fund":      s.Fund,
		"spent":     s.SpentFund,
		"avgPrice":  s.AvgPrice,
		"quantity":  s.Quantity,
		"tranches":  s.Tranches,
	})
	return nil
}

func (m *Manager) buyFailed(ctx context.Context, s models.Session, fill models.FillResult, err error) error {
	// Only a rejected submit proves nothing was bought; an accepted order keeps its session.
	accepted := fill.Submissions > 0 || errors.Is(err, exception.ErrUnsettled)
	if s.Tranches == 0 && !accepted && errors.Is(err, exception.ErrOrderRejected) {
		if derr := m.sessions.Delete(ctx, s.ID); derr != nil {
			return fmt.Errorf("delete rejected session: %w", derr)
		}
		m.alerts.Send(ctx, notify.LevelWarning, "First buy rejected; session removed", notify.Fields{
			"sessionId": s.ID,
			"ticker":    s.Ticker,
			"error":     err.Error(),
		})
		return nil
	}
	if accepted {
		m.recordUnconfirmed(ctx, s, fill)
	}

	m.alerts.Send(ctx, notify.LevelError, "Tranche buy failed", notify.Fields{
		"sessionId": s.ID,
		"ticker":    s.Ticker,
		"tranche":   s.Tranches + 1,
		"filled":    fill.Filled,
		"error":     err.Error(),
	})
	return err
}

// recordUnconfirmed books whatever an accepted but failed buy is known to hold,
// taking the broker balance when it shows more than the confirmed fill.
func (m *Manager) recordUnconfirmed(ctx context.Context, s models.Session, fill models.FillResult) {
	qty, spent := s.Quantity+fill.Filled, s.SpentFund+fill.FilledAmount
	if holdings, err := m.broker.QueryBalance(ctx); err == nil {
		for _, h := range holdings {
			if h.Ticker == s.Ticker && h.Quantity > qty {
				spent += (h.Quantity - qty) * h.AvgPrice
				qty = h.Quantity
			}
		}
	} else {
		logger.Warn("[SESSIONS] %d %s: balance inquiry after failed buy: %v", s.ID, s.Ticker, err)
	}
	if qty <= s.Quantity {
		return
	}

	s.Quantity, s.SpentFund = qty, spent
	s.Tranches++
	s.CurrentDate = calendar.Day(m.now().In(m.cal.Location()))
	s.AvgPrice = m.averagePrice(ctx, s)
	if err := m.sessions.Save(ctx, s); err != nil {
		m.alerts.Send(ctx, notify.LevelCritical, "Session update failed after buy", notify.Fields{
			"sessionId": s.ID,
			"ticker":    s.Ticker,
			"quantity":  qty,
			"error":     err.Error(),
		})
		return
	}
	m.alerts.Send(ctx, notify.LevelWarning, "Unconfirmed buy recorded", notify.Fields{
		"sessionId": s.ID,
		"ticker":    s.Ticker,
		"quantity":  s.Quantity,
		"avgPrice":  s.AvgPrice,
	})
}

// averagePrice prefers the broker's purchase average; the running average is the fallback.
func (m *Manager) averagePrice(ctx context.Context, s models.Session) int64 {
	holdings, err := m.broker.QueryBalance(ctx)
	if err == nil {
		for _, h := range holdings {
			if h.Ticker == s.Ticker && h.AvgPrice > 0 {
				return h.AvgPrice
			}
		}
	} else {
		logger.Warn("[SESSIONS] balance inquiry failed, using computed average: %v", err)
	}
	if s.Quantity <= 0 {
		return 0
	}
	return s.SpentFund / s.Quantity
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
