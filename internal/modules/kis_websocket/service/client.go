package service

import (
	"context"
	"fmt"
	"kis_trader/internal/modules/config"
	notify "kis_trader/internal/modules/notify/service"
	"kis_trader/pkg/exception"
	"kis_trader/pkg/logger"
	"kis_trader/pkg/metrics"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// ApprovalSource hands out the websocket approval key.
type ApprovalSource interface {
	ApprovalKey(ctx context.Context) (string, error)
}

// Status receives connection and tick liveness.
type Status interface {
	SetWSConnected(v bool)
	TouchTick(t time.Time)
}

type nopStatus struct{}

func (nopStatus) SetWSConnected(bool) {}
func (nopStatus) TouchTick(time.Time)  {}

// Client owns the single live feed connection and the subscription registry.
type Client struct {
	cfg       config.Feed
	inboxWait time.Duration
	url       string
	approvals ApprovalSource
	alerts    notify.Sink
	status    Status

	dialer  *websocket.Dialer
	backoff Backoff
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	reg *registry

	// mu guards conn and every write on it.
	mu       sync.Mutex
	conn     *websocket.Conn
	approval string

	connected atomic.Bool
	everUp    atomic.Bool
}

func NewClient(cfg *config.Config, approvals ApprovalSource, alerts notify.Sink, status Status) *Client {
	if status == nil {
		status = nopStatus{}
	}
	return &Client{
		cfg:       cfg.Feed,
		inboxWait: cfg.Trading.InboxWait,
		url:       cfg.KIS.WSURL,
		approvals: approvals,
		alerts:    alerts,
		status:    status,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: Backoff{
			Min:    cfg.Feed.BackoffMin,
			Max:    cfg.Feed.BackoffMax,
			Factor: 2.0,
			Jitter: 0.2,
		},
		now:   time.Now,
		sleep: sleepCtx,
		reg:   newRegistry(),
	}
}

func (c *Client) Connected() bool { return c.connected.Load() }

// Subscribed lists the tickers the feed currently delivers.
func (c *Client) Subscribed() []string { return c.reg.Subscribed() }

// Connect obtains the approval key and opens the connection, trying up to
// feed.handshake_attempts times. Tickers already marked subscribed are re-sent
// before Connect returns, so delivery never resumes ahead of resubscription.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	key, err := c.approvals.ApprovalKey(ctx)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}

	header := http.Header{}
	header.Set("approval_key", key)
	header.Set("custtype", "P")
	header.Set("tr_type", trTypeSubscribe)
	header.Set("content-type", "utf-8")

	attempts := c.cfg.HandshakeAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var (
		conn    *websocket.Conn
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, _, lastErr = c.dialer.DialContext(ctx, c.url, header)
		if lastErr == nil {
			break
		}
		logger.Error("[FEED] dial attempt %d/%d: %v", attempt, attempts, lastErr)
		if ctx.Err() != nil {
			break
		}
	}
	if conn == nil {
		return exception.Connectivity("feed connect", lastErr)
	}

	c.conn = conn
	c.approval = key

	tickers := c.reg.Subscribed()
	for _, t := range tickers {
		if err := c.sendLocked(trTypeSubscribe, t); err != nil {
			c.closeLocked()
			return exception.Connectivity("feed resubscribe "+t, err)
		}
	}

	c.connected.Store(true)
	c.status.SetWSConnected(true)
	logger.Info("[FEED] connected, resubscribed %d tickers", len(tickers))
	return nil
}

// Subscribe is idempotent. Without a live connection the ticker is only marked
// and goes out with the next Connect.
func (c *Client) Subscribe(ctx context.Context, ticker string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reg.markSubscribed(ticker) {
		return nil
	}
	if c.conn == nil {
		logger.Info("[FEED] %s marked, will subscribe on connect", ticker)
		return nil
	}
	if err := c.sendLocked(trTypeSubscribe, ticker); err != nil {
		c.reg.unmarkSubscribed(ticker)
		return exception.Connectivity("feed subscribe "+ticker, err)
	}
	logger.Info("[FEED] subscribed %s", ticker)
	return nil
}

// Unsubscribe is idempotent. Delivery for ticker stops immediately, whether or
// not the control envelope reaches the server.
func (c *Client) Unsubscribe(ctx context.Context, ticker string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reg.unmarkSubscribed(ticker) {
		return nil
	}
	if c.conn == nil {
		return nil
	}
	if err := c.sendLocked(trTypeUnsubscribe, ticker); err != nil {
		return exception.Connectivity("feed unsubscribe "+ticker, err)
	}
	logger.Info("[FEED] unsubscribed %s", ticker)
	return nil
}

func (c *Client) sendLocked(trType, ticker string) error {
	payload, err := sonic.Marshal(newEnvelope(c.approval, trType, ticker))
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(c.now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
	c.status.SetWSConnected(false)
}

// drop discards conn if it is still the current connection.
func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.closeLocked()
		c.reg.clearAcks()
	}
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Run is the receiver. It connects, reads until the connection drops,
// then reconnects forever until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		c.closeLocked()
		c.mu.Unlock()
	}()

	failures := 0
	alerted := false

	for ctx.Err() == nil {
		conn := c.current()
		if conn == nil {
			if err := c.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				logger.Error("[FEED] connect failed (%d in a row): %v", failures, err)
				if c.cfg.AlertAfterFailures > 0 && failures >= c.cfg.AlertAfterFailures && !alerted {
					alerted = true
					c.alert(ctx, notify.LevelError, "Feed reconnect failing", notify.Fields{
						"failures": failures,
						"error":    err.Error(),
					})
				}
				if err := c.sleep(ctx, c.backoff.Next(failures)); err != nil {
					return
				}
				continue
			}
			if c.everUp.Swap(true) {
				metrics.FeedReconnects.Inc()
				if alerted {
					c.alert(ctx, notify.LevelInfo, "Feed reconnected", notify.Fields{"failures": failures})
				}
			}
			failures = 0
			alerted = false
			continue
		}

		err := c.read(ctx, conn)
		c.drop(conn)
		if ctx.Err() != nil {
			logger.Info("[FEED] receiver stopped")
			return
		}
		logger.Error("[FEED] connection lost: %v", err)
		if err := c.sleep(ctx, c.cfg.ReconnectDelay); err != nil {
			return
		}
	}
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) error {
	stopPing := make(chan struct{})
	defer close(stopPing)
	if c.cfg.PingInterval > 0 {
		go c.keepalive(conn, stopPing)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(ctx, conn, string(msg))
	}
}

func (c *Client) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, c.now().Add(writeWait)); err != nil {
				logger.Warn("[FEED] ping: %v", err)
			}
		}
	}
}

// dispatch routes one frame. Data goes only to subscribed tickers with a live inbox;
// a full inbox drops the tick rather than blocking the receiver.
func (c *Client) dispatch(ctx context.Context, conn *websocket.Conn, msg string) {
	kind := Classify(msg)
	metrics.TicksReceived.WithLabelValues(kind.String()).Inc()

	switch kind {
	case FramePingPong:
		c.mu.Lock()
		if conn != nil && c.conn == conn {
			_ = conn.SetWriteDeadline(c.now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				logger.Warn("[FEED] pingpong echo: %v", err)
			}
		}
		c.mu.Unlock()

	case FrameAck:
		a, err := parseAck(msg)
		if err != nil {
			logger.Warn("[FEED] %v", err)
			return
		}
		c.reg.ack(a.Header.TrKey, c.now())
		logger.Info("[FEED] %s %s", a.Header.TrKey, a.Body.Msg1)

	case FrameData:
		tick, err := ParseData(msg, c.now())
		if err != nil {
			logger.Warn("[FEED] %v", err)
			return
		}
		c.status.TouchTick(tick.ReceivedAt)
		c.deliver(tick)

	case FrameControl:
		if a, err := parseAck(msg); err == nil && a.Body.RtCd != "" && a.Body.RtCd != "0" {
			logger.Warn("[FEED] control %s %s: %s", a.Header.TrKey, a.Body.MsgCd, a.Body.Msg1)
		}

	default:
		logger.Warn("[FEED] unknown frame: %.80s", msg)
	}
}

func (c *Client) alert(ctx context.Context, level notify.Level, msg string, fields notify.Fields) {
	if c.alerts != nil {
		c.alerts.Send(ctx, level, msg, fields)
	}
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
