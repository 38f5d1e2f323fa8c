package service

import (
	"context"
	"errors"
	"kis_trader/internal/models"
	"kis_trader/internal/modules/config"
	notify "kis_trader/internal/modules/notify/service"
	"kis_trader/pkg/logger"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

const (
	waitFor = 3 * time.Second
	tickFor = 5 * time.Millisecond
)

type staticApproval struct {
	key string
	err error
}

func (s staticApproval) ApprovalKey(context.Context) (string, error) { return s.key, s.err }

type recordingSink struct {
	mu     sync.Mutex
	alerts []notify.Level
}

func (r *recordingSink) Send(_ context.Context, level notify.Level, _ string, _ notify.Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, level)
}

func (r *recordingSink) count(level notify.Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.alerts {
		if l == level {
			n++
		}
	}
	return n
}

// serverConn is the server side of one feed connection.
type serverConn struct {
	ws     *websocket.Conn
	header http.Header

	mu   sync.Mutex
	recv []string
}

func (s *serverConn) send(t *testing.T, msg string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NoError(t, s.ws.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func (s *serverConn) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recv...)
}

// envelopes returns the subscribe/unsubscribe requests received so far.
func (s *serverConn) envelopes(trType string) []envelope {
	var out []envelope
	for _, raw := range s.received() {
		var e envelope
		if sonic.UnmarshalString(raw, &e) != nil || e.Body.Input.TrKey == "" {
			continue
		}
		if e.Header.TrType == trType {
			out = append(out, e)
		}
	}
	return out
}

type fakeFeed struct {
	srv   *httptest.Server
	conns chan *serverConn
}

func newFakeFeed(t *testing.T) *fakeFeed {
	t.Helper()
	f := &fakeFeed{conns: make(chan *serverConn, 8)}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{ws: ws, header: r.Header.Clone()}
		f.conns <- sc
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			sc.mu.Lock()
			sc.recv = append(sc.recv, string(msg))
			sc.mu.Unlock()
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeFeed) url() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }

func (f *fakeFeed) next(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-f.conns:
		t.Cleanup(func() { _ = sc.ws.Close() })
		return sc
	case <-time.After(waitFor):
		t.Fatal("no feed connection")
		return nil
	}
}

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.KIS.WSURL = url
	cfg.Feed.HandshakeAttempts = 1
	cfg.Feed.ReconnectDelay = 10 * time.Millisecond
	cfg.Feed.BackoffMin = time.Millisecond
	cfg.Feed.BackoffMax = 5 * time.Millisecond
	cfg.Feed.PingInterval = 0
	cfg.Trading.InboxWait = 20 * time.Millisecond
	return &cfg
}

func runClient(t *testing.T, c *Client) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctx
}

// dataFrame builds an H0STASP0 frame with price at field 15.
func dataFrame(ticker string, price int64) string {
	fields := make([]string, 20)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0] = "0|H0STASP0|001|" + ticker
	fields[models.PriceField] = strconv.FormatInt(price, 10)
	return strings.Join(fields, "^")
}

func ackFrameFor(ticker string) string {
	return `{"header":{"tr_id":"H0STASP0","tr_key":"` + ticker + `","encrypt":"N"},` +
		`"body":{"rt_cd":"0","msg_cd":"OPSP0000","msg1":"SUBSCRIBE SUCCESS","output":{"iv":"x","key":"y"}}}`
}

type recordingEval struct {
	mu     sync.Mutex
	prices []int64
	seen   []string
	decide func(price int64) (bool, error)
}

func (r *recordingEval) Evaluate(_ context.Context, _ models.Session, tick models.Tick) (bool, error) {
	p, err := tick.Price()
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	r.prices = append(r.prices, p)
	r.seen = append(r.seen, tick.Ticker)
	r.mu.Unlock()
	if r.decide != nil {
		return r.decide(p)
	}
	return false, nil
}

func (r *recordingEval) snapshot() ([]int64, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.prices...), append([]string(nil), r.seen...)
}

func session(ticker string) models.Session {
	return models.Session{ID: 1001, Ticker: ticker, Quantity: 10, AvgPrice: 1000}
}

func TestConnectSendsApprovalHeader(t *testing.T) {
	feed := newFakeFeed(t)
	c := NewClient(testConfig(feed.url()), staticApproval{key: "appr-key"}, nil, nil)
	runClient(t, c)

	sc := feed.next(t)
	assert.Equal(t, "appr-key", sc.header.Get("approval_key"))
	assert.Equal(t, "P", sc.header.Get("custtype"))
	require.Eventually(t, c.Connected, waitFor, tickFor)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	feed := newFakeFeed(t)
	c := NewClient(testConfig(feed.url()), staticApproval{key: "appr-key"}, nil, nil)
	runClient(t, c)
	sc := feed.next(t)
	require.Eventually(t, c.Connected, waitFor, tickFor)

	ctx := context.Background()
	require.NoError(t, c.Subscribe(ctx, "005930"))
	require.NoError(t, c.Subscribe(ctx, "005930"))
	require.Eventually(t, func() bool { return len(sc.envelopes(trTypeSubscribe)) == 1 }, waitFor, tickFor)

	env := sc.envelopes(trTypeSubscribe)[0]
	assert.Equal(t, "appr-key", env.Header.ApprovalKey)
	assert.Equal(t, "H0STASP0", env.Body.Input.TrID)
	assert.Equal(t, "005930", env.Body.Input.TrKey)

	require.NoError(t, c.Unsubscribe(ctx, "005930"))
	require.NoError(t, c.Unsubscribe(ctx, "005930"))
	require.Eventually(t, func() bool { return len(sc.envelopes(trTypeUnsubscribe)) == 1 }, waitFor, tickFor)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sc.envelopes(trTypeSubscribe), 1)
	assert.Len(t, sc.envelopes(trTypeUnsubscribe), 1)
	assert.Empty(t, c.Subscribed())
}

func TestReconnectResubscribesEveryTicker(t *testing.T) {
	feed := newFakeFeed(t)
	c := NewClient(testConfig(feed.url()), staticApproval{key: "appr-key"}, nil, nil)
	ctx := runClient(t, c)
	first := feed.next(t)
	require.Eventually(t, c.Connected, waitFor, tickFor)

	evalA, evalB := &recordingEval{}, &recordingEval{}
	_, started, err := c.Watch(ctx, session("005930"), evalA)
	require.NoError(t, err)
	require.True(t, started)
	_, started, err = c.Watch(ctx, session("000660"), evalB)
	require.NoError(t, err)
	require.True(t, started)
	require.Eventually(t, func() bool { return len(first.envelopes(trTypeSubscribe)) == 2 }, waitFor, tickFor)

	// drop the connection from the server side
	_ = first.ws.Close()

	second := feed.next(t)
	require.Eventually(t, func() bool { return len(second.envelopes(trTypeSubscribe)) == 2 }, waitFor, tickFor)
	require.Eventually(t, c.Connected, waitFor, tickFor)
	time.Sleep(50 * time.Millisecond)

	resub := second.envelopes(trTypeSubscribe)
	require.Len(t, resub, 2)
	keys := []string{resub[0].Body.Input.TrKey, resub[1].Body.Input.TrKey}
	assert.ElementsMatch(t, []string{"005930", "000660"}, keys)

	second.send(t, dataFrame("005930", 71000))
	second.send(t, dataFrame("000660", 182000))

	require.Eventually(t, func() bool {
		a, _ := evalA.snapshot()
		b, _ := evalB.snapshot()
		return len(a) == 1 && len(b) == 1
	}, waitFor, tickFor)

	a, seenA := evalA.snapshot()
	b, seenB := evalB.snapshot()
	assert.Equal(t, []int64{71000}, a)
	assert.Equal(t, []string{"005930"}, seenA)
	assert.Equal(t, []int64{182000}, b)
	assert.Equal(t, []string{"000660"}, seenB)
}

func TestPingPongIsEchoed(t *testing.T) {
	feed := newFakeFeed(t)
	c := NewClient(testConfig(feed.url()), staticApproval{key: "k"}, nil, nil)
	runClient(t, c)
	sc := feed.next(t)
	require.Eventually(t, c.Connected, waitFor, tickFor)

	ping := `{"header":{"tr_id":"PINGPONG","datetime":"20241018093000"}}`
	sc.send(t, ping)
	require.Eventually(t, func() bool {
		for _, m := range sc.received() {
			if m == ping {
				return true
			}
		}
		return false
	}, waitFor, tickFor)
}

func TestReconnectFailureAlertsOncePerStreak(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1/never")
	cfg.Feed.AlertAfterFailures = 2
	sink := &recordingSink{}
	c := NewClient(cfg, staticApproval{err: errors.New("approval down")}, sink, nil)
	runClient(t, c)

	require.Eventually(t, func() bool { return sink.count(notify.LevelError) == 1 }, waitFor, tickFor)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sink.count(notify.LevelError))
	assert.False(t, c.Connected())
}

func TestTicksForUnsubscribedTickersAreDropped(t *testing.T) {
	c := NewClient(testConfig("ws://unused"), staticApproval{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eval := &recordingEval{}
	_, _, err := c.Watch(ctx, session("005930"), eval)
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "000660")) // subscribed but no monitor

	c.dispatch(ctx, nil, dataFrame("999999", 1))
	c.dispatch(ctx, nil, dataFrame("000660", 2))
	c.dispatch(ctx, nil, dataFrame("005930", 3))

	require.Eventually(t, func() bool {
		p, _ := eval.snapshot()
		return len(p) == 1
	}, waitFor, tickFor)

	require.NoError(t, c.Unwatch(ctx, "005930"))
	c.dispatch(ctx, nil, dataFrame("005930", 4))
	time.Sleep(30 * time.Millisecond)

	prices, seen := eval.snapshot()
	assert.Equal(t, []int64{3}, prices)
	assert.Equal(t, []string{"005930"}, seen)
}

func TestAckIsRecordedNotDelivered(t *testing.T) {
	c := NewClient(testConfig("ws://unused"), staticApproval{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eval := &recordingEval{}
	_, _, err := c.Watch(ctx, session("005930"), eval)
	require.NoError(t, err)

	c.dispatch(ctx, nil, ackFrameFor("005930"))
	_, ok := c.reg.ackedAt("005930")
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	prices, _ := eval.snapshot()
	assert.Empty(t, prices)
}
