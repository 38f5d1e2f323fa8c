package exit

import (
	"context"
	"errors"
	"kis_trader/internal/models"
	notify "kis_trader/internal/modules/notify/service"
	"kis_trader/internal/runner/execution"
	"kis_trader/pkg/exception"
	"kis_trader/pkg/logger"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

type fakeFeed struct {
	mu           sync.Mutex
	subs, unsubs []string
	subscribeErr error
}

func (f *fakeFeed) Subscribe(_ context.Context, t string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, t)
	return f.subscribeErr
}

func (f *fakeFeed) Unsubscribe(_ context.Context, t string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, t)
	return nil
}

func (f *fakeFeed) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs), len(f.unsubs)
}

type fakeSeller struct {
	calls  atomic.Int32
	gate   chan struct{} // when set, Sell blocks until closed
	result execution.Result

	mu    sync.Mutex
	qty   []int64
	price []int64
}

func (s *fakeSeller) Sell(_ context.Context, sess models.Session, price int64) execution.Result {
	s.calls.Add(1)
	s.mu.Lock()
	s.qty = append(s.qty, sess.Quantity)
	s.price = append(s.price, price)
	s.mu.Unlock()
	if s.gate != nil {
		<-s.gate
	}
	return s.result
}

type memSessions struct {
	mu      sync.Mutex
	deleted []int64
}

func (m *memSessions) Save(context.Context, models.Session) error { return nil }
func (m *memSessions) Load(context.Context, int64) (models.Session, error) {
	return models.Session{}, exception.ErrNotFound
}
func (m *memSessions) List(context.Context) ([]models.Session, error) { return nil, nil }
func (m *memSessions) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

type alertRecord struct {
	level notify.Level
	msg   string
}

type recordingSink struct {
	mu  sync.Mutex
	got []alertRecord
}

func (r *recordingSink) Send(_ context.Context, level notify.Level, msg string, _ notify.Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, alertRecord{level, msg})
}

func (r *recordingSink) has(level notify.Level, msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.got {
		if a.level == level && a.msg == msg {
			return true
		}
	}
	return false
}

type harness struct {
	c        *Coordinator
	feed     *fakeFeed
	seller   *fakeSeller
	sessions *memSessions
	sink     *recordingSink
}

var testNow = time.Date(2024, 10, 15, 10, 0, 0, 0, time.UTC)

func newHarness() *harness {
	h := &harness{
		feed:     &fakeFeed{},
		seller:   &fakeSeller{result: execution.Result{Kind: execution.Success}},
		sessions: &memSessions{},
		sink:     &recordingSink{},
	}
	h.c = &Coordinator{
		rules:       Rules{SellUpper: 1.1, RiskLower: 0.95, CutoffHour: 15, CutoffMinute: 10},
		loc:         time.UTC,
		lockTimeout: time.Second,
		locks:       NewLockRegistry(),
		feed:        h.feed,
		seller:      h.seller,
		sessions:    h.sessions,
		alerts:      h.sink,
		now:         func() time.Time { return testNow },
		exited:      make(map[exitKey]struct{}),
	}
	return h
}

func openSession() models.Session {
	return models.Session{
		ID:         4321,
		Ticker:     "005930",
		Quantity:   12,
		AvgPrice:   1000,
		TargetDate: time.Date(2024, 10, 18, 0, 0, 0, 0, time.UTC),
	}
}

func tickAt(price int64) models.Tick {
	fields := make([]string, 20)
	fields[0] = "0|H0STASP0|001|005930"
	fields[models.PriceField] = strconv.FormatInt(price, 10)
	return models.Tick{Ticker: "005930", Fields: fields}
}

func TestProfitTickSellsOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	done, err := h.c.Evaluate(ctx, openSession(), tickAt(1099))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Zero(t, h.seller.calls.Load())

	done, err = h.c.Evaluate(ctx, openSession(), tickAt(1101))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, int32(1), h.seller.calls.Load())
	assert.Equal(t, []int64{12}, h.seller.qty)
	assert.Equal(t, []int64{1101}, h.seller.price)
	assert.Equal(t, []int64{4321}, h.sessions.deleted)
	assert.True(t, h.sink.has(notify.LevelWarning, "Sell condition met"))

	_, unsubs := h.feed.counts()
	assert.Equal(t, 1, unsubs)
	assert.Equal(t, 0, h.c.locks.Len())
}

func TestExpiredHoldingSellsRegardlessOfPrice(t *testing.T) {
	h := newHarness()
	sess := openSession()
	sess.TargetDate = time.Date(2024, 10, 14, 0, 0, 0, 0, time.UTC)
	h.c.now = func() time.Time { return time.Date(2024, 10, 17, 15, 11, 0, 0, time.UTC) }

	done, err := h.c.Evaluate(context.Background(), sess, tickAt(1000))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, int32(1), h.seller.calls.Load())
}

func TestRacingTicksSellOnce(t *testing.T) {
	h := newHarness()
	h.seller.gate = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done, err := h.c.Evaluate(context.Background(), openSession(), tickAt(1200))
			assert.NoError(t, err)
			results[i] = done
		}(i)
	}

	require.Eventually(t, func() bool { return h.seller.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(h.seller.gate)
	wg.Wait()

	assert.Equal(t, int32(1), h.seller.calls.Load())
	assert.Equal(t, []bool{true, true}, results)
	assert.Equal(t, []int64{4321}, h.sessions.deleted)
	assert.Equal(t, 0, h.c.locks.Len())
}

func TestReusedSessionIDSellsAgain(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	done, err := h.c.Evaluate(ctx, openSession(), tickAt(1200))
	require.NoError(t, err)
	require.True(t, done)

	next := openSession()
	next.Ticker = "000660"
	next.StartDate = time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC)
	done, err = h.c.Evaluate(ctx, next, tickAt(1200))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, int32(2), h.seller.calls.Load())
	assert.Equal(t, []int64{4321, 4321}, h.sessions.deleted)
}

func TestRecoverableFailureRestoresSubscription(t *testing.T) {
	h := newHarness()
	cause := exception.Connectivity("QueryExecution", errors.New("timeout"))
	h.seller.result = execution.Result{Kind: execution.Recoverable, Err: cause}

	done, err := h.c.Evaluate(context.Background(), openSession(), tickAt(900))
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConnectivity)
	assert.False(t, done)

	subs, unsubs := h.feed.counts()
	assert.Equal(t, 1, unsubs)
	assert.Equal(t, 1, subs)
	assert.Empty(t, h.sessions.deleted)
	assert.True(t, h.sink.has(notify.LevelError, "Sell failed; subscription restored"))

	// the next qualifying tick tries again
	h.seller.result = execution.Result{Kind: execution.Success}
	done, err = h.c.Evaluate(context.Background(), openSession(), tickAt(900))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, int32(2), h.seller.calls.Load())
}

func TestFailedRestoreIsCritical(t *testing.T) {
	h := newHarness()
	h.feed.subscribeErr = exception.Connectivity("feed subscribe", errors.New("broken pipe"))
	h.seller.result = execution.Result{Kind: execution.Recoverable, Err: errors.New("settle interrupted")}

	_, err := h.c.Evaluate(context.Background(), openSession(), tickAt(1200))
	require.Error(t, err)
	assert.True(t, h.sink.has(notify.LevelCritical, "Subscription restoration failed"))
}

func TestFatalFailureStaysUnsubscribed(t *testing.T) {
	h := newHarness()
	h.seller.result = execution.Result{
		Kind: execution.Fatal,
		Err:  exception.NewOrderRejected("1", "APBK0400", "주문 가능한 수량을 초과하였습니다"),
	}

	done, err := h.c.Evaluate(context.Background(), openSession(), tickAt(1200))
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrOrderRejected)
	assert.False(t, done)

	subs, _ := h.feed.counts()
	assert.Zero(t, subs)
	assert.True(t, h.sink.has(notify.LevelCritical, "Sell rejected by broker"))
	assert.Empty(t, h.sessions.deleted)
}

func TestLockTimeoutDropsTrigger(t *testing.T) {
	h := newHarness()
	h.c.lockTimeout = 20 * time.Millisecond
	h.seller.gate = make(chan struct{})

	first := make(chan bool, 1)
	go func() {
		done, _ := h.c.Evaluate(context.Background(), openSession(), tickAt(1200))
		first <- done
	}()
	require.Eventually(t, func() bool { return h.seller.calls.Load() == 1 }, time.Second, time.Millisecond)

	other := openSession()
	other.ID = 9999
	done, err := h.c.Evaluate(context.Background(), other, tickAt(1200))
	require.NoError(t, err)
	assert.False(t, done)
	assert.True(t, h.sink.has(notify.LevelWarning, "Lock acquisition timeout"))

	close(h.seller.gate)
	assert.True(t, <-first)
	assert.Equal(t, int32(1), h.seller.calls.Load())
	assert.Equal(t, 0, h.c.locks.Len())
}
