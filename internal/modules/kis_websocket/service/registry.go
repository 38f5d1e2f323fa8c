package service

import (
	"kis_trader/internal/models"
	"sort"
	"sync"
	"time"
)

// registry is the feed's per-instrument state: the subscribed set, the inboxes
// and the monitors draining them. Only Client mutates it.
type registry struct {
	mu         sync.RWMutex
	subscribed map[string]struct{}
	acked      map[string]time.Time
	inboxes    map[string]chan models.Tick
	monitors   map[string]*Monitor
}

func newRegistry() *registry {
	return &registry{
		subscribed: make(map[string]struct{}),
		acked:      make(map[string]time.Time),
		inboxes:    make(map[string]chan models.Tick),
		monitors:   make(map[string]*Monitor),
	}
}

// markSubscribed reports whether ticker was newly added.
func (r *registry) markSubscribed(ticker string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribed[ticker]; ok {
		return false
	}
	r.subscribed[ticker] = struct{}{}
	return true
}

// unmarkSubscribed reports whether ticker was present.
func (r *registry) unmarkSubscribed(ticker string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribed[ticker]; !ok {
		return false
	}
	delete(r.subscribed, ticker)
	delete(r.acked, ticker)
	return true
}

func (r *registry) isSubscribed(ticker string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subscribed[ticker]
	return ok
}

// Subscribed returns the subscribed tickers in sorted order.
func (r *registry) Subscribed() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.subscribed))
	for t := range r.subscribed {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *registry) ack(ticker string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribed[ticker]; ok {
		r.acked[ticker] = at
	}
}

func (r *registry) ackedAt(ticker string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.acked[ticker]
	return t, ok
}

// clearAcks forgets acks from a dropped connection.
func (r *registry) clearAcks() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acked = make(map[string]time.Time)
}

// route returns the inbox for a subscribed ticker. reason is set when the tick must be dropped.
func (r *registry) route(ticker string) (inbox chan models.Tick, reason string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.subscribed[ticker]; !ok {
		return nil, "unsubscribed"
	}
	inbox, ok := r.inboxes[ticker]
	if !ok {
		return nil, "no_monitor"
	}
	return inbox, ""
}

// attach installs m unless a monitor already exists; the existing one is returned then.
func (r *registry) attach(m *Monitor) (*Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.monitors[m.ticker]; ok {
		return cur, false
	}
	r.monitors[m.ticker] = m
	r.inboxes[m.ticker] = m.inbox
	return m, true
}

// detach removes m only if it is still the registered monitor for its ticker.
func (r *registry) detach(m *Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.monitors[m.ticker]; ok && cur == m {
		delete(r.monitors, m.ticker)
		delete(r.inboxes, m.ticker)
	}
}

func (r *registry) monitor(ticker string) (*Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[ticker]
	return m, ok
}

func (r *registry) Monitors() []*Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ticker < out[j].ticker })
	return out
}
