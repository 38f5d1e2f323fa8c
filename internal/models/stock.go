package models

import "time"

// UpperLimitStock is a stock that closed at its daily upper limit.
type UpperLimitStock struct {
	Date         time.Time
	Ticker       string
	Name         string
	ClosingPrice int64
	UpperRate    float64
}

// Candidate is a queued entry waiting for a free session slot.
type Candidate struct {
	No           int64
	Date         time.Time
	Ticker       string
	Name         string
	ClosingPrice int64
}

// Credential is a cached token or websocket approval key.
type Credential struct {
	Kind      string
	Key       string
	ExpiresAt time.Time
}

func (c Credential) ValidAt(t time.Time, margin time.Duration) bool {
	return c.Key != "" && t.Add(margin).Before(c.ExpiresAt)
}
