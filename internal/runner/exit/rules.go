package exit

import (
	"time"
)

type Reason string

const (
	NoExit        Reason = ""
	ReasonExpired Reason = "expired holding period"
	ReasonProfit  Reason = "profit target reached"
	ReasonRisk    Reason = "risk trigger"
)

func (r Reason) Label() string {
	switch r {
	case ReasonExpired:
		return "expired"
	case ReasonProfit:
		return "profit"
	case ReasonRisk:
		return "risk"
	}
	return "none"
}

// Rules are evaluated in order: calendar, profit, risk. First match wins.
type Rules struct {
	SellUpper    float64
	RiskLower    float64
	CutoffHour   int
	CutoffMinute int
}

// Decide expects now in the exchange's location; targetDate is compared by calendar day.
func (r Rules) Decide(now, targetDate time.Time, avgPrice, price int64) Reason {
	if !targetDate.IsZero() && dayAfter(now, targetDate) &&
		now.Hour()*60+now.Minute() >= r.CutoffHour*60+r.CutoffMinute {
		return ReasonExpired
	}
	if avgPrice <= 0 {
		return NoExit
	}
	switch {
	case float64(price) > float64(avgPrice)*r.SellUpper:
		return ReasonProfit
	case float64(price) < float64(avgPrice)*r.RiskLower:
		return ReasonRisk
	}
	return NoExit
}

// dayAfter reports whether a's date is strictly after b's, each in its own location.
func dayAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}
