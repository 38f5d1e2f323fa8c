package models

import (
	"time"
)

// Session is one open position: staged tranche buys followed by a single exit.
type Session struct {
	ID          int64
	Ticker      string
	Name        string
	StartDate   time.Time
	CurrentDate time.Time
	Fund        int64 // allocated, KRW
	SpentFund   int64
	Quantity    int64
	AvgPrice    int64
	Tranches    int

	// TargetDate is derived from StartDate, never persisted.
	TargetDate time.Time
}

func (s Session) Funded() bool { return s.Quantity > 0 }

func (s Session) Remaining() int64 {
	if r := s.Fund - s.SpentFund; r > 0 {
		return r
	}
	return 0
}
