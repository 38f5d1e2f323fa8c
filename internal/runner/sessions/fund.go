package sessions

import (
	"kis_trader/internal/models"
	"math"
)

// AllocateFund sizes a new session. With every slot free the cash is split evenly;
// otherwise the capital already committed to open sessions is set aside first.
func AllocateFund(cash, committed int64, free, maxSessions int) int64 {
	if free <= 0 || maxSessions <= 0 {
		return 0
	}
	var fund int64
	if free >= maxSessions {
		fund = cash / int64(maxSessions)
	} else {
		fund = (cash - committed) / int64(free)
	}
	if fund < 0 {
		return 0
	}
	return fund
}

// Committed is the capital already spent by open sessions.
func Committed(list []models.Session) int64 {
	var sum int64
	for _, s := range list {
		sum += s.SpentFund
	}
	return sum
}

// TrancheFund is the capital for the session's next buy: an equal fraction of the fund
// (rounded to whole percent) for every tranche but the last, which spends what remains.
func TrancheFund(s models.Session, maxTranches int) int64 {
	if maxTranches <= 0 || s.Tranches >= maxTranches {
		return 0
	}
	if s.Tranches == maxTranches-1 {
		return s.Remaining()
	}
	ratio := math.Round(100/float64(maxTranches)) / 100
	fund := int64(float64(s.Fund) * ratio)
	if r := s.Remaining(); fund > r {
		return r
	}
	return fund
}

// Shares is how many whole shares fund buys at price.
func Shares(fund, price int64) int64 {
	if price <= 0 || fund <= 0 {
		return 0
	}
	return fund / price
}
