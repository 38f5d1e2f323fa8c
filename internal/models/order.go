package models

import "fmt"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderRequest is a cash order. Price 0 means market.
type OrderRequest struct {
	Ticker   string
	Side     Side
	Quantity int64
	Price    int64
}

func (r OrderRequest) Market() bool { return r.Price <= 0 }

func (r OrderRequest) String() string {
	if r.Market() {
		return fmt.Sprintf("%s %s x%d @market", r.Side, r.Ticker, r.Quantity)
	}
	return fmt.Sprintf("%s %s x%d @%d", r.Side, r.Ticker, r.Quantity, r.Price)
}

type OrderAck struct {
	OrderID string
	Message string
}

// Execution is the fill state of one order number.
type Execution struct {
	OrderID      string
	Ordered      int64
	Filled       int64
	FilledAmount int64
	Remaining    int64
}

// FillResult is the outcome of a full submit/verify/cancel/resubmit cycle.
type FillResult struct {
	Ticker       string
	Side         Side
	Requested    int64
	Filled       int64
	FilledAmount int64
	LastOrderID  string
	Submissions  int
	Cancels      int
}

func (f FillResult) Complete() bool { return f.Filled >= f.Requested }
