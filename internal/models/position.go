package models

// Holding is one row of the broker's balance inquiry.
type Holding struct {
	Ticker   string
	Name     string
	Quantity int64
	AvgPrice int64
}

// Quote is the current price inquiry result.
type Quote struct {
	Ticker string
	Price  int64
	Halted bool
}
