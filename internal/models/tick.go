package models

import (
	"fmt"
	"strconv"
	"time"
)

// PriceField is the index of the price inside a data frame's field list.
const PriceField = 15

// Tick is one data frame routed to an instrument's inbox.
type Tick struct {
	Ticker     string
	Fields     []string
	ReceivedAt time.Time
}

func (t Tick) Price() (int64, error) {
	if len(t.Fields) <= PriceField {
		return 0, fmt.Errorf("tick %s: %d fields, price at %d", t.Ticker, len(t.Fields), PriceField)
	}
	p, err := strconv.ParseInt(t.Fields[PriceField], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tick %s: parse price %q: %w", t.Ticker, t.Fields[PriceField], err)
	}
	return p, nil
}
