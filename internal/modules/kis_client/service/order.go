package service

import (
	"context"
	"fmt"
	"kis_trader/internal/models"
	"kis_trader/pkg/metrics"
	"net/http"
	"strconv"
)

const (
	pathOrderCash   = "/uapi/domestic-stock/v1/trading/order-cash"
	pathOrderRvsecn = "/uapi/domestic-stock/v1/trading/order-rvsecncl"

	trBuy    = "TTTC0802U"
	trSell   = "TTTC0801U"
	trCancel = "TTTC0803U"

	ordDvsnMarket = "01"
	ordDvsnLimit  = "00"
)

// PlaceOrder submits a cash order. Price 0 means market (ORD_DVSN 01).
func (c *Client) PlaceOrder(ctx context.Context, r models.OrderRequest) (models.OrderAck, error) {
	if r.Quantity <= 0 {
		return models.OrderAck{}, fmt.Errorf("PlaceOrder: quantity %d <= 0", r.Quantity)
	}

	var tr string
	switch r.Side {
	case models.SideBuy:
		tr = trBuy
	case models.SideSell:
		tr = trSell
	default:
		return models.OrderAck{}, fmt.Errorf("PlaceOrder: unsupported side %q", r.Side)
	}

	dvsn, price := ordDvsnMarket, "0"
	if !r.Market() {
		dvsn, price = ordDvsnLimit, strconv.FormatInt(r.Price, 10)
	}

	cano, product := c.account()
	var resp orderResponse
	err := c.do(ctx, request{
		op:     "PlaceOrder",
		method: http.MethodPost,
		base:   c.cfg.RestURL,
		path:   pathOrderCash,
		trID:   c.trID(tr),
		body: map[string]string{
			"CANO":         cano,
			"ACNT_PRDT_CD": product,
			"PDNO":         r.Ticker,
			"ORD_DVSN":     dvsn,
			"ORD_QTY":      strconv.FormatInt(r.Quantity, 10),
			"ORD_UNPR":     price,
		},
	}, &resp)
	if err == nil {
		err = resp.check("PlaceOrder " + r.String())
	}
	if err != nil {
		metrics.Orders.WithLabelValues(string(r.Side), "rejected").Inc()
		return models.OrderAck{}, err
	}
	if resp.Output.ODNO == "" {
		return models.OrderAck{}, fmt.Errorf("PlaceOrder %s: empty ODNO, msg=%s", r, resp.Msg1)
	}

	metrics.Orders.WithLabelValues(string(r.Side), "accepted").Inc()
	return models.OrderAck{OrderID: resp.Output.ODNO, Message: resp.Msg1}, nil
}

// CancelOrder cancels the whole remaining quantity of an order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	cano, product := c.account()
	var resp orderResponse
	err := c.do(ctx, request{
		op:     "CancelOrder",
		method: http.MethodPost,
		base:   c.cfg.RestURL,
		path:   pathOrderRvsecn,
		trID:   c.trID(trCancel),
		body: map[string]string{
			"CANO":               cano,
			"ACNT_PRDT_CD":       product,
			"KRX_FWDG_ORD_ORGNO": "",
			"ORGN_ODNO":          padOrderID(orderID),
			"ORD_DVSN":           ordDvsnMarket,
			"RVSE_CNCL_DVSN_CD":  "02",
			"ORD_QTY":            "0",
			"ORD_UNPR":           "0",
			"QTY_ALL_ORD_YN":     "Y",
		},
	}, &resp)
	if err != nil {
		return err
	}
	return resp.check("CancelOrder " + orderID)
}

// padOrderID zero-pads the order number to 8 digits.
func padOrderID(id string) string {
	for len(id) < 8 {
		id = "0" + id
	}
	return id
}
