package service

import (
	"context"
	"fmt"
	"kis_trader/internal/models"
	"kis_trader/pkg/exception"
	"net/http"
	"net/url"
)

const (
	pathDailyCcld   = "/uapi/domestic-stock/v1/trading/inquire-daily-ccld"
	pathBalance     = "/uapi/domestic-stock/v1/trading/inquire-balance"
	pathPsblOrder   = "/uapi/domestic-stock/v1/trading/inquire-psbl-order"
	pathPrice2      = "/uapi/domestic-stock/v1/quotations/inquire-price-2"
	pathUpLowPrices = "/uapi/domestic-stock/v1/quotations/capture-uplowprice"

	trDailyCcld  = "TTTC8001R"
	trBalance    = "TTTC8434R"
	trPsblOrder  = "TTTC8908R"
	trPrice2     = "FHPST01010000"
	trUpLowPrice = "FHKST130000C0"
)

// QueryExecution returns today's fill state for one order number.
func (c *Client) QueryExecution(ctx context.Context, orderID string) (models.Execution, error) {
	cano, product := c.account()
	today := c.now().Format("20060102")

	q := url.Values{}
	q.Set("CANO", cano)
	q.Set("ACNT_PRDT_CD", product)
	q.Set("INQR_STRT_DT", today)
	q.Set("INQR_END_DT", today)
	q.Set("SLL_BUY_DVSN_CD", "00")
	q.Set("INQR_DVSN", "00")
	q.Set("PDNO", "")
	q.Set("CCLD_DVSN", "00")
	q.Set("ORD_GNO_BRNO", "")
	q.Set("ODNO", orderID)
	q.Set("INQR_DVSN_3", "00")
	q.Set("INQR_DVSN_1", "")
	q.Set("CTX_AREA_FK100", "")
	q.Set("CTX_AREA_NK100", "")

	var resp executionResponse
	if err := c.do(ctx, request{
		op:     "QueryExecution",
		method: http.MethodGet,
		base:   c.cfg.RestURL,
		path:   pathDailyCcld,
		trID:   c.trID(trDailyCcld),
		query:  q,
	}, &resp); err != nil {
		return models.Execution{}, err
	}
	if err := resp.check("QueryExecution " + orderID); err != nil {
		return models.Execution{}, err
	}
	if len(resp.Output1) == 0 {
		return models.Execution{}, fmt.Errorf("QueryExecution %s: %w", orderID, exception.ErrNotFound)
	}

	row := resp.Output1[0]
	return models.Execution{
		OrderID:      orderID,
		Ordered:      toInt(row.OrdQty),
		Filled:       toInt(row.TotCcldQty),
		FilledAmount: toInt(row.TotCcldAmt),
		Remaining:    toInt(row.RmnQty),
	}, nil
}

// QueryBalance lists current holdings with the broker's average purchase price.
func (c *Client) QueryBalance(ctx context.Context) ([]models.Holding, error) {
	cano, product := c.account()
	q := url.Values{}
	q.Set("CANO", cano)
	q.Set("ACNT_PRDT_CD", product)
	q.Set("AFHR_FLPR_YN", "N")
	q.Set("OFL_YN", "")
	q.Set("INQR_DVSN", "02")
	q.Set("UNPR_DVSN", "01")
	q.Set("FUND_STTL_ICLD_YN", "N")
	q.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	q.Set("PRCS_DVSN", "01")
	q.Set("CTX_AREA_FK100", "")
	q.Set("CTX_AREA_NK100", "")

	var resp balanceResponse
	if err := c.do(ctx, request{
		op:     "QueryBalance",
		method: http.MethodGet,
		base:   c.cfg.RestURL,
		path:   pathBalance,
		trID:   c.trID(trBalance),
		query:  q,
	}, &resp); err != nil {
		return nil, err
	}
	if err := resp.check("QueryBalance"); err != nil {
		return nil, err
	}

	out := make([]models.Holding, 0, len(resp.Output1))
	for _, row := range resp.Output1 {
		out = append(out, models.Holding{
			Ticker:   row.PDNO,
			Name:     row.PrdtName,
			Quantity: toInt(row.HldgQty),
			AvgPrice: toInt(row.PchsAvgPric),
		})
	}
	return out, nil
}

// QueryTradableCash returns the cash available for new buys (nrcvb_buy_amt).
func (c *Client) QueryTradableCash(ctx context.Context) (int64, error) {
	cano, product := c.account()
	q := url.Values{}
	q.Set("CANO", cano)
	q.Set("ACNT_PRDT_CD", product)
	q.Set("PDNO", "")
	q.Set("ORD_UNPR", "")
	q.Set("ORD_DVSN", "01")
	q.Set("CMA_EVLU_AMT_ICLD_YN", "N")
	q.Set("OVRS_ICLD_YN", "N")

	var resp psblOrderResponse
	if err := c.do(ctx, request{
		op:     "QueryTradableCash",
		method: http.MethodGet,
		base:   c.cfg.RestURL,
		path:   pathPsblOrder,
		trID:   c.trID(trPsblOrder),
		query:  q,
	}, &resp); err != nil {
		return 0, err
	}
	if err := resp.check("QueryTradableCash"); err != nil {
		return 0, err
	}
	return toInt(resp.Output.NrcvbBuyAmt), nil
}

// CurrentPrice returns the last price and the trading-halt flag.
func (c *Client) CurrentPrice(ctx context.Context, ticker string) (models.Quote, error) {
	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_INPUT_ISCD", ticker)

	var resp priceResponse
	if err := c.do(ctx, request{
		op:     "CurrentPrice",
		method: http.MethodGet,
		base:   c.cfg.QuoteURL,
		path:   pathPrice2,
		trID:   trPrice2,
		query:  q,
	}, &resp); err != nil {
		return models.Quote{}, err
	}
	if err := resp.check("CurrentPrice " + ticker); err != nil {
		return models.Quote{}, err
	}
	return models.Quote{
		Ticker: ticker,
		Price:  toInt(resp.Output.StckPrpr),
		Halted: resp.Output.TrhtYn == "Y",
	}, nil
}

// UpperLimitStocks lists stocks currently at their daily upper limit.
func (c *Client) UpperLimitStocks(ctx context.Context) ([]models.UpperLimitStock, error) {
	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_COND_SCR_DIV_CODE", "11300")
	q.Set("FID_PRC_CLS_CODE", "0")
	q.Set("FID_DIV_CLS_CODE", "0")
	q.Set("FID_INPUT_ISCD", "0000")
	q.Set("FID_TRGT_CLS_CODE", "")
	q.Set("FID_TRGT_EXLS_CLS_CODE", "")
	q.Set("FID_INPUT_PRICE_1", "")
	q.Set("FID_INPUT_PRICE_2", "")
	q.Set("FID_VOL_CNT", "")

	var resp upperLimitResponse
	if err := c.do(ctx, request{
		op:     "UpperLimitStocks",
		method: http.MethodGet,
		base:   c.cfg.QuoteURL,
		path:   pathUpLowPrices,
		trID:   trUpLowPrice,
		query:  q,
	}, &resp); err != nil {
		return nil, err
	}
	if err := resp.check("UpperLimitStocks"); err != nil {
		return nil, err
	}

	out := make([]models.UpperLimitStock, 0, len(resp.Output))
	for _, row := range resp.Output {
		out = append(out, models.UpperLimitStock{
			Ticker:       row.Ticker,
			Name:         row.Name,
			ClosingPrice: toInt(row.StckPrpr),
			UpperRate:    toFloat(row.PrdyCtrt),
		})
	}
	return out, nil
}
