package service

// envelope is common to every KIS REST response.
type envelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

type orderResponse struct {
	envelope
	Output struct {
		OrgNo   string `json:"KRX_FWDG_ORD_ORGNO"`
		ODNO    string `json:"ODNO"`
		OrdTime string `json:"ORD_TMD"`
	} `json:"output"`
}

type executionResponse struct {
	envelope
	Output1 []struct {
		ODNO       string `json:"odno"`
		PDNO       string `json:"pdno"`
		OrdQty     string `json:"ord_qty"`
		TotCcldQty string `json:"tot_ccld_qty"`
		TotCcldAmt string `json:"tot_ccld_amt"`
		RmnQty     string `json:"rmn_qty"`
	} `json:"output1"`
}

type balanceResponse struct {
	envelope
	Output1 []struct {
		PDNO        string `json:"pdno"`
		PrdtName    string `json:"prdt_name"`
		HldgQty     string `json:"hldg_qty"`
		PchsAvgPric string `json:"pchs_avg_pric"`
	} `json:"output1"`
}

type psblOrderResponse struct {
	envelope
	Output struct {
		NrcvbBuyAmt string `json:"nrcvb_buy_amt"`
		OrdPsblCash string `json:"ord_psbl_cash"`
	} `json:"output"`
}

type priceResponse struct {
	envelope
	Output struct {
		StckPrpr string `json:"stck_prpr"`
		TrhtYn   string `json:"trht_yn"`
	} `json:"output"`
}

type upperLimitResponse struct {
	envelope
	Output []struct {
		Ticker   string `json:"mksc_shrn_iscd"`
		Name     string `json:"hts_kor_isnm"`
		StckPrpr string `json:"stck_prpr"`
		PrdyCtrt string `json:"prdy_ctrt"`
	} `json:"output"`
}
