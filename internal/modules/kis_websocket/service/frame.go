package service

import (
	"fmt"
	"kis_trader/internal/models"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

const (
	trIDOrderbook = "H0STASP0"

	markerPingPong  = `"tr_id":"PINGPONG"`
	markerSubscribe = "SUBSCRIBE SUCCESS"
)

type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameData
	FramePingPong
	FrameAck
	FrameControl
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FramePingPong:
		return "pingpong"
	case FrameAck:
		return "ack"
	case FrameControl:
		return "control"
	}
	return "unknown"
}

// Classify decides what a raw text frame is. Control markers win over shape:
// an ack is never data even when it happens to contain the field separator.
func Classify(msg string) FrameKind {
	switch {
	case strings.Contains(msg, markerPingPong):
		return FramePingPong
	case strings.Contains(msg, markerSubscribe):
		return FrameAck
	case strings.HasPrefix(strings.TrimSpace(msg), "{"):
		return FrameControl
	case strings.Count(msg, "^") > 0:
		return FrameData
	}
	return FrameUnknown
}

// ParseData splits "0|H0STASP0|001|005930^093001^..." into fields on '^'.
// The ticker is the last '|'-part of the first field.
func ParseData(msg string, at time.Time) (models.Tick, error) {
	fields := strings.Split(msg, "^")
	if len(fields) < 2 {
		return models.Tick{}, fmt.Errorf("data frame: %d fields", len(fields))
	}
	head := strings.Split(fields[0], "|")
	ticker := head[len(head)-1]
	if ticker == "" {
		return models.Tick{}, fmt.Errorf("data frame: empty ticker in %q", fields[0])
	}
	return models.Tick{Ticker: ticker, Fields: fields, ReceivedAt: at}, nil
}

type ackFrame struct {
	Header struct {
		TrID  string `json:"tr_id"`
		TrKey string `json:"tr_key"`
	} `json:"header"`
	Body struct {
		RtCd  string `json:"rt_cd"`
		MsgCd string `json:"msg_cd"`
		Msg1  string `json:"msg1"`
	} `json:"body"`
}

func parseAck(msg string) (ackFrame, error) {
	var a ackFrame
	if err := sonic.UnmarshalString(msg, &a); err != nil {
		return a, fmt.Errorf("ack frame: %w", err)
	}
	return a, nil
}

type envelopeHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"`
	ContentType string `json:"content-type"`
}

type envelopeInput struct {
	TrID  string `json:"tr_id"`
	TrKey string `json:"tr_key"`
}

type envelope struct {
	Header envelopeHeader `json:"header"`
	Body   struct {
		Input envelopeInput `json:"input"`
	} `json:"body"`
}

const (
	trTypeSubscribe   = "1"
	trTypeUnsubscribe = "2"
)

func newEnvelope(approvalKey, trType, ticker string) envelope {
	var e envelope
	e.Header = envelopeHeader{
		ApprovalKey: approvalKey,
		CustType:    "P",
		TrType:      trType,
		ContentType: "utf-8",
	}
	e.Body.Input = envelopeInput{TrID: trIDOrderbook, TrKey: ticker}
	return e
}
