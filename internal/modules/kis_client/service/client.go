package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"kis_trader/internal/models"
	"kis_trader/internal/modules/config"
	storage "kis_trader/internal/modules/storage/service"
	"kis_trader/pkg/exception"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Client talks to the KIS open API over REST.
type Client struct {
	cfg   config.KIS
	http  *http.Client
	creds storage.CredentialStore

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	credMu sync.Mutex
	cache  map[string]models.Credential
}

func NewClient(cfg *config.Config, creds storage.CredentialStore) *Client {
	return &Client{
		cfg:   cfg.KIS,
		http:  &http.Client{Timeout: cfg.KIS.HTTPTimeout},
		creds: creds,
		now:   time.Now,
		sleep: sleepCtx,
		cache: make(map[string]models.Credential),
	}
}

func (c *Client) mode() string {
	if c.cfg.Mock {
		return "mock"
	}
	return "real"
}

// trID maps a real-account tr_id to its paper-trading twin (T... -> V...).
func (c *Client) trID(real string) string {
	if c.cfg.Mock && strings.HasPrefix(real, "T") {
		return "V" + real[1:]
	}
	return real
}

func (c *Client) account() (cano, product string) {
	return c.cfg.Account, c.cfg.ProductCode
}

type request struct {
	op     string
	method string
	base   string
	path   string
	trID   string
	query  url.Values
	body   any
}

// do sends an authenticated request and decodes the response into out.
// Transport problems and non-2xx statuses are connectivity errors.
func (c *Client) do(ctx context.Context, r request, out any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", r.op, err)
	}

	var body io.Reader
	if r.body != nil {
		payload, err := sonic.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("%s marshal: %w", r.op, err)
		}
		body = bytes.NewReader(payload)
	}

	u := r.base + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return fmt.Errorf("%s new request: %w", r.op, err)
	}
	req.Header.Set("content-type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
	req.Header.Set("tr_id", r.trID)
	req.Header.Set("tr_cont", "")
	req.Header.Set("custtype", "P")

	return c.send(req, r.op, out)
}

func (c *Client) send(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return exception.Connectivity(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return exception.Connectivity(op+" read", err)
	}

	if resp.StatusCode/100 != 2 {
		// KIS answers rejected orders with 500 and a normal envelope; surface those as rejections.
		var env envelope
		if sonic.Unmarshal(data, &env) == nil && env.RtCd != "" && env.RtCd != "0" {
			return fmt.Errorf("%s: %w", op, exception.NewOrderRejected(env.RtCd, env.MsgCd, env.Msg1))
		}
		return exception.Connectivity(op, fmt.Errorf("http %d: %s", resp.StatusCode, string(data)))
	}

	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s decode: %w; body=%s", op, err, string(data))
	}
	return nil
}

func (e envelope) check(op string) error {
	if e.RtCd != "0" {
		return fmt.Errorf("%s: %w", op, exception.NewOrderRejected(e.RtCd, e.MsgCd, e.Msg1))
	}
	return nil
}

// toInt parses KIS numeric strings, which may carry a fractional part ("71200.0000").
func toInt(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Floor(f))
}

func toFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
