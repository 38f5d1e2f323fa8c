package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"kis_trader/internal/models"
	"kis_trader/pkg/exception"
	"kis_trader/pkg/logger"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

const approvalTTL = 86400 * time.Second

// AccessToken returns a bearer token, renewing it ahead of expiry.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.credential(ctx, "token:"+c.mode(), c.issueToken)
}

// ApprovalKey returns the websocket approval key, renewing it ahead of expiry.
func (c *Client) ApprovalKey(ctx context.Context) (string, error) {
	return c.credential(ctx, "approval:"+c.mode(), c.issueApproval)
}

func (c *Client) credential(
	ctx context.Context,
	kind string,
	issue func(ctx context.Context) (models.Credential, error),
) (string, error) {
	c.credMu.Lock()
	defer c.credMu.Unlock()

	now := c.now()
	if cur, ok := c.cache[kind]; ok && cur.ValidAt(now, c.cfg.RenewBefore) {
		return cur.Key, nil
	}

	if c.creds != nil {
		stored, err := c.creds.GetCredential(ctx, kind)
		switch {
		case err == nil && stored.ValidAt(now, c.cfg.RenewBefore):
			logger.Info("[KIS] using cached %s", kind)
			c.cache[kind] = stored
			return stored.Key, nil
		case err != nil && !errors.Is(err, exception.ErrNotFound):
			logger.Error("[KIS] credential lookup %s: %v", kind, err)
		}
	}

	attempts := c.cfg.AuthAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		cred, err := issue(ctx)
		if err == nil {
			cred.Kind = kind
			c.cache[kind] = cred
			if c.creds != nil {
				if err := c.creds.SaveCredential(ctx, cred); err != nil {
					logger.Error("[KIS] credential save %s: %v", kind, err)
				}
			}
			logger.Info("[KIS] obtained %s on attempt %d", kind, attempt)
			return cred.Key, nil
		}

		lastErr = err
		logger.Error("[KIS] %s attempt %d/%d: %v", kind, attempt, attempts, err)
		if attempt < attempts {
			if err := c.sleep(ctx, c.cfg.AuthRetryDelay); err != nil {
				lastErr = err
				break
			}
		}
	}
	return "", fmt.Errorf("%s: %w: %v", kind, exception.ErrAuth, lastErr)
}

func (c *Client) issueToken(ctx context.Context) (models.Credential, error) {
	var resp tokenResponse
	err := c.postJSON(ctx, "tokenP", c.cfg.AuthURL+"/oauth2/tokenP", map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	}, &resp)
	if err != nil {
		return models.Credential{}, err
	}
	if resp.AccessToken == "" {
		return models.Credential{}, fmt.Errorf("tokenP: empty access_token")
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = approvalTTL
	}
	return models.Credential{Key: resp.AccessToken, ExpiresAt: c.now().Add(ttl)}, nil
}

func (c *Client) issueApproval(ctx context.Context) (models.Credential, error) {
	var resp approvalResponse
	err := c.postJSON(ctx, "Approval", c.cfg.AuthURL+"/oauth2/Approval", map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"secretkey":  c.cfg.AppSecret,
	}, &resp)
	if err != nil {
		return models.Credential{}, err
	}
	if resp.ApprovalKey == "" {
		return models.Credential{}, fmt.Errorf("Approval: empty approval_key")
	}
	return models.Credential{Key: resp.ApprovalKey, ExpiresAt: c.now().Add(approvalTTL)}, nil
}

// postJSON is the unauthenticated variant of do used by the oauth endpoints.
func (c *Client) postJSON(ctx context.Context, op, url string, body any, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s marshal: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s new request: %w", op, err)
	}
	req.Header.Set("content-type", "application/json; charset=utf-8")
	return c.send(req, op, out)
}
