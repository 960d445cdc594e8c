package fcmhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/FleetFoot/RacePulse/internal/integrations/push"
	"github.com/pkg/errors"
)

// Client talks to an FCM-compatible HTTP push gateway.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendReq struct {
	RecipientIDs []string          `json:"recipient_ids"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data,omitempty"`
}

type sendResp struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
}

func (c *Client) Send(ctx context.Context, recipientID string, n push.Notification) error {
	_, err := c.SendBatch(ctx, []string{recipientID}, n)
	return err
}

func (c *Client) SendBatch(ctx context.Context, recipientIDs []string, n push.Notification) (int, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return 0, errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/messages:send"

	body, err := json.Marshal(sendReq{
		RecipientIDs: recipientIDs,
		Title:        n.Title,
		Body:         n.Body,
		Data:         n.Data,
	})
	if err != nil {
		return 0, errors.Wrap(err, "marshal send request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("push gateway http %d", resp.StatusCode)
	}

	var r sendResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return 0, errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return 0, fmt.Errorf("push gateway status=%s", r.Status)
	}
	return r.Accepted, nil
}
