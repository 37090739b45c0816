package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

// Client talks to a real brokerage over HTTP. Requests are HMAC-signed and
// transient failures are retried by the underlying resty client; the caller's
// own bounded retry loop handles anything beyond that.
type Client struct {
	http      *resty.Client
	apiKey    string
	apiSecret []byte
}

// ClientConfig configures the HTTP broker client.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// NewClient creates an HTTP broker client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err == nil && resp.StatusCode() >= 500
		})

	return &Client{
		http:      httpClient,
		apiKey:    cfg.APIKey,
		apiSecret: []byte(cfg.APISecret),
	}
}

// sign computes the request signature over timestamp + method + path + body.
func (c *Client) sign(timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, c.apiSecret)
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*resty.Request, error) {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-Key", c.apiKey).
		SetHeader("X-API-Timestamp", timestamp).
		SetHeader("X-API-Signature", c.sign(timestamp, method, path, raw))
	if raw != nil {
		req.SetBody(raw)
	}
	return req, nil
}

// classify maps a non-2xx response to a typed broker error.
func classify(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(resp.Body(), &payload)
	if payload.Message == "" {
		payload.Message = resp.Status()
	}
	if payload.Code == "" {
		payload.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode())
	}
	return &Error{
		Status:    resp.StatusCode(),
		Code:      payload.Code,
		Message:   payload.Message,
		Retryable: resp.StatusCode() >= 500 || resp.StatusCode() == 429,
	}
}

type submitPayload struct {
	ClientOrderID string   `json:"client_order_id"`
	Symbol        string   `json:"symbol"`
	Side          string   `json:"side"`
	Quantity      float64  `json:"quantity"`
	OrderType     string   `json:"order_type"`
	LimitPrice    *float64 `json:"limit_price,omitempty"`
	StopPrice     *float64 `json:"stop_price,omitempty"`
	TimeInForce   string   `json:"time_in_force,omitempty"`
}

// SubmitOrder submits an order, passing the local client_order_id as the
// broker-side client reference.
func (c *Client) SubmitOrder(ctx context.Context, order *types.Order) (*Ack, error) {
	const path = "/v1/orders"
	req, err := c.newRequest(ctx, "POST", path, submitPayload{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		OrderType:     order.OrderType,
		LimitPrice:    order.LimitPrice,
		StopPrice:     order.StopPrice,
		TimeInForce:   order.TimeInForce,
	})
	if err != nil {
		return nil, err
	}

	var ack Ack
	resp, err := req.SetResult(&ack).Post(path)
	if err != nil {
		return nil, err
	}
	if err := classify(resp); err != nil {
		return nil, err
	}
	return &ack, nil
}

// CancelOrder cancels an order by its client reference.
func (c *Client) CancelOrder(ctx context.Context, clientOrderID string) error {
	path := "/v1/orders/" + clientOrderID
	req, err := c.newRequest(ctx, "DELETE", path, nil)
	if err != nil {
		return err
	}
	resp, err := req.Delete(path)
	if err != nil {
		return err
	}
	return classify(resp)
}

// OrdersSnapshot fetches the broker's order state updated since the given time.
func (c *Client) OrdersSnapshot(ctx context.Context, since time.Time) ([]BrokerOrder, error) {
	const path = "/v1/orders"
	req, err := c.newRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var orders []BrokerOrder
	resp, err := req.
		SetQueryParam("updated_since", since.UTC().Format(time.RFC3339)).
		SetResult(&orders).
		Get(path)
	if err != nil {
		return nil, err
	}
	if err := classify(resp); err != nil {
		return nil, err
	}
	return orders, nil
}

// Positions fetches the broker's current position snapshot.
func (c *Client) Positions(ctx context.Context) ([]types.Position, error) {
	const path = "/v1/positions"
	req, err := c.newRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var positions []types.Position
	resp, err := req.SetResult(&positions).Get(path)
	if err != nil {
		return nil, err
	}
	if err := classify(resp); err != nil {
		return nil, err
	}
	return positions, nil
}
