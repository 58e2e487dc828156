package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"brokerlink/internal/domain"
	"brokerlink/internal/protocol/oauth"
)

// Client is the stateless trading client. All venue interaction funnels
// through the Transport, which transparently establishes or refreshes the
// live session.
type Client struct {
	transport *Transport
	base      string
	// staleTolerance bounds how delayed a quote may be before GetQuote
	// reports it stale instead of returning it.
	staleTolerance time.Duration
}

// NewClient returns a Client rooted at the venue base URL.
func NewClient(transport *Transport, baseURL string, staleTolerance time.Duration) *Client {
	if staleTolerance <= 0 {
		staleTolerance = 15 * time.Second
	}
	return &Client{transport: transport, base: baseURL, staleTolerance: staleTolerance}
}

// SearchContract resolves a symbol (optionally narrowed by expiry, strike
// and right) to tradable contracts. Zero matches is domain.ErrNotFound.
func (c *Client) SearchContract(ctx context.Context, q domain.ContractQuery) ([]domain.ContractRef, error) {
	params := oauth.Params{"symbol": q.Symbol}
	if q.Expiry != "" {
		params["expiry"] = q.Expiry
	}
	if !q.Strike.IsZero() {
		params["strike"] = q.Strike.String()
	}
	if q.Right != "" {
		params["right"] = string(q.Right)
	}

	var out []domain.ContractRef
	if err := c.transport.Call(ctx, http.MethodGet, c.base+"/v1/contracts/search",
		params, true, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("searching %q: %w", q.Symbol, domain.ErrNotFound)
	}
	return out, nil
}

type quoteResponse struct {
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	DelayedMS int64           `json:"delayed_ms"`
	AsOfMilli int64           `json:"as_of"`
}

// GetQuote fetches a market snapshot. A quote the venue marks delayed
// beyond the configured tolerance is domain.ErrStaleData.
func (c *Client) GetQuote(ctx context.Context, ref domain.ContractRef) (domain.Quote, error) {
	var resp quoteResponse
	err := c.transport.Call(ctx, http.MethodGet, c.base+"/v1/quote",
		oauth.Params{"conid": ref.ID}, true, &resp)
	if err != nil {
		return domain.Quote{}, err
	}

	delayed := time.Duration(resp.DelayedMS) * time.Millisecond
	if delayed > c.staleTolerance {
		return domain.Quote{}, fmt.Errorf("quote for %s delayed %s: %w",
			ref.Symbol, delayed, domain.ErrStaleData)
	}
	return domain.Quote{
		Contract:  ref,
		Bid:       resp.Bid,
		Ask:       resp.Ask,
		Last:      resp.Last,
		DelayedBy: delayed,
		AsOf:      time.UnixMilli(resp.AsOfMilli),
	}, nil
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type rejectionResponse struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// PlaceOrderWithStop submits a primary market order and a dependent stop
// order. If the primary leg is rejected the stop leg is never submitted.
//
// Order placement is not idempotent at the HTTP level: idempotencyKey is
// sent as the client order ID so the venue recognizes a retried submission
// as a duplicate instead of double-filling it. An empty key gets a fresh
// UUID, which protects the stop leg pairing but not caller-level retries.
func (c *Client) PlaceOrderWithStop(ctx context.Context, ref domain.ContractRef,
	side domain.Side, qty decimal.Decimal, stopMultiple decimal.Decimal,
	idempotencyKey string) (domain.OrderResult, error) {

	if qty.Sign() <= 0 {
		return domain.OrderResult{}, fmt.Errorf("quantity must be positive, got %s", qty)
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	// The stop leg triggers off the current price scaled by stopMultiple.
	quote, err := c.GetQuote(ctx, ref)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("pricing stop leg: %w", err)
	}
	stopPrice := quote.Last.Mul(stopMultiple)

	primary, err := c.placeOrder(ctx, oauth.Params{
		"conid":      ref.ID,
		"side":       string(side),
		"quantity":   qty.String(),
		"order_type": "MKT",
		"client_oid": idempotencyKey,
	})
	if err != nil {
		return domain.OrderResult{}, err
	}

	stop, err := c.placeOrder(ctx, oauth.Params{
		"conid":      ref.ID,
		"side":       string(opposite(side)),
		"quantity":   qty.String(),
		"order_type": "STP",
		"stop_price": stopPrice.String(),
		"parent_id":  primary.OrderID,
		"client_oid": idempotencyKey + "-stop",
	})
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf(
			"primary order %s accepted but stop leg failed: %w", primary.OrderID, err)
	}

	return domain.OrderResult{
		OrderID:     primary.OrderID,
		StopOrderID: stop.OrderID,
		Status:      primary.Status,
	}, nil
}

func (c *Client) placeOrder(ctx context.Context, params oauth.Params) (orderResponse, error) {
	var resp orderResponse
	err := c.transport.Call(ctx, http.MethodPost, c.base+"/v1/orders", params, false, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.Status == http.StatusUnprocessableEntity {
			var rej rejectionResponse
			if jerr := json.Unmarshal(se.Body, &rej); jerr == nil {
				return orderResponse{}, &domain.OrderRejectedError{Code: rej.Code, Reason: rej.Reason}
			}
		}
		return orderResponse{}, err
	}
	return resp, nil
}

// CancelOrder asks the venue to cancel an open order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.transport.Call(ctx, http.MethodPost, c.base+"/v1/orders/cancel",
		oauth.Params{"order_id": orderID}, false, nil)
}

// ListPositions returns the account's open positions.
func (c *Client) ListPositions(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	if err := c.transport.Call(ctx, http.MethodGet, c.base+"/v1/positions",
		nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func opposite(s domain.Side) domain.Side {
	if s == domain.Buy {
		return domain.Sell
	}
	return domain.Buy
}
