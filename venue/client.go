// Package venue is the REST client for the Zano Trade order-matching server.
// Every endpoint answers a `{success, data}` envelope; data carries either
// the payload or an error message. The companion package venue/ws delivers
// the order-change notifications that drive settlement cycles.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zanotrade/marketbot/marketbot"
)

// DefaultBaseURL is the public trade server.
const DefaultBaseURL = "https://trade.zano.org"

const defaultTimeout = 30 * time.Second

// APIError is the venue's in-band failure: the HTTP exchange worked but the
// envelope reported success=false.
type APIError struct {
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("venue: %s responded with an error", e.Endpoint)
	}
	return fmt.Sprintf("venue: %s responded with an error: %s", e.Endpoint, e.Message)
}

// ClientConfig is all the caller needs to supply.
type ClientConfig struct {
	BaseURL     string
	CallSpacing time.Duration
}

// Client talks to the venue REST API. Safe for concurrent use; calls from
// all pair contexts are paced through one shared gate.
type Client struct {
	baseURL string
	http    *http.Client
	gate    *callGate
	logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(base, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		gate:    newCallGate(cfg.CallSpacing),
		logger:  slog.Default().WithGroup("venue"),
	}
}

// BaseURL returns the configured venue origin, for deriving the ws endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	if err := c.gate.wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("venue %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	if !env.Success {
		return nil, &APIError{Endpoint: path, Message: errorMessage(env.Data)}
	}
	return env.Data, nil
}

func errorMessage(data json.RawMessage) string {
	var msg string
	if err := json.Unmarshal(data, &msg); err == nil {
		return msg
	}
	return string(data)
}

// AuthParams is the wallet-signed credential bundle for Auth.
type AuthParams struct {
	Address   string `json:"address"`
	Alias     string `json:"alias"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// Auth exchanges signed wallet credentials for a trade auth token.
func (c *Client) Auth(ctx context.Context, params AuthParams) (string, error) {
	payload := struct {
		Data         AuthParams `json:"data"`
		NeverExpires bool       `json:"neverExpires"`
	}{Data: params, NeverExpires: true}

	data, err := c.post(ctx, "/api/auth", payload)
	if err != nil {
		return "", err
	}

	var token string
	if err := json.Unmarshal(data, &token); err != nil || token == "" {
		return "", fmt.Errorf("venue auth succeeded but returned no token")
	}
	return token, nil
}

type wireOrder struct {
	ID     int64           `json:"id"`
	Type   string          `json:"type"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Left   decimal.Decimal `json:"left"`
}

type wireApplyTip struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type"`
	Price          decimal.Decimal `json:"price"`
	Left           decimal.Decimal `json:"left"`
	HexRawProposal string          `json:"hex_raw_proposal"`
	Transaction    bool            `json:"transaction"`
	ConnectAddress string          `json:"connect_address"`
}

// OrdersPage is one pair's view of our open orders plus the counter-offers
// currently applying to them.
type OrdersPage struct {
	Orders    []marketbot.ObservedOrder
	ApplyTips []marketbot.CounterOffer
}

// GetUserOrdersPage fetches our orders and the live apply tips for pairID.
func (c *Client) GetUserOrdersPage(ctx context.Context, token string, pairID int64) (OrdersPage, error) {
	payload := struct {
		Token  string `json:"token"`
		PairID int64  `json:"pairId"`
	}{Token: token, PairID: pairID}

	data, err := c.post(ctx, "/api/orders/get-user-page", payload)
	if err != nil {
		return OrdersPage{}, err
	}

	var wire struct {
		Orders    []wireOrder    `json:"orders"`
		ApplyTips []wireApplyTip `json:"applyTips"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return OrdersPage{}, fmt.Errorf("decode orders page: %w", err)
	}
	if wire.Orders == nil {
		return OrdersPage{}, fmt.Errorf("orders page is missing the orders list")
	}

	page := OrdersPage{
		Orders:    make([]marketbot.ObservedOrder, 0, len(wire.Orders)),
		ApplyTips: make([]marketbot.CounterOffer, 0, len(wire.ApplyTips)),
	}
	for _, o := range wire.Orders {
		page.Orders = append(page.Orders, marketbot.ObservedOrder{
			ID:        o.ID,
			Side:      marketbot.Side(o.Type),
			Price:     o.Price,
			Amount:    o.Amount,
			Remaining: o.Left,
		})
	}
	for _, tip := range wire.ApplyTips {
		offer := marketbot.CounterOffer{
			ID:        tip.ID,
			Side:      marketbot.Side(tip.Type),
			Price:     tip.Price,
			Remaining: tip.Left,
			Address:   tip.ConnectAddress,
		}
		if tip.Transaction {
			offer.ProposalHex = tip.HexRawProposal
		}
		page.ApplyTips = append(page.ApplyTips, offer)
	}
	return page, nil
}

// CreateOrderData is the order-creation payload. Type is the order's
// direction; Side is the venue's order kind and is always "limit" for bots.
type CreateOrderData struct {
	PairID int64          `json:"pairId"`
	Type   marketbot.Side `json:"type"`
	Amount string         `json:"amount"`
	Price  string         `json:"price"`
	Side   string         `json:"side"`
}

// CreateOrder places a limit order.
func (c *Client) CreateOrder(ctx context.Context, token string, order CreateOrderData) error {
	if order.Side == "" {
		order.Side = "limit"
	}
	payload := struct {
		Token     string          `json:"token"`
		OrderData CreateOrderData `json:"orderData"`
	}{Token: token, OrderData: order}

	_, err := c.post(ctx, "/api/orders/create", payload)
	return err
}

// DeleteOrder cancels one of our orders.
func (c *Client) DeleteOrder(ctx context.Context, token string, orderID int64) error {
	payload := struct {
		Token   string `json:"token"`
		OrderID int64  `json:"orderId"`
	}{Token: token, OrderID: orderID}

	_, err := c.post(ctx, "/api/orders/cancel", payload)
	return err
}

// ApplyOrderData submits our freshly generated swap proposal against a
// counter-offer.
type ApplyOrderData struct {
	ID             int64  `json:"id"`
	HexRawProposal string `json:"hex_raw_proposal"`
}

// ApplyOrder attaches our proposal to the counter-offer, opening the
// transaction the counterparty's wallet will finalize.
func (c *Client) ApplyOrder(ctx context.Context, token string, data ApplyOrderData) error {
	payload := struct {
		Token     string         `json:"token"`
		OrderData ApplyOrderData `json:"orderData"`
	}{Token: token, OrderData: data}

	_, err := c.post(ctx, "/api/orders/apply-order", payload)
	return err
}

// ConfirmTransaction marks the swap settled on the venue after the wallet
// accepted the proposal.
func (c *Client) ConfirmTransaction(ctx context.Context, token string, transactionID int64) error {
	payload := struct {
		Token         string `json:"token"`
		TransactionID int64  `json:"transactionId"`
	}{Token: token, TransactionID: transactionID}

	_, err := c.post(ctx, "/api/transactions/confirm", payload)
	return err
}

// ActiveTx describes the in-flight swap between two orders.
type ActiveTx struct {
	BuyOrderID     int64           `json:"buy_order_id"`
	SellOrderID    int64           `json:"sell_order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Timestamp      int64           `json:"timestamp"`
	Status         string          `json:"status"`
	Creator        string          `json:"creator"`
	HexRawProposal string          `json:"hex_raw_proposal"`
}

// GetActiveTxByOrdersIds fetches the active transaction joining two orders,
// or nil when none exists.
func (c *Client) GetActiveTxByOrdersIds(ctx context.Context, token string, firstOrderID, secondOrderID int64) (*ActiveTx, error) {
	payload := struct {
		Token         string `json:"token"`
		FirstOrderID  int64  `json:"firstOrderId"`
		SecondOrderID int64  `json:"secondOrderId"`
	}{Token: token, FirstOrderID: firstOrderID, SecondOrderID: secondOrderID}

	data, err := c.post(ctx, "/api/transactions/get-active-tx-by-orders-ids", payload)
	if err != nil {
		return nil, err
	}

	var tx ActiveTx
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, nil
	}
	return &tx, nil
}

type wireCurrency struct {
	AssetID   string `json:"asset_id"`
	AssetInfo *struct {
		Ticker string `json:"ticker"`
	} `json:"asset_info"`
}

func (w wireCurrency) toCurrency() marketbot.Currency {
	out := marketbot.Currency{AssetID: w.AssetID}
	if w.AssetInfo != nil {
		out.Ticker = w.AssetInfo.Ticker
	}
	return out
}

// GetPair fetches pair metadata, primarily the two asset ids settlement
// math needs.
func (c *Client) GetPair(ctx context.Context, pairID int64) (marketbot.Pair, error) {
	payload := struct {
		ID int64 `json:"id"`
	}{ID: pairID}

	data, err := c.post(ctx, "/api/dex/get-pair", payload)
	if err != nil {
		return marketbot.Pair{}, err
	}

	var wire struct {
		ID             json.Number     `json:"id"`
		FirstCurrency  wireCurrency    `json:"first_currency"`
		SecondCurrency wireCurrency    `json:"second_currency"`
		Volume         decimal.Decimal `json:"volume"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return marketbot.Pair{}, fmt.Errorf("decode pair data: %w", err)
	}
	if wire.FirstCurrency.AssetID == "" || wire.SecondCurrency.AssetID == "" {
		return marketbot.Pair{}, fmt.Errorf("pair %d is missing currency asset ids", pairID)
	}

	id, _ := wire.ID.Int64()
	if id == 0 {
		id = pairID
	}
	return marketbot.Pair{
		ID:             id,
		FirstCurrency:  wire.FirstCurrency.toCurrency(),
		SecondCurrency: wire.SecondCurrency.toCurrency(),
		Volume:         wire.Volume,
	}, nil
}

// PingActivityChecker keeps the resting order flagged live ("instant" badge)
// on the venue.
func (c *Client) PingActivityChecker(ctx context.Context, token string, orderID int64) error {
	payload := struct {
		Token   string `json:"token"`
		OrderID int64  `json:"orderId"`
	}{Token: token, OrderID: orderID}

	_, err := c.post(ctx, "/api/dex/renew-bot", payload)
	return err
}
