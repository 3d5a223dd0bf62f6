package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/svyatogor45/triarb/internal/apperrors"
	"github.com/svyatogor45/triarb/internal/models"
	"github.com/svyatogor45/triarb/pkg/ratelimit"
	"github.com/svyatogor45/triarb/pkg/retry"
	"github.com/svyatogor45/triarb/pkg/utils"
)

const defaultRESTBaseURL = "https://www.okx.com"

// OKXClient implements Exchange against OKX's spot REST API (v5) and
// WebSocket public/private channels.
type OKXClient struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string
	wsURL      string
	simulated  bool

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter

	feeRates map[string]float64

	log *utils.Logger
}

// OKXOption configures an OKXClient at construction time.
type OKXOption func(*OKXClient)

// WithSimulatedTrading flags every REST request with OKX's
// x-simulated-trading demo header instead of hitting the live book.
func WithSimulatedTrading() OKXOption {
	return func(c *OKXClient) { c.simulated = true }
}

// WithFeeRates seeds the client's taker fee table, keyed by pair symbol.
func WithFeeRates(fees map[string]float64) OKXOption {
	return func(c *OKXClient) { c.feeRates = fees }
}

// WithWSURL overrides the default public WebSocket endpoint.
func WithWSURL(url string) OKXOption {
	return func(c *OKXClient) { c.wsURL = url }
}

// NewOKXClient builds a REST+WebSocket client. baseURL defaults to OKX's
// production endpoint if empty.
func NewOKXClient(apiKey, secretKey, passphrase, baseURL string, rateLimitRPS, rateLimitBurst float64, opts ...OKXOption) *OKXClient {
	if baseURL == "" {
		baseURL = defaultRESTBaseURL
	}
	if rateLimitRPS <= 0 {
		rateLimitRPS = 20
	}
	if rateLimitBurst <= 0 {
		rateLimitBurst = 40
	}

	c := &OKXClient{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    ratelimit.NewRateLimiter(rateLimitRPS, rateLimitBurst),
		feeRates:   make(map[string]float64),
		log:        utils.L().WithExchange("okx"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OKXClient) Name() string { return "okx" }

func (c *OKXClient) TakerFee(pair models.Pair) float64 {
	if fee, ok := c.feeRates[pair.Symbol]; ok {
		return fee
	}
	return 0.001
}

// sign implements OKX's pre-hash signing scheme:
// base64(hmac-sha256(timestamp + method + requestPath + body, secretKey)).
func (c *OKXClient) sign(timestamp, method, requestPath, body string) string {
	message := timestamp + strings.ToUpper(method) + requestPath + body
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func okxTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func (c *OKXClient) do(ctx context.Context, method, requestPath string, body []byte, authenticated bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		if authenticated {
			ts := okxTimestamp()
			sig := c.sign(ts, method, requestPath, string(body))
			req.Header.Set("OK-ACCESS-KEY", c.apiKey)
			req.Header.Set("OK-ACCESS-SIGN", sig)
			req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
			req.Header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)
		}
		if c.simulated {
			req.Header.Set("x-simulated-trading", "1")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &apperrors.TransportError{Op: requestPath, Err: err}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return &apperrors.TransportError{Op: requestPath, Err: err}
		}
		if resp.StatusCode >= 500 {
			return &apperrors.TransportError{Op: requestPath, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(&apperrors.TransportError{Op: requestPath, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)})
		}
		result = respBody
		return nil
	}

	if err := retry.Do(ctx, op, retry.NetworkConfig()); err != nil {
		return nil, err
	}
	return result, nil
}

type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *OKXClient) GetBalance(ctx context.Context) (models.Portfolio, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", nil, true)
	if err != nil {
		return models.Portfolio{}, err
	}

	var env okxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Portfolio{}, &apperrors.DataError{Msg: "balance: malformed envelope: " + err.Error()}
	}
	if env.Code != "0" {
		return models.Portfolio{}, &apperrors.DataError{Msg: "balance: " + env.Msg}
	}

	var accounts []struct {
		Details []struct {
			Ccy     string `json:"ccy"`
			AvailBal string `json:"availBal"`
		} `json:"details"`
	}
	if err := json.Unmarshal(env.Data, &accounts); err != nil {
		return models.Portfolio{}, &apperrors.DataError{Msg: "balance: malformed data: " + err.Error()}
	}

	balances := make(map[string]float64)
	for _, acct := range accounts {
		for _, d := range acct.Details {
			if d.Ccy == "" {
				continue
			}
			amt, err := strconv.ParseFloat(d.AvailBal, 64)
			if err != nil {
				continue
			}
			balances[strings.ToUpper(d.Ccy)] = amt
		}
	}

	return models.Portfolio{Balances: balances, Timestamp: time.Now()}, nil
}

func (c *OKXClient) GetOrderBook(ctx context.Context, pair models.Pair, depth int) (models.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	path := fmt.Sprintf("/api/v5/market/books?instId=%s&sz=%d", pair.Symbol, depth)
	raw, err := c.do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return models.OrderBook{}, err
	}

	var env okxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.OrderBook{}, &apperrors.DataError{Pair: pair.Symbol, Msg: "malformed envelope: " + err.Error()}
	}
	if env.Code != "0" {
		return models.OrderBook{}, &apperrors.DataError{Pair: pair.Symbol, Msg: env.Msg}
	}

	var books []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		Ts   string     `json:"ts"`
	}
	if err := json.Unmarshal(env.Data, &books); err != nil || len(books) == 0 {
		return models.OrderBook{}, &apperrors.DataError{Pair: pair.Symbol, Msg: "no book data"}
	}

	book := books[0]
	ob := models.OrderBook{
		Pair: pair,
		Bids: parseLevels(book.Bids),
		Asks: parseLevels(book.Asks),
	}
	if ms, err := strconv.ParseInt(book.Ts, 10, 64); err == nil {
		ob.Timestamp = time.UnixMilli(ms)
	} else {
		ob.Timestamp = time.Now()
	}
	return ob, nil
}

func parseLevels(raw [][]string) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(raw))
	for _, row := range raw {
		if len(row) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(row[0], 64)
		size, err2 := strconv.ParseFloat(row[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, models.PriceLevel{Price: price, Size: size})
	}
	return levels
}

func (c *OKXClient) PlaceOrder(ctx context.Context, pair models.Pair, side models.PathAction, price, qty float64) (string, error) {
	sideStr := "buy"
	if side == models.ActionSell {
		sideStr = "sell"
	}

	body, _ := json.Marshal(map[string]string{
		"instId":  pair.Symbol,
		"tdMode":  "cash",
		"side":    sideStr,
		"ordType": "limit",
		"sz":      strconv.FormatFloat(qty, 'f', -1, 64),
		"px":      strconv.FormatFloat(price, 'f', -1, 64),
	})

	raw, err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", body, true)
	if err != nil {
		return "", err
	}

	var env okxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", &apperrors.OrderError{Op: "place", Err: err}
	}
	var orders []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := json.Unmarshal(env.Data, &orders); err != nil || len(orders) == 0 {
		return "", &apperrors.OrderError{Op: "place", Err: fmt.Errorf("empty response: %s", env.Msg)}
	}
	if orders[0].SCode != "0" {
		return "", &apperrors.OrderError{Op: "place", Err: fmt.Errorf("%s", orders[0].SMsg)}
	}
	return orders[0].OrdID, nil
}

func (c *OKXClient) GetOrderStatus(ctx context.Context, pair models.Pair, orderID string) (OrderStatus, error) {
	path := fmt.Sprintf("/api/v5/trade/order?instId=%s&ordId=%s", pair.Symbol, orderID)
	raw, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return OrderStatus{}, err
	}

	var env okxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return OrderStatus{}, &apperrors.OrderError{OrderID: orderID, Op: "status", Err: err}
	}
	var orders []struct {
		State    string `json:"state"`
		FillSz   string `json:"fillSz"`
		AvgPx    string `json:"avgPx"`
		Fee      string `json:"fee"`
	}
	if err := json.Unmarshal(env.Data, &orders); err != nil || len(orders) == 0 {
		return OrderStatus{}, &apperrors.OrderError{OrderID: orderID, Op: "status", Err: fmt.Errorf("no such order")}
	}

	o := orders[0]
	filled, _ := strconv.ParseFloat(o.FillSz, 64)
	avg, _ := strconv.ParseFloat(o.AvgPx, 64)
	fee, _ := strconv.ParseFloat(o.Fee, 64)

	return OrderStatus{
		OrderID:      orderID,
		Status:       mapOKXState(o.State),
		FilledSize:   filled,
		AvgFillPrice: avg,
		Fee:          fee,
	}, nil
}

func mapOKXState(state string) models.OrderStatus {
	switch state {
	case "live":
		return models.OrderLive
	case "partially_filled":
		return models.OrderPartiallyFilled
	case "filled":
		return models.OrderFilled
	case "canceled", "cancelled":
		return models.OrderCancelled
	default:
		return models.OrderFailed
	}
}

func (c *OKXClient) CancelOrder(ctx context.Context, pair models.Pair, orderID string) error {
	body, _ := json.Marshal(map[string]string{"instId": pair.Symbol, "ordId": orderID})
	raw, err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", body, true)
	if err != nil {
		return err
	}
	var env okxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &apperrors.OrderError{OrderID: orderID, Op: "cancel", Err: err}
	}
	// A cancel on an already-filled or already-cancelled order is not
	// treated as a failure: the caller only wants to stop waiting on it.
	return nil
}
