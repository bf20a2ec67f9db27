package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// RESTClient is a resty-backed Client implementation, grounded on the
// teacher's internal/exchange/bitunix/rest.go connection and signing setup.
type RESTClient struct {
	key, secret, base string
	http              *resty.Client
}

// NewRESTClient builds a client with pooled connections and modest retries
// at the transport level, matching the teacher's NewREST.
func NewRESTClient(base, key, secret string) *RESTClient {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	c := resty.New().
		SetTransport(transport).
		SetBaseURL(base).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	return &RESTClient{key: key, secret: secret, base: base, http: c}
}

func (c *RESTClient) authHeaders(nonce string) map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return map[string]string{
		"api-key":   c.key,
		"nonce":     nonce,
		"timestamp": ts,
		"sign":      sign(c.secret, nonce, c.key, ts),
	}
}

func (c *RESTClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMs int64, limit int) ([]Bar, error) {
	type klineResp struct {
		Data []struct {
			Ts   int64   `json:"ts"`
			O, H, L, Cl, V float64
		} `json:"data"`
	}
	var out klineResp
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": timeframe,
			"start":    strconv.FormatInt(sinceMs, 10),
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&out).
		Get("/api/v1/futures/market/kline")
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Code: resp.StatusCode(), Message: resp.String()}
	}
	bars := make([]Bar, 0, len(out.Data))
	for _, d := range out.Data {
		bars = append(bars, Bar{TimestampMs: d.Ts, Open: d.O, High: d.H, Low: d.L, Close: d.Cl, Volume: d.V})
	}
	return bars, nil
}

func (c *RESTClient) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	var out struct {
		Last float64 `json:"last"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("symbol", symbol).SetResult(&out).
		Get("/api/v1/futures/market/ticker")
	if err != nil {
		return Ticker{}, fmt.Errorf("fetch ticker: %w", err)
	}
	if resp.IsError() {
		return Ticker{}, &APIError{Code: resp.StatusCode(), Message: resp.String()}
	}
	return Ticker{Last: out.Last}, nil
}

func (c *RESTClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	var out struct {
		Bids [][2]float64 `json:"bids"`
		Asks [][2]float64 `json:"asks"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "limit": strconv.Itoa(depth)}).
		SetResult(&out).
		Get("/api/v1/futures/market/depth")
	if err != nil {
		return OrderBook{}, fmt.Errorf("fetch order book: %w", err)
	}
	if resp.IsError() {
		return OrderBook{}, &APIError{Code: resp.StatusCode(), Message: resp.String()}
	}
	book := OrderBook{}
	for _, b := range out.Bids {
		book.Bids = append(book.Bids, OrderBookLevel{Price: b[0], Qty: b[1]})
	}
	for _, a := range out.Asks {
		book.Asks = append(book.Asks, OrderBookLevel{Price: a[0], Qty: a[1]})
	}
	return book, nil
}

func (c *RESTClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.New().String()
	}
	body := map[string]any{
		"symbol":          req.Symbol,
		"side":             req.Side,
		"type":             req.Type,
		"qty":              strconv.FormatFloat(req.Amount, 'f', -1, 64),
		"clientOrderId":    req.ClientOrderID,
		"postOnly":         req.PostOnly,
		"isClosingOrder":   req.IsClosingOrder,
	}
	if req.Price > 0 {
		body["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.TriggerPrice > 0 {
		body["stopPrice"] = strconv.FormatFloat(req.TriggerPrice, 'f', -1, 64)
	}
	if req.EntryPositionSide != "" {
		body["entryPositionSide"] = req.EntryPositionSide
	}

	var out struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			OrderID string `json:"orderId"`
		} `json:"data"`
	}
	nonce := uuid.New().String()
	resp, err := c.http.R().SetContext(ctx).
		SetHeaders(c.authHeaders(nonce)).
		SetBody(body).
		SetResult(&out).
		Post("/api/v1/futures/trade/place_order")
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	if resp.IsError() || out.Code != 0 {
		return Order{}, &APIError{Code: errCode(resp.StatusCode(), out.Code), Message: out.Msg}
	}
	return Order{ID: out.Data.OrderID, Status: OrderOpen, Price: req.Price, Amount: req.Amount}, nil
}

func errCode(httpStatus, apiCode int) int {
	if apiCode != 0 {
		return apiCode
	}
	return httpStatus
}

func (c *RESTClient) CancelOrder(ctx context.Context, id, symbol string) error {
	var out struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	nonce := uuid.New().String()
	resp, err := c.http.R().SetContext(ctx).
		SetHeaders(c.authHeaders(nonce)).
		SetBody(map[string]string{"orderId": id, "symbol": symbol}).
		SetResult(&out).
		Post("/api/v1/futures/trade/cancel_order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.IsError() || out.Code != 0 {
		return &APIError{Code: errCode(resp.StatusCode(), out.Code), Message: out.Msg}
	}
	return nil
}

func (c *RESTClient) FetchOrder(ctx context.Context, id, symbol string) (Order, error) {
	var out struct {
		Data struct {
			Status  string  `json:"status"`
			Price   float64 `json:"price"`
			Amount  float64 `json:"qty"`
			Filled  float64 `json:"filledQty"`
			Average float64 `json:"avgPrice"`
			Fee     float64 `json:"fee"`
		} `json:"data"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"orderId": id, "symbol": symbol}).
		SetResult(&out).
		Get("/api/v1/futures/trade/order_detail")
	if err != nil {
		return Order{}, fmt.Errorf("fetch order: %w", err)
	}
	if resp.IsError() {
		return Order{}, &APIError{Code: resp.StatusCode(), Message: resp.String()}
	}
	return Order{
		ID:      id,
		Status:  normalizeStatus(out.Data.Status),
		Price:   out.Data.Price,
		Amount:  out.Data.Amount,
		Filled:  out.Data.Filled,
		Average: out.Data.Average,
		Fee:     out.Data.Fee,
	}, nil
}

func normalizeStatus(s string) OrderStatus {
	switch OrderStatus(s) {
	case OrderOpen, OrderClosed, OrderCanceled, OrderExpired:
		return OrderStatus(s)
	default:
		return OrderUnknown
	}
}

func (c *RESTClient) FetchActiveOrders(ctx context.Context, symbol string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var out struct {
		Data []struct {
			OrderID string  `json:"orderId"`
			Status  string  `json:"status"`
			Price   float64 `json:"price"`
			Amount  float64 `json:"qty"`
		} `json:"data"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "limit": strconv.Itoa(limit)}).
		SetResult(&out).
		Get("/api/v1/futures/trade/active_orders")
	if err != nil {
		return nil, fmt.Errorf("fetch active orders: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Code: resp.StatusCode(), Message: resp.String()}
	}
	orders := make([]Order, 0, len(out.Data))
	for _, o := range out.Data {
		orders = append(orders, Order{ID: o.OrderID, Status: normalizeStatus(o.Status), Price: o.Price, Amount: o.Amount})
	}
	return orders, nil
}

func (c *RESTClient) FetchMarginPositions(ctx context.Context, symbol string) ([]MarginPosition, error) {
	var out struct {
		Data []struct {
			Side   string  `json:"side"`
			Amount float64 `json:"amount"`
		} `json:"data"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("symbol", symbol).SetResult(&out).
		Get("/api/v1/futures/position/list")
	if err != nil {
		return nil, fmt.Errorf("fetch margin positions: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Code: resp.StatusCode(), Message: resp.String()}
	}
	positions := make([]MarginPosition, 0, len(out.Data))
	for _, p := range out.Data {
		positions = append(positions, MarginPosition{Side: MarginPositionSide(p.Side), Amount: p.Amount})
	}
	return positions, nil
}

func (c *RESTClient) FetchMarginStatus(ctx context.Context) (MarginStatus, error) {
	var out struct {
		Data struct {
			MarginRatio      *float64 `json:"marginRatio"`
			AvailableBalance *float64 `json:"availableBalance"`
		} `json:"data"`
	}
	nonce := uuid.New().String()
	resp, err := c.http.R().SetContext(ctx).
		SetHeaders(c.authHeaders(nonce)).
		SetResult(&out).
		Get("/api/v1/futures/account/margin")
	if err != nil {
		return MarginStatus{}, fmt.Errorf("fetch margin status: %w", err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusUnauthorized {
			return MarginStatus{}, &APIError{Code: CodeAuth, Message: "unauthorized"}
		}
		return MarginStatus{}, &APIError{Code: resp.StatusCode(), Message: resp.String()}
	}
	return MarginStatus{MarginRatio: out.Data.MarginRatio, AvailableBalance: out.Data.AvailableBalance}, nil
}

func (c *RESTClient) FetchBalance(ctx context.Context) (Balance, error) {
	var out struct {
		Data struct {
			Free float64 `json:"free"`
		} `json:"data"`
	}
	nonce := uuid.New().String()
	resp, err := c.http.R().SetContext(ctx).
		SetHeaders(c.authHeaders(nonce)).
		SetResult(&out).
		Get("/api/v1/futures/account/balance")
	if err != nil {
		return Balance{}, fmt.Errorf("fetch balance: %w", err)
	}
	if resp.IsError() {
		return Balance{}, &APIError{Code: resp.StatusCode(), Message: resp.String()}
	}
	return Balance{Free: out.Data.Free}, nil
}
