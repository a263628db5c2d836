package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	pathTickers     = "/v2/public/tickers"
	pathOrderCreate = "/v2/private/order/create"
	pathOrder       = "/v2/private/order"
	pathOrderCancel = "/v2/private/order/cancel"
)

// Client talks to the Bybit v2 REST API on behalf of one account.
// It never retries: the caller's loop decides when to try again.
type Client struct {
	http       *resty.Client
	apiKey     string
	secret     string
	recvWindow int64
	now        func() time.Time
}

type Options struct {
	Host       string
	RecvWindow int64 // ms
	Timeout    time.Duration
}

func New(opts Options, apiKey, secret string) *Client {
	host := strings.TrimRight(opts.Host, "/")
	hc := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetRetryCount(0)
	return &Client{
		http:       hc,
		apiKey:     apiKey,
		secret:     secret,
		recvWindow: opts.RecvWindow,
		now:        time.Now,
	}
}

func (c *Client) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var tickers []ticker
	q := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, http.MethodGet, pathTickers, q.Encode(), &tickers); err != nil {
		return decimal.Zero, err
	}
	for _, t := range tickers {
		if t.Symbol == "" || t.Symbol == symbol {
			if !t.LastPrice.IsPositive() {
				return decimal.Zero, &APIError{Path: pathTickers, Code: -1, Msg: "no last price for " + symbol}
			}
			return t.LastPrice, nil
		}
	}
	return decimal.Zero, &APIError{Path: pathTickers, Code: -1, Msg: "no ticker for " + symbol}
}

func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side Side, price, qty decimal.Decimal, linkID string) (*Order, error) {
	if !price.IsPositive() {
		return nil, errors.Wrapf(ErrInvalidRequest, "limit price %s", price)
	}
	return c.placeOrder(ctx, symbol, side, Limit, price, qty, GoodTillCancel, linkID)
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal, linkID string) (*Order, error) {
	return c.placeOrder(ctx, symbol, side, Market, decimal.Zero, qty, ImmediateOrCancel, linkID)
}

func (c *Client) placeOrder(ctx context.Context, symbol string, side Side, typ OrderType, price, qty decimal.Decimal, tif, linkID string) (*Order, error) {
	if symbol == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "empty symbol")
	}
	if !qty.IsPositive() {
		return nil, errors.Wrapf(ErrInvalidRequest, "order qty %s", qty)
	}
	params := url.Values{
		"symbol":        {symbol},
		"side":          {string(side)},
		"order_type":    {string(typ)},
		"qty":           {qty.String()},
		"time_in_force": {tif},
	}
	if typ == Limit {
		params.Set("price", price.String())
	}
	if linkID != "" {
		params.Set("order_link_id", linkID)
	}
	var o Order
	if err := c.doSigned(ctx, http.MethodPost, pathOrderCreate, params, &o); err != nil {
		return nil, err
	}
	if o.OrderID == "" {
		return nil, errors.Errorf("decode %s result: missing order_id", pathOrderCreate)
	}
	return &o, nil
}

func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	if orderID == "" {
		return "", errors.Wrap(ErrInvalidRequest, "empty order id")
	}
	var o Order
	params := url.Values{"symbol": {symbol}, "order_id": {orderID}}
	if err := c.doSigned(ctx, http.MethodGet, pathOrder, params, &o); err != nil {
		return "", err
	}
	return o.Status, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if orderID == "" {
		return errors.Wrap(ErrInvalidRequest, "empty order id")
	}
	params := url.Values{"symbol": {symbol}, "order_id": {orderID}}
	return c.doSigned(ctx, http.MethodPost, pathOrderCancel, params, nil)
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var orders []Order
	params := url.Values{"symbol": {symbol}}
	if err := c.doSigned(ctx, http.MethodGet, pathOrder, params, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CancelAllOrders cancels every open order of symbol one by one. A failed
// cancel does not stop the rest; the first failure is returned.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	orders, err := c.OpenOrders(ctx, symbol)
	if err != nil {
		return 0, errors.Wrap(err, "list open orders")
	}
	cancelled := 0
	var first error
	for _, o := range orders {
		if err := c.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			if first == nil {
				first = errors.Wrapf(err, "cancel order %s", o.OrderID)
			}
			continue
		}
		cancelled++
	}
	return cancelled, first
}

func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	qs := signParams(c.apiKey, c.secret, c.recvWindow, c.now(), params)
	return c.do(ctx, method, path, qs, out)
}

func (c *Client) do(ctx context.Context, method, path, qs string, out interface{}) error {
	r := c.http.R().SetContext(ctx)
	var (
		resp *resty.Response
		err  error
	)
	switch method {
	case http.MethodGet:
		resp, err = r.SetQueryString(qs).Get(path)
	case http.MethodPost:
		resp, err = r.
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetBody(qs).
			Post(path)
	default:
		return errors.Wrapf(ErrInvalidRequest, "unsupported method %s", method)
	}
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}

	var env envelope
	if decodeErr := json.Unmarshal(resp.Body(), &env); decodeErr != nil {
		if resp.IsError() {
			return &HTTPError{Path: path, Status: resp.StatusCode(), Body: string(resp.Body())}
		}
		return errors.Wrapf(decodeErr, "decode %s", path)
	}
	if env.RetCode != 0 {
		return &APIError{Path: path, Code: env.RetCode, Msg: env.RetMsg}
	}
	if resp.IsError() {
		return &HTTPError{Path: path, Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	if out == nil || len(env.Result) == 0 || bytes.Equal(env.Result, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return errors.Wrapf(err, "decode %s result", path)
	}
	return nil
}
