package exchange

import (
	"encoding/json"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	Limit  OrderType = "Limit"
	Market OrderType = "Market"
)

const (
	GoodTillCancel    = "GoodTillCancel"
	ImmediateOrCancel = "ImmediateOrCancel"
)

type OrderStatus string

const (
	StatusCreated         OrderStatus = "Created"
	StatusNew             OrderStatus = "New"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCancelled       OrderStatus = "Cancelled"
	StatusRejected        OrderStatus = "Rejected"
	StatusPendingCancel   OrderStatus = "PendingCancel"
)

// Final reports whether the order will never fill any further.
func (s OrderStatus) Final() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

type Order struct {
	OrderID     string          `json:"order_id"`
	OrderLinkID string          `json:"order_link_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	OrderType   OrderType       `json:"order_type"`
	Price       decimal.Decimal `json:"price"`
	Qty         decimal.Decimal `json:"qty"`
	Status      OrderStatus     `json:"order_status"`
}

type ticker struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"last_price"`
}

// envelope is the common response wrapper of every endpoint.
type envelope struct {
	RetCode int             `json:"ret_code"`
	RetMsg  string          `json:"ret_msg"`
	Result  json.RawMessage `json:"result"`
}
