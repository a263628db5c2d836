package grid

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/xyths/gridfleet/exchange"
)

const (
	PricePrecision  int32 = 2
	AmountPrecision int32 = 4
)

// Ladder is the fixed set of grid prices of one account.
// Sell[i] is one step above Buy[i].
type Ladder struct {
	Step decimal.Decimal
	Buy  []decimal.Decimal
	Sell []decimal.Decimal
}

// NewLadder splits [minPrice, maxPrice] into number equal steps. Buy levels are
// the lower bound of each step, sell levels the upper bound.
func NewLadder(minPrice, maxPrice decimal.Decimal, number int) (Ladder, error) {
	if number <= 0 {
		return Ladder{}, errors.Errorf("grid number %d must be positive", number)
	}
	if !maxPrice.GreaterThan(minPrice) {
		return Ladder{}, errors.Errorf("max price %s must be above min price %s", maxPrice, minPrice)
	}
	step := maxPrice.Sub(minPrice).Div(decimal.NewFromInt(int64(number)))
	l := Ladder{
		Step: step,
		Buy:  make([]decimal.Decimal, 0, number),
		Sell: make([]decimal.Decimal, 0, number),
	}
	for i := 0; i < number; i++ {
		l.Buy = append(l.Buy, levelPrice(minPrice, step, i))
		l.Sell = append(l.Sell, levelPrice(minPrice, step, i+1))
	}
	return l, nil
}

func levelPrice(minPrice, step decimal.Decimal, i int) decimal.Decimal {
	return minPrice.Add(step.Mul(decimal.NewFromInt(int64(i)))).Round(PricePrecision)
}

// Quantity is the amount bought or sold at price so that every level uses an
// equal share of the deposit.
func Quantity(deposit decimal.Decimal, number int, price decimal.Decimal) decimal.Decimal {
	if number <= 0 || !price.IsPositive() {
		return decimal.Zero
	}
	return deposit.Div(decimal.NewFromInt(int64(number))).Div(price).Round(AmountPrecision)
}

// levelKey identifies a level in the order book. Prices are rounded when the
// ladder is built, so the fixed string never drifts between iterations.
func levelKey(price decimal.Decimal) string {
	return price.StringFixed(PricePrecision)
}

type OrderStatus string

const (
	OrderPlaced    OrderStatus = "placed"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is the worker's record of the order resting at one level.
type Order struct {
	Level      decimal.Decimal
	Side       exchange.Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	ExchangeID string
	LinkID     string
	Status     OrderStatus
}
