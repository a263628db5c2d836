package grid

import (
	"context"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xyths/gridfleet/exchange"
	"github.com/xyths/gridfleet/store"
	"strconv"
	"strings"
	"time"
)

// Exchange is the part of the exchange client a worker trades through.
type Exchange interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, price, qty decimal.Decimal, linkID string) (*exchange.Order, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, qty decimal.Decimal, linkID string) (*exchange.Order, error)
	OrderStatus(ctx context.Context, symbol, orderID string) (exchange.OrderStatus, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

type Config struct {
	Interval time.Duration // pause after a successful iteration
	Backoff  time.Duration // pause after a failed one
}

func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, Backoff: 5 * time.Second}
}

// Worker runs the grid of a single account until its context is cancelled.
type Worker struct {
	account  store.Account
	ex       Exchange
	recorder store.Recorder
	cfg      Config
	log      *logrus.Entry

	deposit  decimal.Decimal
	stopLoss decimal.Decimal
	ladder   Ladder

	// orders holds the one active order per level, keyed by levelKey.
	orders map[string]*Order
	// pending holds opposite-side replacements that could not be placed yet.
	pending map[string]*Order
}

// New copies account, so later registry changes do not reach a running worker.
func New(account store.Account, ex Exchange, recorder store.Recorder, cfg Config) (*Worker, error) {
	if err := account.Validate(); err != nil {
		return nil, errors.Wrapf(err, "account %d", account.ID)
	}
	ladder, err := NewLadder(decimal.NewFromFloat(account.StartPrice), decimal.NewFromFloat(account.EndPrice), account.GridCount)
	if err != nil {
		return nil, errors.Wrapf(err, "account %d", account.ID)
	}
	if cfg.Interval <= 0 || cfg.Backoff <= 0 {
		d := DefaultConfig()
		if cfg.Interval <= 0 {
			cfg.Interval = d.Interval
		}
		if cfg.Backoff <= 0 {
			cfg.Backoff = d.Backoff
		}
	}
	return &Worker{
		account:  account,
		ex:       ex,
		recorder: recorder,
		cfg:      cfg,
		log: logrus.WithFields(logrus.Fields{
			"account": account.ID,
			"name":    account.Name,
			"symbol":  account.Symbol,
		}),
		deposit:  decimal.NewFromFloat(account.Deposit),
		stopLoss: decimal.NewFromFloat(account.StopLoss),
		ladder:   ladder,
		orders:   make(map[string]*Order),
		pending:  make(map[string]*Order),
	}, nil
}

func (w *Worker) Ladder() Ladder { return w.ladder }

// Orders returns a copy of the order book in ascending level order.
func (w *Worker) Orders() []Order {
	out := make([]Order, 0, len(w.orders))
	for _, k := range sortedKeys(w.orders) {
		out = append(out, *w.orders[k])
	}
	return out
}

// Run loops until ctx is cancelled. Errors never stop it; they are logged and
// followed by the backoff pause. Orders are left on the exchange on exit.
func (w *Worker) Run(ctx context.Context) {
	w.log.Infof("starting grid, buy levels %v, sell levels %v", w.ladder.Buy, w.ladder.Sell)
	for {
		if ctx.Err() != nil {
			w.log.Info("grid worker cancelled")
			return
		}
		wait := w.cfg.Interval
		if err := w.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				w.log.Info("grid worker cancelled")
				return
			}
			w.logError(err)
			wait = w.cfg.Backoff
		}
		select {
		case <-ctx.Done():
			w.log.Info("grid worker cancelled")
			return
		case <-time.After(wait):
		}
	}
}

func (w *Worker) logError(err error) {
	if exchange.IsTransient(err) {
		mtxErrors.WithLabelValues("transient").Inc()
		w.log.WithError(err).Warn("grid iteration failed")
		return
	}
	mtxErrors.WithLabelValues("unexpected").Inc()
	w.log.WithError(err).Error("grid iteration failed with unexpected error")
}

// iterate runs one pass: price, stop-loss, ladder fill, fill detection.
func (w *Worker) iterate(ctx context.Context) error {
	price, err := w.ex.LastPrice(ctx, w.account.Symbol)
	if err != nil {
		return errors.Wrap(err, "get last price")
	}
	w.log.Debugf("current market price is %s", price)
	mtxPrice.WithLabelValues(strconv.FormatInt(w.account.ID, 10), w.account.Symbol).Set(price.InexactFloat64())

	if err := w.checkStopLoss(ctx, price); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.fillLadder(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.checkFills(ctx)
}

// checkStopLoss liquidates every sell order at market once price is below the
// stop-loss. Buy orders stay in place. A failed level does not hold up the
// others; the first failure is returned with the count.
func (w *Worker) checkStopLoss(ctx context.Context, price decimal.Decimal) error {
	if !price.LessThan(w.stopLoss) {
		return nil
	}
	var first error
	failed := 0
	fail := func(err error) {
		if first == nil {
			first = err
		} else {
			w.log.WithError(err).Warn("stop-loss step failed")
		}
		failed++
	}

	for _, key := range sortedKeys(w.pending) {
		o := w.pending[key]
		if o.Side != exchange.Sell {
			continue
		}
		if err := w.marketSell(ctx, o.Quantity, price); err != nil {
			fail(err)
			continue
		}
		delete(w.pending, key)
	}
	for _, key := range sortedKeys(w.orders) {
		o := w.orders[key]
		if o.Side != exchange.Sell {
			continue
		}
		sell, err := w.cancelForStopLoss(ctx, key, o)
		if err != nil {
			fail(err)
			continue
		}
		delete(w.orders, key)
		if !sell {
			continue
		}
		w.log.Warnf("stop-loss triggered at level %s, price %s below %s", key, price, w.stopLoss)
		if err := w.marketSell(ctx, o.Quantity, price); err != nil {
			// the level is free now, so the ladder fill will not resurrect
			// the quantity; keep it for the next pass
			w.pending[key] = &Order{Level: o.Level, Side: exchange.Sell, Price: o.Level, Quantity: o.Quantity}
			fail(err)
		}
	}
	if first != nil {
		return errors.Wrapf(first, "stop-loss: %d step(s) failed", failed)
	}
	return nil
}

// cancelForStopLoss takes a sell order off the book. It reports whether its
// quantity still has to be sold at market. When the cancel is refused, the
// order status decides: a filled sell is already sold, a cancelled or
// rejected one still needs selling, anything else stays for the next pass.
func (w *Worker) cancelForStopLoss(ctx context.Context, key string, o *Order) (bool, error) {
	cancelErr := w.ex.CancelOrder(ctx, w.account.Symbol, o.ExchangeID)
	if cancelErr == nil {
		o.Status = OrderCancelled
		return true, nil
	}
	status, err := w.ex.OrderStatus(ctx, w.account.Symbol, o.ExchangeID)
	if err != nil || !status.Final() {
		return false, errors.Wrapf(cancelErr, "cancel sell at level %s", key)
	}
	if status == exchange.StatusFilled {
		o.Status = OrderFilled
		mtxFills.WithLabelValues("sell").Inc()
		w.log.Infof("sell at level %s filled before stop-loss cancel", key)
		w.record(ctx, o.Side, o.Price, o.Quantity, store.TradeClosed, o.ExchangeID)
		return false, nil
	}
	o.Status = OrderCancelled
	w.log.Warnf("sell at level %s is %s on the exchange", key, status)
	return true, nil
}

func (w *Worker) marketSell(ctx context.Context, qty, price decimal.Decimal) error {
	o, err := w.ex.PlaceMarketOrder(ctx, w.account.Symbol, exchange.Sell, qty, getClientOrderId(prefixStopLoss))
	if err != nil {
		return errors.Wrapf(err, "market sell %s", qty)
	}
	mtxOrders.WithLabelValues("market", "sell").Inc()
	mtxStopLoss.Inc()
	filledAt := o.Price
	if !filledAt.IsPositive() {
		filledAt = price
	}
	w.log.Infof("placed market sell with quantity %s", qty)
	w.record(ctx, exchange.Sell, filledAt, qty, store.TradeOpen, o.OrderID)
	return nil
}

// fillLadder places an order at every level that has none. Running it twice
// without exchange changes places nothing the second time.
func (w *Worker) fillLadder(ctx context.Context) error {
	if err := w.fillSide(ctx, exchange.Buy, w.ladder.Buy); err != nil {
		return err
	}
	return w.fillSide(ctx, exchange.Sell, w.ladder.Sell)
}

func (w *Worker) fillSide(ctx context.Context, side exchange.Side, levels []decimal.Decimal) error {
	for _, level := range levels {
		key := levelKey(level)
		if _, ok := w.orders[key]; ok {
			continue
		}
		if _, ok := w.pending[key]; ok {
			continue
		}
		qty := Quantity(w.deposit, w.account.GridCount, level)
		if err := w.placeLimit(ctx, side, level, qty); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) placeLimit(ctx context.Context, side exchange.Side, level, qty decimal.Decimal) error {
	linkID := getClientOrderId(sidePrefix(side))
	o, err := w.ex.PlaceLimitOrder(ctx, w.account.Symbol, side, level, qty, linkID)
	if err != nil {
		return errors.Wrapf(err, "place limit %s at %s", side, level)
	}
	mtxOrders.WithLabelValues("limit", strings.ToLower(string(side))).Inc()
	w.log.Infof("placed limit %s order at %s with quantity %s", side, level, qty)
	w.record(ctx, side, level, qty, store.TradeOpen, o.OrderID)
	w.orders[levelKey(level)] = &Order{
		Level:      level,
		Side:       side,
		Price:      level,
		Quantity:   qty,
		ExchangeID: o.OrderID,
		LinkID:     linkID,
		Status:     OrderPlaced,
	}
	return nil
}

// checkFills replaces every filled order with the opposite side at the same
// level and quantity.
func (w *Worker) checkFills(ctx context.Context) error {
	for _, key := range sortedKeys(w.pending) {
		o := w.pending[key]
		if err := w.placeLimit(ctx, o.Side, o.Level, o.Quantity); err != nil {
			return err
		}
		delete(w.pending, key)
	}

	for _, key := range sortedKeys(w.orders) {
		o := w.orders[key]
		status, err := w.ex.OrderStatus(ctx, w.account.Symbol, o.ExchangeID)
		if err != nil {
			return errors.Wrapf(err, "order status at level %s", key)
		}
		switch status {
		case exchange.StatusFilled:
			o.Status = OrderFilled
			delete(w.orders, key)
			mtxFills.WithLabelValues(strings.ToLower(string(o.Side))).Inc()
			w.log.Infof("order at level %s executed, side: %s", key, o.Side)
			w.record(ctx, o.Side, o.Price, o.Quantity, store.TradeClosed, o.ExchangeID)

			next := o.Side.Opposite()
			if err := w.placeLimit(ctx, next, o.Level, o.Quantity); err != nil {
				w.pending[key] = &Order{Level: o.Level, Side: next, Price: o.Level, Quantity: o.Quantity}
				return err
			}
		case exchange.StatusCancelled, exchange.StatusRejected:
			// Gone without a fill; the ladder fill re-seeds the level.
			o.Status = OrderCancelled
			delete(w.orders, key)
			w.log.Warnf("order at level %s is %s on the exchange, dropping it", key, status)
		}
	}
	return nil
}

func (w *Worker) record(ctx context.Context, side exchange.Side, price, qty decimal.Decimal, status store.TradeStatus, orderID string) {
	if w.recorder == nil {
		return
	}
	t := store.Trade{
		AccountID: w.account.ID,
		Symbol:    w.account.Symbol,
		Side:      strings.ToLower(string(side)),
		Price:     price.InexactFloat64(),
		Quantity:  qty.InexactFloat64(),
		Status:    status,
		OrderID:   orderID,
		CreatedAt: time.Now(),
	}
	if err := w.recorder.Record(ctx, t); err != nil {
		w.log.WithError(err).Error("record trade failed")
	}
}
