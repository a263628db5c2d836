package supervisor

import (
	"github.com/xyths/gridfleet/exchange"
	"github.com/xyths/gridfleet/grid"
	"github.com/xyths/gridfleet/store"
)

// ExchangeFactory builds grid workers and order cancellers that talk to the
// exchange with each account's own credentials.
type ExchangeFactory struct {
	Exchange exchange.Options
	Worker   grid.Config
	Recorder store.Recorder
}

func (f ExchangeFactory) client(acc store.Account) *exchange.Client {
	return exchange.New(f.Exchange, acc.APIKey, acc.SecretKey)
}

func (f ExchangeFactory) NewWorker(acc store.Account) (Worker, error) {
	w, err := grid.New(acc, f.client(acc), f.Recorder, f.Worker)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (f ExchangeFactory) NewCanceller(acc store.Account) (OrderCanceller, error) {
	return f.client(acc), nil
}
