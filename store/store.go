package store

import (
	"context"
	"github.com/pkg/errors"
	"time"
)

type AccountStatus string

const (
	StatusRunning AccountStatus = "running"
	StatusStopped AccountStatus = "stopped"
	StatusDeleted AccountStatus = "deleted"
	StatusError   AccountStatus = "error"
)

// Account is a read-only snapshot of a registry row.
type Account struct {
	ID         int64         `bson:"_id" json:"id"`
	Name       string        `bson:"name" json:"name"`
	APIKey     string        `bson:"api_key" json:"-"`
	SecretKey  string        `bson:"secret_key" json:"-"`
	Symbol     string        `bson:"symbol" json:"symbol"`
	Deposit    float64       `bson:"deposit" json:"deposit"`
	GridCount  int           `bson:"grid_count" json:"grid_count"`
	StartPrice float64       `bson:"start_price" json:"start_price"`
	EndPrice   float64       `bson:"end_price" json:"end_price"`
	StopLoss   float64       `bson:"stop_loss" json:"stop_loss"`
	Status     AccountStatus `bson:"status" json:"status"`
}

// Validate checks the parameters a grid needs to be computed and traded.
func (a Account) Validate() error {
	switch {
	case a.Symbol == "":
		return errors.New("empty symbol")
	case a.APIKey == "" || a.SecretKey == "":
		return errors.New("missing api credentials")
	case a.GridCount <= 0:
		return errors.Errorf("grid count %d must be positive", a.GridCount)
	case a.StartPrice <= 0:
		return errors.Errorf("start price %v must be positive", a.StartPrice)
	case a.EndPrice <= a.StartPrice:
		return errors.Errorf("end price %v must be above start price %v", a.EndPrice, a.StartPrice)
	case a.Deposit <= 0:
		return errors.Errorf("deposit %v must be positive", a.Deposit)
	}
	return nil
}

type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Trade is an append-only audit record of a placed or filled order.
type Trade struct {
	AccountID int64       `bson:"account_id"`
	Symbol    string      `bson:"symbol"`
	Side      string      `bson:"side"` // buy or sell
	Price     float64     `bson:"price"`
	Quantity  float64     `bson:"quantity"`
	Status    TradeStatus `bson:"status"`
	OrderID   string      `bson:"order_id"`
	CreatedAt time.Time   `bson:"created_at"`
}

// Registry is the external source of accounts and their desired status.
type Registry interface {
	Accounts(ctx context.Context) ([]Account, error)
}

// Recorder persists trades. Callers log failures and keep trading.
type Recorder interface {
	Record(ctx context.Context, t Trade) error
}

// Store is a backend that serves both roles.
type Store interface {
	Registry
	Recorder
	Close(ctx context.Context) error
}

type Config struct {
	Driver   string // mongo or sqlite
	URI      string
	Database string
}

func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "mongo":
		return OpenMongo(ctx, cfg.URI, cfg.Database)
	case "sqlite":
		return OpenSQLite(ctx, cfg.URI)
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
