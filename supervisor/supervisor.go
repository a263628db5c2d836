package supervisor

import (
	"context"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xyths/gridfleet/store"
	"sort"
	"sync"
	"time"
)

// Worker is a long-running per-account loop that stops when ctx is cancelled.
type Worker interface {
	Run(ctx context.Context)
}

// OrderCanceller removes every open order of a symbol on the exchange.
type OrderCanceller interface {
	CancelAllOrders(ctx context.Context, symbol string) (int, error)
}

// Factory builds the per-account collaborators the supervisor needs.
type Factory interface {
	NewWorker(account store.Account) (Worker, error)
	NewCanceller(account store.Account) (OrderCanceller, error)
}

type Config struct {
	Interval time.Duration // between reconciliation passes
	Grace    time.Duration // how long to wait for a cancelled worker to return
}

func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second, Grace: 15 * time.Second}
}

// Supervisor keeps exactly one worker per account whose desired status is
// running, and none for any other account.
type Supervisor struct {
	registry store.Registry
	factory  Factory
	cfg      Config
	log      *logrus.Entry

	// handles is written only by the reconcile loop; mu lets other
	// goroutines read it.
	mu      sync.RWMutex
	handles map[int64]*handle
}

func New(registry store.Registry, factory Factory, cfg Config) *Supervisor {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = d.Grace
	}
	return &Supervisor{
		registry: registry,
		factory:  factory,
		cfg:      cfg,
		log:      logrus.WithField("component", "supervisor"),
		handles:  make(map[int64]*handle),
	}
}

// Run reconciles on every tick until ctx is cancelled, then stops all workers.
// Open orders are left on the exchange at shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Infof("supervisor started, interval %s", s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("reconcile failed, retry on next tick")
		}
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

// Reconcile runs one pass. Workers it starts are bound to ctx. Only a registry
// failure is returned; per-account failures are logged and do not affect other
// accounts.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	accounts, err := s.registry.Accounts(ctx)
	if err != nil {
		mtxReconcileErrors.WithLabelValues("registry").Inc()
		return errors.Wrap(err, "fetch accounts")
	}
	s.log.Debugf("found %d accounts", len(accounts))

	running := make(map[int64]bool, len(accounts))
	for _, acc := range accounts {
		switch acc.Status {
		case store.StatusRunning:
			running[acc.ID] = true
			s.ensureRunning(ctx, acc)
		case store.StatusStopped:
			if h := s.stop(acc.ID, "stop"); h != nil {
				// Let an in-flight placement finish before cleaning up after it.
				// The wait is inline, so a hung worker delays the rest of this
				// pass by up to Grace.
				if !h.wait(s.cfg.Grace) {
					s.accountLog(acc).Warn("worker did not stop in time")
				}
				s.cancelOrders(ctx, acc)
			}
		case store.StatusDeleted:
			// open orders are abandoned, not cancelled
			s.stop(acc.ID, "delete")
		}
	}

	// The registry is authoritative: anything not running must not run.
	for id := range s.handles {
		if !running[id] {
			s.stop(id, "sweep")
		}
	}
	mtxWorkers.Set(float64(len(s.handles)))
	return nil
}

func (s *Supervisor) ensureRunning(ctx context.Context, acc store.Account) {
	if h, ok := s.handles[acc.ID]; ok {
		if h.running.Load() {
			return
		}
		s.accountLog(acc).Warn("worker exited on its own, restarting")
		s.stop(acc.ID, "restart")
	}
	if err := s.start(ctx, acc); err != nil {
		mtxReconcileErrors.WithLabelValues("spawn").Inc()
		s.accountLog(acc).WithError(err).Error("start bot failed")
	}
}

func (s *Supervisor) start(ctx context.Context, acc store.Account) error {
	w, err := s.factory.NewWorker(acc)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithCancel(ctx)
	h := &handle{accountID: acc.ID, cancel: cancel, done: make(chan struct{})}
	h.running.Store(true)

	s.mu.Lock()
	s.handles[acc.ID] = h
	s.mu.Unlock()

	log := s.accountLog(acc)
	go func() {
		defer close(h.done)
		defer h.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("worker panic: %v", r)
			}
		}()
		w.Run(wctx)
	}()
	mtxTransitions.WithLabelValues("start").Inc()
	log.Info("start bot")
	return nil
}

// stop cancels and removes the handle of id in one step. It returns the
// removed handle, or nil if there was none.
func (s *Supervisor) stop(id int64, action string) *handle {
	h, ok := s.handles[id]
	if !ok {
		return nil
	}
	h.cancel()
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()

	mtxTransitions.WithLabelValues(action).Inc()
	s.log.WithField("account", id).Infof("%s bot", action)
	return h
}

// cancelOrders is best effort: stale orders are an accepted risk.
func (s *Supervisor) cancelOrders(ctx context.Context, acc store.Account) {
	log := s.accountLog(acc)
	c, err := s.factory.NewCanceller(acc)
	if err != nil {
		mtxReconcileErrors.WithLabelValues("cancel_orders").Inc()
		log.WithError(err).Error("failed to cancel all orders")
		return
	}
	n, err := c.CancelAllOrders(ctx, acc.Symbol)
	if err != nil {
		mtxReconcileErrors.WithLabelValues("cancel_orders").Inc()
		log.WithError(err).Errorf("failed to cancel all orders, %d cancelled", n)
		return
	}
	if n == 0 {
		log.Info("no active orders to cancel")
		return
	}
	log.Infof("cancelled %d orders", n)
}

func (s *Supervisor) shutdown() {
	s.log.Infof("stopping %d workers", len(s.handles))
	pending := make([]*handle, 0, len(s.handles))
	for id, h := range s.handles {
		pending = append(pending, h)
		s.stop(id, "stop")
	}
	deadline := time.Now().Add(s.cfg.Grace)
	for _, h := range pending {
		if !h.wait(time.Until(deadline)) {
			s.log.WithField("account", h.accountID).Warn("worker did not stop in time")
		}
	}
	mtxWorkers.Set(0)
	s.log.Info("supervisor stopped")
}

// Running returns the ids of accounts with a live worker, ascending.
func (s *Supervisor) Running() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.handles))
	for id, h := range s.handles {
		if h.running.Load() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Supervisor) accountLog(acc store.Account) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{
		"account": acc.ID,
		"name":    acc.Name,
		"symbol":  acc.Symbol,
	})
}
