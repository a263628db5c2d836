package supervisor

import (
	"context"
	"encoding/json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xyths/gridfleet/store"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRegistry struct {
	mu       sync.Mutex
	accounts []store.Account
	err      error
}

func (r *fakeRegistry) Accounts(context.Context) ([]store.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]store.Account, len(r.accounts))
	copy(out, r.accounts)
	return out, nil
}

func (r *fakeRegistry) set(accounts ...store.Account) {
	r.mu.Lock()
	r.accounts = accounts
	r.err = nil
	r.mu.Unlock()
}

func (r *fakeRegistry) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

type fakeWorker struct {
	started  chan struct{}
	stopped  chan struct{}
	exitSelf bool
	panics   bool
	hang     chan struct{} // when set, Run ignores ctx until it is closed
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{started: make(chan struct{}), stopped: make(chan struct{})}
}

func (w *fakeWorker) Run(ctx context.Context) {
	close(w.started)
	defer close(w.stopped)
	if w.panics {
		panic("boom")
	}
	if w.exitSelf {
		return
	}
	if w.hang != nil {
		<-w.hang
		return
	}
	<-ctx.Done()
}

type fakeCanceller struct {
	f *fakeFactory
}

func (c fakeCanceller) CancelAllOrders(_ context.Context, symbol string) (int, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.cancelCalls = append(c.f.cancelCalls, symbol)
	return c.f.cancelN, c.f.cancelErr
}

type fakeFactory struct {
	mu          sync.Mutex
	workers     map[int64][]*fakeWorker
	spawnErr    map[int64]error
	exitSelf    map[int64]bool
	panics      map[int64]bool
	hang        chan struct{}
	cancelCalls []string
	cancelN     int
	cancelErr   error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		workers:  make(map[int64][]*fakeWorker),
		spawnErr: make(map[int64]error),
		exitSelf: make(map[int64]bool),
		panics:   make(map[int64]bool),
	}
}

func (f *fakeFactory) NewWorker(acc store.Account) (Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.spawnErr[acc.ID]; err != nil {
		return nil, err
	}
	w := newFakeWorker()
	w.exitSelf = f.exitSelf[acc.ID]
	w.panics = f.panics[acc.ID]
	w.hang = f.hang
	f.workers[acc.ID] = append(f.workers[acc.ID], w)
	return w, nil
}

func (f *fakeFactory) NewCanceller(store.Account) (OrderCanceller, error) {
	return fakeCanceller{f: f}, nil
}

func (f *fakeFactory) spawned(id int64) []*fakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeWorker(nil), f.workers[id]...)
}

func (f *fakeFactory) cancels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelCalls...)
}

func account(id int64, status store.AccountStatus) store.Account {
	return store.Account{ID: id, Name: "acc", Symbol: "BTCUSDT", Status: status}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
}

func newTestSupervisor(reg *fakeRegistry, f *fakeFactory) *Supervisor {
	return New(reg, f, Config{Interval: 20 * time.Millisecond, Grace: time.Second})
}

func TestReconcileStartsOnlyRunningAccounts(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(
		account(1, store.StatusRunning),
		account(2, store.StatusStopped),
		account(3, store.StatusDeleted),
		account(4, store.StatusError),
		account(5, store.StatusRunning),
	)
	f := newFakeFactory()
	s := newTestSupervisor(reg, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Reconcile(ctx))
	require.NoError(t, s.Reconcile(ctx))

	assert.Equal(t, []int64{1, 5}, s.Running())
	assert.Len(t, f.spawned(1), 1, "second pass must not spawn a duplicate")
	assert.Len(t, f.spawned(5), 1)
	assert.Empty(t, f.spawned(2))
	assert.Empty(t, f.spawned(3))
	assert.Empty(t, f.spawned(4))
	assert.Empty(t, f.cancels(), "stopped account without a worker needs no cleanup")
}

func TestReconcileStopCancelsOrders(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(account(1, store.StatusRunning))
	f := newFakeFactory()
	f.cancelN = 3
	s := newTestSupervisor(reg, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Reconcile(ctx))
	w := f.spawned(1)[0]
	waitClosed(t, w.started, "worker start")

	reg.set(account(1, store.StatusStopped))
	require.NoError(t, s.Reconcile(ctx))

	waitClosed(t, w.stopped, "worker stop")
	assert.Empty(t, s.Running())
	assert.Equal(t, []string{"BTCUSDT"}, f.cancels())

	// already stopped: no second cleanup
	require.NoError(t, s.Reconcile(ctx))
	assert.Len(t, f.cancels(), 1)
}

func TestReconcileStopCancelFailureStillRemovesHandle(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(account(1, store.StatusRunning))
	f := newFakeFactory()
	f.cancelErr = errors.New("exchange down")
	s := newTestSupervisor(reg, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Reconcile(ctx))
	reg.set(account(1, store.StatusStopped))
	require.NoError(t, s.Reconcile(ctx))

	assert.Empty(t, s.Running())
	assert.Len(t, f.cancels(), 1)
}

func TestReconcileStopHungWorkerWaitsAtMostGrace(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(account(1, store.StatusRunning), account(2, store.StatusRunning))
	f := newFakeFactory()
	f.hang = make(chan struct{})
	defer close(f.hang)
	grace := 50 * time.Millisecond
	s := New(reg, f, Config{Interval: time.Second, Grace: grace})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Reconcile(ctx))
	reg.set(account(1, store.StatusStopped), account(2, store.StatusRunning))

	start := time.Now()
	require.NoError(t, s.Reconcile(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, grace)
	assert.Less(t, elapsed, grace+time.Second)
	assert.Equal(t, []string{"BTCUSDT"}, f.cancels())
	assert.Equal(t, []int64{2}, s.Running())
}

func TestReconcileDeleteAbandonsOrders(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(account(1, store.StatusRunning))
	f := newFakeFactory()
	s := newTestSupervisor(reg, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Reconcile(ctx))
	w := f.spawned(1)[0]

	reg.set(account(1, store.StatusDeleted))
	require.NoError(t, s.Reconcile(ctx))

	waitClosed(t, w.stopped, "worker stop")
	assert.Empty(t, s.Running())
	assert.Empty(t, f.cancels())
}

func TestReconcileSweepsMissingAccounts(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(account(1, store.StatusRunning), account(2, store.StatusRunning))
	f := newFakeFactory()
	s := newTestSupervisor(reg, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Reconcile(ctx))
	gone := f.spawned(2)[0]

	reg.set(account(1, store.StatusRunning))
	require.NoError(t, s.Reconcile(ctx))

	waitClosed(t, gone.stopped, "swept worker stop")
	assert.Equal(t, []int64{1}, s.Running())
	assert.Empty(t, f.cancels())
}

func TestReconcileErrorStatusStopsWorker(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(account(1, store.StatusRunning))
	f := newFakeFactory()
	s := newTestSupervisor(reg, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Reconcile(ctx))
	w := f.spawned(1)[0]

	reg.set(account(1, store.StatusError))
	require.NoError(t, s.Reconcile(ctx))

	waitClosed(t, w.stopped, "worker stop")
	assert.Empty(t, s.Running())
}

func TestReconcileRegistryFailureKeepsHandles(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(account(1, store.StatusRunning))
	f := newFakeFactory()
	s := newTestSupervisor(reg, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Reconcile(ctx))
	reg.fail(errors.New("db gone"))

	err := s.Reconcile(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
	assert.Equal(t, []int64{1}, s.Running())
	assert.Len(t, f.spawned(1), 1)
}

func TestReconcileSpawnFailureIsIsolated(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(account(1, store.StatusRunning), account(2, store.StatusRunning))
	f := newFakeFactory()
	f.spawnErr[1] = errors.New("bad credentials")
	s := newTestSupervisor(reg, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Reconcile(ctx))
	assert.Equal(t, []int64{2}, s.Running())

	f.mu.Lock()
	delete(f.spawnErr, 1)
	f.mu.Unlock()

	require.NoError(t, s.Reconcile(ctx))
	assert.Equal(t, []int64{1, 2}, s.Running())
	assert.Len(t, f.spawned(2), 1)
}

func TestReconcileRestartsExitedWorker(t *testing.T) {
	for name, setup := range map[string]func(f *fakeFactory){
		"returned": func(f *fakeFactory) { f.exitSelf[1] = true },
		"panicked": func(f *fakeFactory) { f.panics[1] = true },
	} {
		t.Run(name, func(t *testing.T) {
			reg := &fakeRegistry{}
			reg.set(account(1, store.StatusRunning))
			f := newFakeFactory()
			setup(f)
			s := newTestSupervisor(reg, f)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			require.NoError(t, s.Reconcile(ctx))
			first := f.spawned(1)[0]
			waitClosed(t, first.stopped, "worker exit")
			require.Eventually(t, func() bool { return len(s.Running()) == 0 },
				time.Second, 5*time.Millisecond)

			f.mu.Lock()
			f.exitSelf[1] = false
			f.panics[1] = false
			f.mu.Unlock()

			require.NoError(t, s.Reconcile(ctx))
			assert.Len(t, f.spawned(1), 2)
			assert.Equal(t, []int64{1}, s.Running())
		})
	}
}

func TestReconcileStopThenStartSpawnsFreshWorker(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(account(1, store.StatusRunning))
	f := newFakeFactory()
	s := newTestSupervisor(reg, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Reconcile(ctx))
	reg.set(account(1, store.StatusStopped))
	require.NoError(t, s.Reconcile(ctx))
	reg.set(account(1, store.StatusRunning))
	require.NoError(t, s.Reconcile(ctx))

	workers := f.spawned(1)
	require.Len(t, workers, 2)
	waitClosed(t, workers[0].stopped, "old worker stop")
	assert.Equal(t, []int64{1}, s.Running())
}

func TestRunStopsWorkersOnCancel(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(account(1, store.StatusRunning), account(2, store.StatusRunning))
	f := newFakeFactory()
	s := newTestSupervisor(reg, f)
	ctx, cancel := context.WithCancel(context.Background())

	var returned atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, s.Run(ctx))
		returned.Store(true)
	}()

	require.Eventually(t, func() bool { return len(s.Running()) == 2 },
		time.Second, 5*time.Millisecond)
	cancel()
	waitClosed(t, done, "supervisor return")

	assert.True(t, returned.Load())
	for _, id := range []int64{1, 2} {
		waitClosed(t, f.spawned(id)[0].stopped, "worker stop")
	}
	assert.Empty(t, f.cancels(), "shutdown leaves orders resting")
}

func TestHandler(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(account(7, store.StatusRunning))
	f := newFakeFactory()
	s := newTestSupervisor(reg, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Reconcile(ctx))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/workers")
	require.NoError(t, err)
	var body struct {
		Running []int64 `json:"running"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, []int64{7}, body.Running)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/workers", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
