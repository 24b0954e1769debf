package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/governor"
	"github.com/JakeFAU/ai-digest/internal/post"
	"github.com/JakeFAU/ai-digest/internal/runlog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fetchFunc func(ctx context.Context, account post.AccountTarget) adapter.Result

type fakeAdapter struct {
	id    string
	fetch fetchFunc
	calls atomic.Int32
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) Fetch(ctx context.Context, account post.AccountTarget, _ int) adapter.Result {
	f.calls.Add(1)
	return f.fetch(ctx, account)
}

type unavailableAdapter struct{ fakeAdapter }

func (*unavailableAdapter) Available() bool { return false }

type recordingEmitter struct {
	mu     sync.Mutex
	events []runlog.Event
}

func (r *recordingEmitter) Emit(evt runlog.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []runlog.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runlog.Event(nil), r.events...)
}

func posts(account string, ids ...string) []post.Post {
	out := make([]post.Post, 0, len(ids))
	for _, id := range ids {
		out = append(out, post.Post{ID: id, Account: account, Text: "post " + id, Timestamp: time.Now().UTC()})
	}
	return out
}

func accounts(handles ...string) []post.AccountTarget {
	out := make([]post.AccountTarget, 0, len(handles))
	for _, h := range handles {
		out = append(out, post.AccountTarget{Handle: h})
	}
	return out
}

func fastGovernor(t *testing.T) *governor.Governor {
	t.Helper()
	g, err := governor.New(governor.Config{Baseline: time.Millisecond, Ceiling: 5 * time.Millisecond})
	require.NoError(t, err)
	return g
}

func newOrchestrator(t *testing.T, cfg Config, chain []adapter.Adapter, events runlog.Emitter) *Orchestrator {
	t.Helper()
	o, err := New(cfg, chain, fastGovernor(t), Options{RunID: uuid.New(), Events: events})
	require.NoError(t, err)
	return o
}

// scenarioChain: the first adapter only serves A; the second serves B and
// answers empty for C; the third always fails.
func scenarioChain() (*fakeAdapter, *fakeAdapter, *fakeAdapter) {
	first := &fakeAdapter{id: "proxy", fetch: func(_ context.Context, a post.AccountTarget) adapter.Result {
		if a.Handle == "A" {
			return adapter.Success("proxy", posts("A", "a1", "a2"))
		}
		return adapter.Failed("proxy", errors.New("connection reset"))
	}}
	second := &fakeAdapter{id: "browser", fetch: func(_ context.Context, a post.AccountTarget) adapter.Result {
		if a.Handle == "B" {
			return adapter.Success("browser", posts("B", "b1"))
		}
		return adapter.Success("browser", nil)
	}}
	third := &fakeAdapter{id: "mirror", fetch: func(context.Context, post.AccountTarget) adapter.Result {
		return adapter.Failed("mirror", adapter.NewError(adapter.ReasonParse, errors.New("markup changed")))
	}}
	return first, second, third
}

func TestRunFirstSuccessWins(t *testing.T) {
	t.Parallel()

	first, second, third := scenarioChain()
	events := &recordingEmitter{}
	o := newOrchestrator(t, Config{}, []adapter.Adapter{first, second, third}, events)

	report := o.Run(context.Background(), accounts("A", "B", "C"))
	require.Len(t, report.Accounts, 3)
	assert.False(t, report.BudgetExhausted)

	a, b, c := report.Accounts[0], report.Accounts[1], report.Accounts[2]
	assert.Equal(t, "proxy", a.Winner)
	assert.Len(t, a.Posts, 2)
	assert.Len(t, a.Attempts, 1)
	assert.True(t, a.Completed)

	assert.Equal(t, "browser", b.Winner)
	assert.Len(t, b.Posts, 1)
	assert.Equal(t, adapter.ReasonTransport, b.Attempts[0].Reason)

	assert.Empty(t, c.Posts)
	assert.Empty(t, c.Winner)
	assert.True(t, c.Completed)
	require.Len(t, c.Attempts, 3)
	assert.Equal(t, adapter.ReasonEmpty, c.Attempts[1].Reason)
	assert.Equal(t, adapter.ReasonParse, c.Attempts[2].Reason)

	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 3, report.PostCount())
	assert.Equal(t, 6, report.Attempts())
	assert.Equal(t, int32(1), third.calls.Load())
	assert.Len(t, events.Events(), 6)
	for _, evt := range events.Events() {
		require.NoError(t, evt.Validate())
		assert.Equal(t, runlog.StageAttempt, evt.Stage)
	}
}

func TestRunAcceptEmptyStopsChain(t *testing.T) {
	t.Parallel()

	first, second, third := scenarioChain()
	o := newOrchestrator(t, Config{AcceptEmpty: true}, []adapter.Adapter{first, second, third}, nil)

	report := o.Run(context.Background(), accounts("C"))
	c := report.Accounts[0]
	assert.Equal(t, "browser", c.Winner)
	assert.Empty(t, c.Posts)
	assert.Len(t, c.Attempts, 2)
	assert.Zero(t, third.calls.Load())
}

func TestRunCompareModeCallsEveryAdapter(t *testing.T) {
	t.Parallel()

	mk := func(id string, ids ...string) *fakeAdapter {
		return &fakeAdapter{id: id, fetch: func(_ context.Context, a post.AccountTarget) adapter.Result {
			return adapter.Success(id, posts(a.Handle, ids...))
		}}
	}
	first, second := mk("proxy", "1", "2"), mk("mirror", "2", "3")
	o := newOrchestrator(t, Config{CompareMode: true}, []adapter.Adapter{first, second}, nil)

	report := o.Run(context.Background(), accounts("A"))
	a := report.Accounts[0]
	assert.Equal(t, "proxy", a.Winner)
	assert.Len(t, a.Posts, 4)
	require.Len(t, a.BySource, 2)
	assert.Len(t, a.BySource["mirror"], 2)
	assert.Equal(t, "mirror", a.BySource["mirror"][0].Source)
}

func TestRunAllAdaptersFailDoesNotAffectOthers(t *testing.T) {
	t.Parallel()

	flaky := &fakeAdapter{id: "proxy", fetch: func(_ context.Context, a post.AccountTarget) adapter.Result {
		if a.Handle == "broken" {
			panic("unexpected payload")
		}
		return adapter.Success("proxy", posts(a.Handle, a.Handle+"-1"))
	}}
	o := newOrchestrator(t, Config{}, []adapter.Adapter{flaky}, nil)

	report := o.Run(context.Background(), accounts("ok1", "broken", "ok2"))
	assert.Len(t, report.Accounts[0].Posts, 1)
	assert.Empty(t, report.Accounts[1].Posts)
	assert.Equal(t, adapter.ReasonParse, report.Accounts[1].Attempts[0].Reason)
	assert.Len(t, report.Accounts[2].Posts, 1)
}

func TestRunSkipsUnavailableAdapterWithoutPacing(t *testing.T) {
	t.Parallel()

	gov, err := governor.New(governor.Config{Baseline: time.Hour, Ceiling: time.Hour})
	require.NoError(t, err)
	skipped := &unavailableAdapter{fakeAdapter{id: "proxy"}}
	o, err := New(Config{}, []adapter.Adapter{skipped}, gov, Options{})
	require.NoError(t, err)

	start := time.Now()
	report := o.Run(context.Background(), accounts("A"))
	require.Less(t, time.Since(start), time.Second)
	require.Len(t, report.Accounts[0].Attempts, 1)
	assert.Equal(t, adapter.OutcomeSkipped, report.Accounts[0].Attempts[0].Outcome)
	assert.Equal(t, adapter.ReasonUnavailable, report.Accounts[0].Attempts[0].Reason)
	assert.Zero(t, skipped.calls.Load())
	assert.Equal(t, time.Hour, gov.DelayFor("proxy"))
	assert.False(t, gov.Snapshot("proxy").LastInvocation.IsZero())
}

func TestRunFeedsGovernor(t *testing.T) {
	t.Parallel()

	gov := fastGovernor(t)
	failing := &fakeAdapter{id: "browser", fetch: func(context.Context, post.AccountTarget) adapter.Result {
		return adapter.Failed("browser", context.DeadlineExceeded)
	}}
	o, err := New(Config{Concurrency: 1}, []adapter.Adapter{failing}, gov, Options{})
	require.NoError(t, err)

	report := o.Run(context.Background(), accounts("A", "B"))
	assert.Equal(t, adapter.ReasonTimeout, report.Accounts[0].Attempts[0].Reason)
	assert.Equal(t, 2, gov.Snapshot("browser").ConsecutiveFailures)
	assert.Equal(t, 4*time.Millisecond, gov.DelayFor("browser"))
}

func TestRunAppliesCallTimeout(t *testing.T) {
	t.Parallel()

	slow := &fakeAdapter{id: "browser", fetch: func(ctx context.Context, _ post.AccountTarget) adapter.Result {
		<-ctx.Done()
		return adapter.Failed("browser", ctx.Err())
	}}
	o := newOrchestrator(t, Config{CallTimeout: 20 * time.Millisecond}, []adapter.Adapter{slow}, nil)

	report := o.Run(context.Background(), accounts("A"))
	assert.Equal(t, adapter.ReasonTimeout, report.Accounts[0].Attempts[0].Reason)
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	tracking := &fakeAdapter{id: "proxy", fetch: func(_ context.Context, a post.AccountTarget) adapter.Result {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return adapter.Success("proxy", posts(a.Handle, a.Handle))
	}}
	o := newOrchestrator(t, Config{Concurrency: 2}, []adapter.Adapter{tracking}, nil)

	report := o.Run(context.Background(), accounts("a", "b", "c", "d", "e", "f"))
	assert.Equal(t, 6, report.Succeeded())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// Two of five accounts are slower than the budget. The run still completes
// with the three fast accounts and is flagged, not failed.
func TestRunBudgetKeepsFinishedAccounts(t *testing.T) {
	t.Parallel()

	latency := map[string]time.Duration{
		"fast1": 5 * time.Millisecond,
		"fast2": 5 * time.Millisecond,
		"fast3": 5 * time.Millisecond,
		"slow1": 400 * time.Millisecond,
		"slow2": 400 * time.Millisecond,
	}
	timed := &fakeAdapter{id: "proxy", fetch: func(ctx context.Context, a post.AccountTarget) adapter.Result {
		select {
		case <-time.After(latency[a.Handle]):
			return adapter.Success("proxy", posts(a.Handle, a.Handle+"-1"))
		case <-ctx.Done():
			return adapter.Failed("proxy", ctx.Err())
		}
	}}
	fallback := &fakeAdapter{id: "mirror", fetch: func(_ context.Context, a post.AccountTarget) adapter.Result {
		return adapter.Success("mirror", posts(a.Handle, a.Handle+"-m"))
	}}
	o := newOrchestrator(t, Config{Concurrency: 5, Budget: 150 * time.Millisecond, CallTimeout: time.Second},
		[]adapter.Adapter{timed, fallback}, nil)

	report := o.Run(context.Background(), accounts("fast1", "slow1", "fast2", "slow2", "fast3"))
	assert.True(t, report.BudgetExhausted)
	assert.Equal(t, 3, report.Succeeded())
	for _, acct := range report.Accounts {
		if acct.Account.Handle[:4] == "fast" {
			assert.True(t, acct.Completed, acct.Account.Handle)
			assert.Len(t, acct.Posts, 1)
			continue
		}
		assert.False(t, acct.Completed, acct.Account.Handle)
		assert.Empty(t, acct.Posts)
		require.Len(t, acct.Attempts, 1)
		assert.True(t, acct.Attempts[0].Late)
	}
	assert.Zero(t, fallback.calls.Load())
}

func TestRunBudgetStopsNewAccounts(t *testing.T) {
	t.Parallel()

	slow := &fakeAdapter{id: "proxy", fetch: func(_ context.Context, a post.AccountTarget) adapter.Result {
		time.Sleep(80 * time.Millisecond)
		return adapter.Success("proxy", posts(a.Handle, a.Handle))
	}}
	o := newOrchestrator(t, Config{Concurrency: 1, Budget: 100 * time.Millisecond}, []adapter.Adapter{slow}, nil)

	report := o.Run(context.Background(), accounts("a", "b", "c", "d"))
	assert.True(t, report.BudgetExhausted)
	assert.Equal(t, 1, report.Succeeded())
	assert.Less(t, slow.calls.Load(), int32(4))
	require.Len(t, report.Accounts, 4)
	assert.Empty(t, report.Accounts[3].Attempts)
}

func TestRunCanceledContext(t *testing.T) {
	t.Parallel()

	first, second, third := scenarioChain()
	o := newOrchestrator(t, Config{}, []adapter.Adapter{first, second, third}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := o.Run(ctx, accounts("A", "B"))
	assert.Zero(t, report.Attempts())
	assert.Zero(t, first.calls.Load())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	gov := fastGovernor(t)
	chain := []adapter.Adapter{&fakeAdapter{id: "proxy"}}

	_, err := New(Config{}, nil, gov, Options{})
	require.Error(t, err)
	_, err = New(Config{}, chain, nil, Options{})
	require.Error(t, err)
	_, err = New(Config{Concurrency: MaxConcurrency + 1}, chain, gov, Options{})
	require.Error(t, err)
	_, err = New(Config{Budget: -time.Second}, chain, gov, Options{})
	require.Error(t, err)

	o, err := New(Config{}, chain, gov, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency, o.cfg.Concurrency)
	assert.Equal(t, DefaultFetchLimit, o.cfg.FetchLimit)
}
