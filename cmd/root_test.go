package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/config"
	"github.com/JakeFAU/ai-digest/internal/orchestrator"
	"github.com/JakeFAU/ai-digest/internal/pipeline"
	"github.com/JakeFAU/ai-digest/internal/post"
)

type fakeApp struct {
	runReport  pipeline.Report
	runErr     error
	compare    orchestrator.Report
	compareFor []post.AccountTarget
	servedAddr string
	closed     bool
}

func (f *fakeApp) RunOnce(context.Context, pipeline.Request) (pipeline.Report, error) {
	return f.runReport, f.runErr
}

func (f *fakeApp) Compare(_ context.Context, accounts []post.AccountTarget) (orchestrator.Report, error) {
	f.compareFor = accounts
	return f.compare, nil
}

func (f *fakeApp) Serve(_ context.Context, addr string) error {
	f.servedAddr = addr
	return nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

// withFakeApp swaps the factory and records the config the command built.
func withFakeApp(t *testing.T, app *fakeApp) *config.Config {
	t.Helper()
	var captured config.Config
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config) (App, error) {
		captured = cfg
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &captured
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandBindsFlags(t *testing.T) {
	app := &fakeApp{runReport: pipeline.Report{RunID: "run-1", Status: pipeline.StatusDelivered}}
	cfg := withFakeApp(t, app)

	out, err := execute(t, "run", "--window", "2h", "--accounts", "OpenAI,xai", "--dry-run", "--compare")
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.Window)
	assert.Equal(t, []string{"OpenAI", "xai"}, cfg.Accounts)
	assert.Equal(t, config.NotifierLog, cfg.Delivery.Notifier)
	assert.True(t, cfg.Run.Compare)
	assert.True(t, app.closed)

	var rep pipeline.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "run-1", rep.RunID)
}

func TestRunCommandExitStatus(t *testing.T) {
	t.Run("InvalidRequestFails", func(t *testing.T) {
		withFakeApp(t, &fakeApp{runErr: pipeline.ErrInvalidRequest})
		_, err := execute(t, "run")
		require.ErrorIs(t, err, pipeline.ErrInvalidRequest)
	})

	t.Run("CrashBeforeDeliveryFails", func(t *testing.T) {
		crash := errors.New("pipeline panic: assignment to entry in nil map")
		withFakeApp(t, &fakeApp{
			runReport: pipeline.Report{RunID: "run-2", Status: pipeline.StatusFailed, Error: crash.Error()},
			runErr:    crash,
		})
		out, err := execute(t, "run")
		require.ErrorIs(t, err, crash)
		assert.Contains(t, out, `"run-2"`)
	})

	t.Run("DeliveryFailureSucceeds", func(t *testing.T) {
		withFakeApp(t, &fakeApp{
			runReport: pipeline.Report{RunID: "run-3", Status: pipeline.StatusDeliveryFailed, DeliveryError: "webhook 500"},
		})
		out, err := execute(t, "run")
		require.NoError(t, err)
		assert.Contains(t, out, `"run-3"`)
	})
}

func TestRunCommandConfigErrors(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  concurrency: 9\n"), 0o600))
	_, err = execute(t, "run", "--config", path)
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestCompareCommandRendersTables(t *testing.T) {
	app := &fakeApp{compare: orchestrator.Report{Accounts: []orchestrator.AccountResult{{
		Account: post.AccountTarget{Handle: "OpenAI"},
		Attempts: []orchestrator.Attempt{
			{Account: "OpenAI", Adapter: "mirror", Outcome: adapter.OutcomeSuccess, Items: 2, Duration: 1500 * time.Millisecond},
			{Account: "OpenAI", Adapter: "feed", Outcome: adapter.OutcomeSuccess, Items: 1, Duration: 300 * time.Millisecond},
		},
		BySource: map[string][]post.Post{
			"mirror": {{ID: "1"}, {ID: "2"}},
			"feed":   {{ID: "2"}},
		},
	}}}}
	withFakeApp(t, app)

	out, err := execute(t, "compare", "--accounts", "@OpenAI")
	require.NoError(t, err)
	require.Len(t, app.compareFor, 1)
	assert.Equal(t, "OpenAI", app.compareFor[0].Handle)
	for _, want := range []string{"ADAPTER", "mirror", "feed", "1.5s", "SHARED"} {
		assert.Contains(t, out, want)
	}
}

func TestCompareCommandWithoutOverlap(t *testing.T) {
	withFakeApp(t, &fakeApp{compare: orchestrator.Report{BudgetExhausted: true}})

	out, err := execute(t, "compare")
	require.NoError(t, err)
	assert.Contains(t, out, "no overlap")
	assert.Contains(t, out, "budget exhausted")
}

func TestServeCommandBindsAddr(t *testing.T) {
	app := &fakeApp{}
	cfg := withFakeApp(t, app)

	_, err := execute(t, "serve", "--addr", ":9191")
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.Server.Addr)
	assert.True(t, app.closed)
}
