package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jurisdata/lawnet-ingest/internal/config"
	"github.com/jurisdata/lawnet-ingest/internal/ingest"
)

type fakeStore struct {
	existing map[string]ingest.CaseRecord
}

func (f *fakeStore) Exists(_ context.Context, reference string) (bool, error) {
	_, ok := f.existing[reference]
	return ok, nil
}

func (f *fakeStore) Get(_ context.Context, reference string) (ingest.CaseRecord, error) {
	rec, ok := f.existing[reference]
	if !ok {
		return ingest.CaseRecord{}, ingest.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) Upsert(_ context.Context, rec ingest.CaseRecord, _ bool) (ingest.UpsertStatus, error) {
	f.existing[rec.Reference] = rec
	return ingest.UpsertCreated, nil
}

func (f *fakeStore) Recent(context.Context, int) ([]ingest.CaseRecord, error) { return nil, nil }

func (f *fakeStore) Stats(context.Context) (ingest.CaseStats, error) {
	return ingest.CaseStats{}, nil
}

func (f *fakeStore) Close() error { return nil }

func testConfig() config.Config {
	return config.Config{
		Portal: config.PortalConfig{
			BaseURL:        "https://www.lawnet.sg",
			UserAgent:      "lawnet-ingest-test",
			RequestTimeout: 5 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		Retry: config.RetryConfig{
			MaxAttempts: 1,
			BaseDelay:   time.Millisecond,
			MaxDelay:    10 * time.Millisecond,
		},
		Store: config.StoreConfig{Driver: "sqlite", SQLitePath: "unused"},
		API:   config.APIConfig{ListenAddr: ":0"},
	}
}

// swapAppFactory points newApp at a fixture App for the duration of a test.
func swapAppFactory(t *testing.T, app *App) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context) (*App, error) { return app, nil }
	t.Cleanup(func() { newApp = orig })
}

func TestResolveAppRequiresInjection(t *testing.T) {
	_, err := resolveApp(context.Background())
	assert.Error(t, err)
}

func TestRootCmdRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0, 2)
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "ingest")
	assert.Contains(t, names, "serve")
}

func TestIngestCommandSkipsStoredCase(t *testing.T) {
	store := &fakeStore{existing: map[string]ingest.CaseRecord{
		"[2026] SGHC 21": {Reference: "[2026] SGHC 21"},
	}}
	swapAppFactory(t, &App{
		Config: testConfig(),
		Logger: zap.NewNop(),
		Store:  store,
	})

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"ingest", "[2026] SGHC 21"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "skipped")
	assert.Contains(t, out.String(), "[2026] SGHC 21")
}

func TestIngestCommandRequiresReference(t *testing.T) {
	swapAppFactory(t, &App{Config: testConfig(), Logger: zap.NewNop(), Store: &fakeStore{}})

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ingest"})

	assert.Error(t, root.Execute())
}
