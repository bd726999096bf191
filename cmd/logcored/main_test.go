package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logcore/internal/config"
	"logcore/internal/runtime"
	"logcore/pkg/pipeline"
)

func newTestRuntimeForMain(t *testing.T) *runtime.Runtime {
	t.Helper()
	rt, err := runtime.New(runtime.Config{
		PersistPath: filepath.Join(t.TempDir(), "state.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Persist.Close() })
	return rt
}

func TestWirePipelineSingleDestinationSkipsMultiplexer(t *testing.T) {
	rt := newTestRuntimeForMain(t)
	cfg := &config.Config{
		Sources: []config.SourceConfig{
			{Name: "in", WindowSize: 10, Destinations: []string{"out"}},
		},
		Destinations: []config.DestinationConfig{
			{Name: "out", QueueCapacity: 4},
		},
	}
	applyTestDefaults(cfg)

	configFor, err := wirePipeline(cfg, rt, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, rt.Pipeline.Len())
	for id := pipeline.ID(0); id < pipeline.ID(rt.Pipeline.Len()); id++ {
		assert.NotNil(t, configFor(id), "pipe %d has no config", id)
	}
}

func TestWirePipelineFanOutUsesMultiplexerForMultipleDestinations(t *testing.T) {
	rt := newTestRuntimeForMain(t)
	cfg := &config.Config{
		Sources: []config.SourceConfig{
			{Name: "in", WindowSize: 10, Destinations: []string{"a", "b"}},
		},
		Destinations: []config.DestinationConfig{
			{Name: "a", QueueCapacity: 4},
			{Name: "b", QueueCapacity: 4},
		},
	}
	applyTestDefaults(cfg)

	_, err := wirePipeline(cfg, rt, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rt.Pipeline.Len(), "expected 2 destinations + 1 source")
}

func TestWirePipelineRejectsUnknownDestination(t *testing.T) {
	rt := newTestRuntimeForMain(t)
	cfg := &config.Config{
		Sources: []config.SourceConfig{
			{Name: "in", Destinations: []string{"missing"}},
		},
		Destinations: []config.DestinationConfig{
			{Name: "out", QueueCapacity: 4},
		},
	}
	applyTestDefaults(cfg)

	_, err := wirePipeline(cfg, rt, nil)
	assert.Error(t, err)
}

// applyTestDefaults fills in the backoff/breaker fields config.Load's
// defaulting pass would normally apply, since these tests build a Config
// literal directly rather than going through Load.
func applyTestDefaults(cfg *config.Config) {
	for i := range cfg.Destinations {
		d := &cfg.Destinations[i]
		if d.Backoff.Multiplier == 0 {
			d.Backoff.Multiplier = 2
		}
		if d.Backoff.Initial == 0 {
			d.Backoff.Initial = 1
		}
		if d.Backoff.Maximum == 0 {
			d.Backoff.Maximum = 2
		}
	}
}
