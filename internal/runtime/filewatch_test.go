package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logcore/pkg/logmsg"
	"logcore/pkg/pipeline"
)

type recordingPipe struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (p *recordingPipe) Init(interface{}) error { return nil }
func (p *recordingPipe) Deinit() error          { return nil }
func (p *recordingPipe) Queue(msg *logmsg.LogMessage, opts logmsg.PathOptions) error {
	return nil
}
func (p *recordingPipe) Notify(event pipeline.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}
func (p *recordingPipe) Clone() pipeline.Pipe { return &recordingPipe{} }

func (p *recordingPipe) seen() []pipeline.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pipeline.Event, len(p.events))
	copy(out, p.events)
	return out
}

func TestWatchPersistDirBroadcastsReopenOnWrite(t *testing.T) {
	r := newTestRuntime(t)
	pipe := &recordingPipe{}
	r.Pipeline.Add(pipe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.WatchPersistDir(ctx)

	time.Sleep(20 * time.Millisecond) // let the watcher subscribe
	require.NoError(t, os.WriteFile(r.persistPath, []byte("x"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range pipe.seen() {
			if ev == pipeline.EventReopenFiles {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Fail(t, "never observed EventReopenFiles", "saw: %v", pipe.seen())
}

func TestWatchPersistDirBroadcastsFileDeletedOnRemove(t *testing.T) {
	r := newTestRuntime(t)
	require.NoError(t, os.WriteFile(r.persistPath, []byte("x"), 0o644))
	pipe := &recordingPipe{}
	r.Pipeline.Add(pipe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.WatchPersistDir(ctx)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.Remove(r.persistPath))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range pipe.seen() {
			if ev == pipeline.EventFileDeleted {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Fail(t, "never observed EventFileDeleted", "saw: %v", pipe.seen())
}

func TestWatchPersistDirStopsOnContextCancel(t *testing.T) {
	r := newTestRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.WatchPersistDir(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("WatchPersistDir did not return after context cancellation")
	}
}

func TestWatchPersistDirSetupFailsOnMissingDirectory(t *testing.T) {
	r := newTestRuntime(t)
	r.persistPath = filepath.Join(r.persistPath+"-missing-dir", "state.db")

	err := r.WatchPersistDir(context.Background())
	assert.Error(t, err)
}
