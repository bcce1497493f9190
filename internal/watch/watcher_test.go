package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"volatility-prover/infrastructure/logger"
	"volatility-prover/ingest"
)

func writeBlockFile(t *testing.T, dir string, start, end uint64, n int) {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"evt_block_time":"%d","evt_block_num":%d,"tick":%d}`+"\n", int(start)*10+i, start, i%3)
	}
	tmp := filepath.Join(dir, ".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(b.String()), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, fmt.Sprintf("%d-%d.jsonl", start, end))))
}

type windows struct {
	mu  sync.Mutex
	got []ingest.Window
}

func (w *windows) handle(_ context.Context, win ingest.Window) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.got = append(w.got, win)
	return nil
}

func (w *windows) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.got)
}

func TestScanProcessesOnlyNewBlocks(t *testing.T) {
	dir := t.TempDir()
	writeBlockFile(t, dir, 100, 199, 3)
	writeBlockFile(t, dir, 200, 299, 3)

	core, logs := observer.New(zapcore.DebugLevel)
	rec := &windows{}
	w, err := New(Config{Dir: dir, SampleCount: 4}, rec.handle, logger.NewWithCore(core))
	require.NoError(t, err)
	defer w.Stop()

	assert.True(t, w.Scan(context.Background()))
	assert.Equal(t, uint64(299), w.LastBlock())
	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.got[0].Samples, 4)
	assert.Equal(t, 1, logs.FilterMessage("watch_trigger").Len())

	assert.False(t, w.Scan(context.Background()), "no new blocks")
	assert.Equal(t, 1, rec.count())
}

func TestWatcherReactsToNewFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &windows{}
	w, err := New(Config{Dir: dir, SampleCount: 3, Debounce: 20 * time.Millisecond}, rec.handle, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	assert.Equal(t, 0, rec.count(), "empty directory")

	writeBlockFile(t, dir, 10, 20, 3)
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(20), w.LastBlock())

	// unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	writeBlockFile(t, dir, 21, 30, 3)
	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(30), w.LastBlock())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{SampleCount: 4}, nil, logger.NewNop())
	assert.Error(t, err)
	_, err = New(Config{Dir: t.TempDir(), SampleCount: 1}, nil, logger.NewNop())
	assert.Error(t, err)
}
