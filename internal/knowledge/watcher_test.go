package knowledge_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tierkb/internal/knowledge"
)

func TestWatcherInvalidatesOnFileDrop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guest := user("guest", "low")

	require.NoError(t, f.svc.EnsureFresh(ctx, guest))
	require.Equal(t, int64(1), f.svc.Rebuilds())

	w, err := knowledge.NewWatcher(f.svc, f.dataDir, nil)
	require.NoError(t, err)
	defer w.Close()

	// Drop a file straight into a tier directory, bypassing the
	// upload path.
	require.NoError(t, os.WriteFile(filepath.Join(f.dataDir, "low", "dropped.txt"), []byte("surprise"), 0o644))

	// The watcher is asynchronous; poll for the invalidation to land.
	assert.Eventually(t, func() bool {
		require.NoError(t, f.svc.EnsureFresh(ctx, guest))
		return f.svc.Rebuilds() > 1
	}, 2*time.Second, 20*time.Millisecond)
}
