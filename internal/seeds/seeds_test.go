package seeds

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"b3hybrid/internal/types"
	"b3hybrid/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

func TestSeedManagerIdleWithoutConsumers(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	s, err := NewSeedManager(SeedManagerParams{Lc: lc, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.Nil(t, s.seedChan)

	lc.RequireStart()
	lc.RequireStop()
}

func bufferedSeeds(t *testing.T, contents ...string) ([]types.SeedMessage, chan types.SeedMessage) {
	t.Helper()
	queue := t.TempDir()
	target := types.NewTarget("/bin/target")
	seedChan := make(chan types.SeedMessage, len(contents))
	var msgs []types.SeedMessage
	for i, content := range contents {
		path := filepath.Join(queue, "seed"+string(rune('a'+i)))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		msg := types.SeedMessage{SeedFile: path, Generation: uint64(i), Target: target}
		msgs = append(msgs, msg)
		seedChan <- msg
	}
	return msgs, seedChan
}

func TestSeedManagerBundlesBatch(t *testing.T) {
	msgs, _ := bufferedSeeds(t, "first", "second")
	s := &SeedManager{logger: zaptest.NewLogger(t), seedFolder: t.TempDir()}

	s.processSeedMessages(msgs)

	bundles, err := filepath.Glob(filepath.Join(s.seedFolder, "target-*.tar.gz"))
	require.NoError(t, err)
	require.Len(t, bundles, 1)

	unpacked := t.TempDir()
	require.NoError(t, utils.UnpackTarGz(bundles[0], unpacked))
	files, err := os.ReadDir(unpacked)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestSeedManagerStopsWithoutPublishing(t *testing.T) {
	_, seedChan := bufferedSeeds(t, "first", "second")
	s := &SeedManager{
		logger:     zaptest.NewLogger(t),
		seedFolder: t.TempDir(),
		seedChan:   seedChan,
		done:       make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	go s.start(ctx)

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("seed manager did not stop")
	}

	bundles, err := filepath.Glob(filepath.Join(s.seedFolder, "*"))
	require.NoError(t, err)
	assert.Empty(t, bundles)
}
