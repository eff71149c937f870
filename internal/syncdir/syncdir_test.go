package syncdir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingRunner struct {
	inputs [][]byte
	err    error
}

func (r *recordingRunner) RunUnscored(ctx context.Context, data []byte) error {
	r.inputs = append(r.inputs, data)
	return r.err
}

func TestIngestSkipsEmptyAndNonRegular(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"), []byte("beta"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	runner := &recordingRunner{}
	n, err := NewIngester(dir, runner, zaptest.NewLogger(t)).Ingest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, [][]byte{[]byte("alpha"), []byte("beta")}, runner.inputs)

	// files are not consumed: a second sync sees them again, once each
	runner.inputs = nil
	n, err = NewIngester(dir, runner, zaptest.NewLogger(t)).Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, runner.inputs, 2)
}

func TestIngestFollowsSymlinksToRegularFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "real")
	require.NoError(t, os.WriteFile(target, []byte("linked"), 0644))
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "link")))

	runner := &recordingRunner{}
	n, err := NewIngester(dir, runner, zaptest.NewLogger(t)).Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte("linked"), runner.inputs[0])
}

func TestIngestMissingDirIsFatal(t *testing.T) {
	runner := &recordingRunner{}
	_, err := NewIngester(filepath.Join(t.TempDir(), "nope"), runner, zaptest.NewLogger(t)).Ingest(context.Background())
	require.Error(t, err)
	assert.Empty(t, runner.inputs)
}

func TestIngestUnreadableFileIsFatal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read files without permission bits")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "locked")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0000))

	_, err := NewIngester(dir, &recordingRunner{}, zaptest.NewLogger(t)).Ingest(context.Background())
	require.Error(t, err)
}

func TestIngestRunnerFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("alpha"), 0644))

	boom := errors.New("fork failed")
	_, err := NewIngester(dir, &recordingRunner{err: boom}, zaptest.NewLogger(t)).Ingest(context.Background())
	require.ErrorIs(t, err, boom)
}
