package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	ts := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func TestInitializeFresh(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")

	paths, err := Initialize("seeds", out)
	require.NoError(t, err)

	assert.Equal(t, "seeds", paths.SeedsDir)
	assert.Equal(t, out, paths.OutputDir)
	assert.False(t, paths.Resumed())
	for _, dir := range []string{paths.QueueDir(), paths.CrashesDir(), paths.HangsDir()} {
		assert.DirExists(t, dir)
	}
}

func TestInitializeFreshRefusesExistingOutput(t *testing.T) {
	out := t.TempDir()

	_, err := Initialize("seeds", out)
	require.ErrorIs(t, err, ErrOutputExists)
}

func TestInitializeResumeArchivesPreviousTree(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	_, err := Initialize("seeds", out)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(out, InputsDir, "id:000000"), []byte("seed"), 0644))

	paths, err := Initialize(ResumeMarker, out, WithClock(fixedClock()))
	require.NoError(t, err)

	require.True(t, paths.Resumed())
	assert.Equal(t, filepath.Join(paths.ArchiveDir, InputsDir), paths.SeedsDir)
	assert.FileExists(t, filepath.Join(paths.SeedsDir, "id:000000"))
	assert.DirExists(t, paths.QueueDir())

	entries, err := os.ReadDir(paths.QueueDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInitializeRepeatedResumesNeverCollide(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	_, err := Initialize("seeds", out)
	require.NoError(t, err)

	clock := fixedClock()
	first, err := Initialize(ResumeMarker, out, WithClock(clock))
	require.NoError(t, err)
	second, err := Initialize(ResumeMarker, out, WithClock(clock))
	require.NoError(t, err)

	assert.NotEqual(t, first.ArchiveDir, second.ArchiveDir)
	assert.DirExists(t, first.ArchiveDir)
	assert.DirExists(t, second.ArchiveDir)
}

func TestInitializeResumeWithoutPreviousTreeFails(t *testing.T) {
	_, err := Initialize(ResumeMarker, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestInitializeAFLSync(t *testing.T) {
	base := t.TempDir() // already exists, only warned about

	paths, err := Initialize("seeds", base, WithAFLSync())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "angora"), paths.OutputDir)
	assert.DirExists(t, paths.QueueDir())
}
