package dict

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		line string
		want []byte
		bad  bool
	}{
		{line: "", want: nil},
		{line: "  # comment", want: nil},
		{line: `kw_magic="\x7fELF"`, want: []byte("\x7fELF")},
		{line: `"plain"`, want: []byte("plain")},
		{line: `"quote\"d\\"`, want: []byte(`quote"d\`)},
		{line: `"\x00\xff"`, want: []byte{0x00, 0xff}},
		{line: `unquoted`, bad: true},
		{line: `""`, bad: true},
		{line: `"\x4"`, bad: true},
		{line: `"\q"`, bad: true},
		{line: `"dangling\"`, bad: true},
	}
	for _, tc := range cases {
		got, err := ParseLine(tc.line)
		if tc.bad {
			assert.Error(t, err, tc.line)
			continue
		}
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
}

func TestGrabDictMergesAndDeduplicates(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.dict")
	b := filepath.Join(dir, "b.dict")
	require.NoError(t, os.WriteFile(a, []byte("# header\nkw1=\"GET\"\nkw2=\"POST\"\n"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("\"POST\"\nbroken line\n\"HEAD\"\n"), 0644))

	grabber := NewDictGrabber(DictGrabberParams{Logger: zaptest.NewLogger(t)})
	dict := grabber.GrabDict(context.Background(), "target", []string{a, b, filepath.Join(dir, "missing.dict")})

	assert.Equal(t, [][]byte{[]byte("GET"), []byte("POST"), []byte("HEAD")}, dict.Tokens)
	assert.Equal(t, 3, dict.Len())
}

func TestNilDictionaryLen(t *testing.T) {
	var d *Dictionary
	assert.Zero(t, d.Len())
}
