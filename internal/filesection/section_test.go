package filesection

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var data = []string{"asdf", "a", "", "qwerty"}

func openFiles(t *testing.T) []*os.File {
	dir := t.TempDir()
	osFiles := make([]*os.File, len(data))
	for i, s := range data {
		filename := filepath.Join(dir, "file"+strconv.Itoa(i))
		require.NoError(t, os.WriteFile(filename, []byte(s), 0600))
		f, err := os.OpenFile(filename, os.O_RDWR, 0600)
		require.NoError(t, err)
		t.Cleanup(func() { f.Close() })
		osFiles[i] = f
	}
	return osFiles
}

func TestReadAt(t *testing.T) {
	osFiles := openFiles(t)
	s := Sections{
		{osFiles[0], 2, 2},
		{osFiles[1], 0, 1},
		{osFiles[2], 0, 0},
		{osFiles[3], 0, 2},
	}
	assert.Equal(t, int64(5), s.Length())

	buf := make([]byte, 5)
	require.NoError(t, s.ReadFull(buf))
	assert.Equal(t, "dfaqw", string(buf))

	buf = make([]byte, 3)
	require.NoError(t, s.ReadAt(buf, 1))
	assert.Equal(t, "faq", string(buf))

	assert.Error(t, s.ReadAt(make([]byte, 3), 3))
}

func TestWriteAt(t *testing.T) {
	osFiles := openFiles(t)
	s := Sections{
		{osFiles[0], 2, 2},
		{osFiles[1], 0, 1},
		{osFiles[3], 0, 2},
	}
	require.NoError(t, s.WriteAt([]byte("XYZ"), 1))

	buf := make([]byte, 5)
	require.NoError(t, s.ReadFull(buf))
	assert.Equal(t, "dXYZw", string(buf))

	b, err := os.ReadFile(osFiles[0].Name())
	require.NoError(t, err)
	assert.Equal(t, "asdX", string(b))
}
