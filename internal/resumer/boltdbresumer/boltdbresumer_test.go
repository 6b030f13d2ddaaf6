package boltdbresumer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/resumer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openResumer(t *testing.T) *Resumer {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "resume.db"), 0600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r, err := New(db, []byte("torrents"))
	require.NoError(t, err)
	return r
}

func TestWriteRead(t *testing.T) {
	r := openResumer(t)
	spec := &resumer.Spec{
		InfoHash:   []byte("01234567890123456789"),
		Dest:       "/tmp/downloads",
		Name:       "foo",
		Trackers:   [][]string{{"http://tracker.example.com/announce"}},
		FixedPeers: []string{"127.0.0.1:6881"},
		Info:       []byte("d4:name3:fooe"),
		Bitfield:   []byte{0xc0},
		AddedAt:    time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC),
		Seed:       true,
		Stats: resumer.Stats{
			BytesDownloaded: 100,
			BytesUploaded:   200,
			BytesWasted:     3,
			SeededFor:       time.Minute,
		},
	}
	spec.KeepRedundantConnections = true
	require.NoError(t, r.Write("id", spec))

	spec2, err := r.Read("id")
	require.NoError(t, err)
	assert.Equal(t, spec, spec2)

	require.NoError(t, r.WriteBitfield("id", []byte{0xe0}))
	require.NoError(t, r.WriteStats("id", resumer.Stats{BytesDownloaded: 150}))
	require.NoError(t, r.WritePaused("id", true))
	spec2, err = r.Read("id")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xe0}, spec2.Bitfield)
	assert.Equal(t, int64(150), spec2.BytesDownloaded)
	assert.Equal(t, int64(0), spec2.BytesUploaded)
	assert.True(t, spec2.Paused)

	ids, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, ids)
}

func TestDelete(t *testing.T) {
	r := openResumer(t)
	require.NoError(t, r.Write("id", &resumer.Spec{InfoHash: []byte("x")}))
	require.NoError(t, r.Delete("id"))
	require.NoError(t, r.Delete("id"))

	_, err := r.Read("id")
	assert.ErrorIs(t, err, resumer.ErrNotFound)

	// Writes to a deleted torrent are ignored.
	require.NoError(t, r.WriteBitfield("id", []byte{1}))
	ids, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}
