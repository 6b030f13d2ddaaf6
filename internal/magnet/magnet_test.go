package magnet

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "f60cc95e3566af84c1ab223fd4ce80fa88e6438a"

func TestParse(t *testing.T) {
	l, err := Parse("magnet:?xt=urn:btih:F60CC95E3566AF84C1AB223FD4CE80FA88E6438A&dn=sample_torrent&tr=http%3a%2f%2ftracker.example.com%3a2710%2fannounce")
	require.NoError(t, err)
	assert.Equal(t, testHash, hex.EncodeToString(l.InfoHash[:]))
	assert.Equal(t, "sample_torrent", l.Name)
	assert.Equal(t, []string{"http://tracker.example.com:2710/announce"}, l.Trackers)
	assert.Empty(t, l.Peers)

	again, err := Parse(l.String())
	require.NoError(t, err)
	assert.Equal(t, l, again)
}

func TestParseBase32(t *testing.T) {
	l, err := Parse("magnet:?xt=urn:btih:6YGMSXRVM2XYJQNLEI75JTUA7KEOMQ4K")
	require.NoError(t, err)
	assert.Equal(t, testHash, hex.EncodeToString(l.InfoHash[:]))
}

func TestParseMultihash(t *testing.T) {
	l, err := Parse("magnet:?xt=urn:btmh:1114" + testHash)
	require.NoError(t, err)
	assert.Equal(t, testHash, hex.EncodeToString(l.InfoHash[:]))

	// sha2-256 digests belong to v2 swarms.
	_, err = Parse("magnet:?xt=urn:btmh:1220" + testHash + testHash[:24])
	assert.Error(t, err)
}

func TestParseSecondTopic(t *testing.T) {
	l, err := Parse("magnet:?xt=urn:sha1:abc&xt=urn:btih:" + testHash)
	require.NoError(t, err)
	assert.Equal(t, testHash, hex.EncodeToString(l.InfoHash[:]))
}

func TestParseTrackersAndPeers(t *testing.T) {
	l, err := Parse("magnet:?xt=urn:btih:" + testHash +
		"&tr.1=udp://b.example.com:80&tr.0=udp://a.example.com:80&tr=http://c.example.com/announce" +
		"&tr.0=http://c.example.com/announce&x.pe=10.0.0.1:6881&x.pe=peer.example.com:51413")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"http://c.example.com/announce",
		"udp://a.example.com:80",
		"udp://b.example.com:80",
	}, l.Trackers)
	assert.Equal(t, []string{"10.0.0.1:6881", "peer.example.com:51413"}, l.Peers)
}

func TestInvalid(t *testing.T) {
	for _, s := range []string{
		"http://example.com",
		"magnet:?dn=foo",
		"magnet:?xt=urn:btih:1234",
		"magnet:?xt=btih:" + testHash,
		"magnet:?xt=urn:sha1:" + testHash,
		"magnet:?xt=urn:btih:" + testHash[:39] + "z",
	} {
		_, err := Parse(s)
		assert.Error(t, err, s)
	}
}
