package ipfilter

import (
	"net"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var addr = netip.MustParseAddr

func TestAccess(t *testing.T) {
	f := New()
	assert.Equal(t, uint32(0), f.Access(addr("0.1.2.3")))
	require.NoError(t, f.AddRule(addr("0.0.0.0"), addr("0.255.255.255"), 123))
	assert.Equal(t, uint32(123), f.Access(addr("0.1.2.3")))
	assert.Equal(t, uint32(123), f.Access(addr("::ffff:0.1.2.3")))
	assert.Equal(t, uint32(0), f.Access(addr("1.2.3.4")))
	assert.Equal(t, uint32(0), f.Access(addr("::1")))
}

func TestOverride(t *testing.T) {
	f := New()
	require.NoError(t, f.AddRule(addr("10.0.0.0"), addr("10.0.0.255"), Blocked))
	require.NoError(t, f.AddRule(addr("10.0.0.10"), addr("10.0.0.20"), 0))
	require.NoError(t, f.AddRule(addr("10.0.0.250"), addr("10.0.1.5"), 2))
	assert.Equal(t, []Rule{
		{addr("10.0.0.0"), addr("10.0.0.9"), Blocked},
		{addr("10.0.0.21"), addr("10.0.0.249"), Blocked},
		{addr("10.0.0.250"), addr("10.0.1.5"), 2},
	}, f.Rules())
	assert.True(t, f.Blocked(net.ParseIP("10.0.0.9")))
	assert.False(t, f.Blocked(net.ParseIP("10.0.0.15")))
	assert.False(t, f.Blocked(net.ParseIP("10.0.0.251")))

	// A rule that covers others replaces them.
	require.NoError(t, f.AddRule(addr("9.0.0.0"), addr("11.0.0.0"), Blocked))
	assert.Equal(t, []Rule{{addr("9.0.0.0"), addr("11.0.0.0"), Blocked}}, f.Rules())
	assert.Equal(t, 1, f.Len())
}

func TestInvalidRule(t *testing.T) {
	f := New()
	assert.Error(t, f.AddRule(addr("10.0.0.1"), addr("::1"), Blocked))
	assert.Error(t, f.AddRule(addr("10.0.0.2"), addr("10.0.0.1"), Blocked))
	assert.Error(t, f.AddRule(netip.Addr{}, addr("10.0.0.1"), Blocked))
	assert.Equal(t, 0, f.Len())
}

func TestLoad(t *testing.T) {
	const list = `
# comment
0.0.1.1/24
6.0.0.0-6.255.255.255
192.168.1.7
2001:db8::/32
not an address
`
	f := New()
	var logged []string
	n, err := f.Load(strings.NewReader(list), func(format string, args ...any) {
		logged = append(logged, format)
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Len(t, logged, 1)
	assert.True(t, f.Blocked(net.ParseIP("0.0.1.0")))
	assert.True(t, f.Blocked(net.ParseIP("0.0.1.255")))
	assert.False(t, f.Blocked(net.ParseIP("0.0.2.0")))
	assert.True(t, f.Blocked(net.ParseIP("6.1.2.3")))
	assert.True(t, f.Blocked(net.ParseIP("192.168.1.7")))
	assert.False(t, f.Blocked(net.ParseIP("192.168.1.8")))
	assert.True(t, f.Blocked(net.ParseIP("2001:db8:ffff::1")))
	assert.False(t, f.Blocked(net.ParseIP("176.240.195.107")))
}

func TestLoadNoValidRules(t *testing.T) {
	f := New()
	_, err := f.Load(strings.NewReader("garbage\nmore garbage\n"), nil)
	assert.Error(t, err)

	n, err := f.Load(strings.NewReader(""), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
