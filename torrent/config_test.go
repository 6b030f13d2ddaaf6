package torrent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig
	cfg.Clock = nil
	require.NoError(t, cfg.validate())
	assert.NotNil(t, cfg.Clock)
}

func TestInvalidConfig(t *testing.T) {
	cases := map[string]func(c *Config){
		"alert queue size":   func(c *Config) { c.AlertQueueSize = 0 },
		"max active checks":  func(c *Config) { c.MaxActiveChecks = 0 },
		"max peers":          func(c *Config) { c.MaxPeersPerTorrent = 0 },
		"max requests":       func(c *Config) { c.MaxRequestsPerPeer = 0 },
		"unchoke slots":      func(c *Config) { c.UnchokeSlots = -1 },
		"optimistic slots":   func(c *Config) { c.OptimisticUnchokeSlots = -1 },
		"disk retries":       func(c *Config) { c.MaxDiskRetries = -1 },
		"request timeout":    func(c *Config) { c.RequestTimeout = 0 },
		"tick interval":      func(c *Config) { c.TickInterval = -time.Second },
		"peer id prefix":     func(c *Config) { c.PeerIDPrefix = "-abcdefghijklmnopqrstuvwxyz-" },
		"tracker threshold":  func(c *Config) { c.TrackerErrorThreshold = 0 },
		"resume write":       func(c *Config) { c.ResumeWriteInterval = 0 },
		"duplicate requests": func(c *Config) { c.MaxDuplicateRequests = 0 },
	}
	for name, modify := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			modify(&cfg)
			s, err := NewSession(cfg)
			assert.Nil(t, s)
			var cerr *ConfigError
			assert.True(t, errors.As(err, &cerr), "%v", err)
		})
	}
}

func TestConfigYAML(t *testing.T) {
	cfg := DefaultConfig
	err := yaml.Unmarshal([]byte("listen-addr: 127.0.0.1:6881\nmax-peers-per-torrent: 10\nunchoke-interval: 5s\ndht-enabled: true\n"), &cfg)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6881", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.MaxPeersPerTorrent)
	assert.Equal(t, 5*time.Second, cfg.UnchokeInterval)
	assert.True(t, cfg.DHTEnabled)
	assert.Equal(t, DefaultConfig.MaxRequestsPerPeer, cfg.MaxRequestsPerPeer)
}
