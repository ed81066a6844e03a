package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quotecache/internal/config"
)

func TestAssetKey(t *testing.T) {
	assert.Equal(t, "quotecache:asset:600519.SH", AssetKey(" 600519.sh "))
	assert.Equal(t, AssetKey("aapl.us"), AssetKey("AAPL.US"))
}

func TestNewTTLSet(t *testing.T) {
	ttl := NewTTLSet(config.CacheTTL{Short: 5, Medium: 0, Long: -1})
	assert.Equal(t, 5*time.Second, ttl.Duration(TTLShort))
	assert.Equal(t, time.Minute, ttl.Duration(TTLMedium))
	assert.Zero(t, ttl.Duration(TTLLong))
	assert.Zero(t, ttl.Duration("weekly"))

	assert.Equal(t, 24*time.Hour, AssetTTL(NewTTLSet(config.CacheTTL{})))
}
