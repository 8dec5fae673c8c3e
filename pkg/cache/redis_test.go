package cache

import (
	"testing"
	"time"
)

func TestRedisCache_PrefixKey(t *testing.T) {
	c := &RedisCache{cfg: RedisConfig{KeyPrefix: "grps:"}}
	if got := c.prefixKey("req-123"); got != "grps:req-123" {
		t.Errorf("prefixKey() = %q, want %q", got, "grps:req-123")
	}
}

func TestRedisCache_GetTTLFallsBackToDefault(t *testing.T) {
	c := &RedisCache{cfg: RedisConfig{DefaultTTL: 30 * time.Second}}
	if got := c.getTTL(0); got != 30*time.Second {
		t.Errorf("getTTL(0) = %v, want default %v", got, 30*time.Second)
	}
	if got := c.getTTL(5 * time.Second); got != 5*time.Second {
		t.Errorf("getTTL(5s) = %v, want explicit %v", got, 5*time.Second)
	}
}

func TestNewRedisCache_RejectsUnparsableURL(t *testing.T) {
	_, err := NewRedisCache(RedisConfig{URL: "not a redis url \x00"})
	if err == nil {
		t.Fatal("NewRedisCache() with an unparsable URL: want error, got nil")
	}
}
