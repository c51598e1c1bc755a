package cache

import (
	"strings"
	"testing"

	"github.com/mkumaran/message-search/pkg/config"
)

const gen = "f3b9c2d4-0000-0000-0000-000000000001"

func TestBuildKeyDeterministic(t *testing.T) {
	c := New(nil, config.RedisConfig{})
	k1 := c.buildKey(gen, "hello world", 1, 10)
	k2 := c.buildKey(gen, "hello world", 1, 10)
	if k1 != k2 {
		t.Errorf("same input produced different keys: %q vs %q", k1, k2)
	}
	if !strings.HasPrefix(k1, keyPrefix) {
		t.Errorf("key %q missing prefix %q", k1, keyPrefix)
	}
}

func TestBuildKeyCaseInsensitive(t *testing.T) {
	c := New(nil, config.RedisConfig{})
	if c.buildKey(gen, "Hello World", 1, 10) != c.buildKey(gen, "hello world", 1, 10) {
		t.Error("keys should be case insensitive")
	}
	if c.buildKey(gen, "  hello world  ", 1, 10) != c.buildKey(gen, "hello world", 1, 10) {
		t.Error("keys should ignore surrounding whitespace")
	}
}

func TestBuildKeySensitiveToRawQuery(t *testing.T) {
	c := New(nil, config.RedisConfig{})
	// Same token set, different raw strings. The engine treats these
	// differently (substring fallback), so the cache must too.
	if c.buildKey(gen, "hello-world", 1, 10) == c.buildKey(gen, "world hello", 1, 10) {
		t.Error("raw query must be part of the key, not just its term set")
	}
}

func TestBuildKeyVariesWithPagination(t *testing.T) {
	c := New(nil, config.RedisConfig{})
	base := c.buildKey(gen, "hello", 1, 10)
	if c.buildKey(gen, "hello", 2, 10) == base {
		t.Error("page must affect the key")
	}
	if c.buildKey(gen, "hello", 1, 20) == base {
		t.Error("page_size must affect the key")
	}
}

func TestBuildKeyVariesWithGeneration(t *testing.T) {
	c := New(nil, config.RedisConfig{})
	// A page computed against one snapshot must be unreachable under the
	// next, even if its write races the publish-time flush.
	other := "f3b9c2d4-0000-0000-0000-000000000002"
	if c.buildKey(gen, "hello", 1, 10) == c.buildKey(other, "hello", 1, 10) {
		t.Error("snapshot generation must affect the key")
	}
}
