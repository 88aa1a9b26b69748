package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetSet_RoundTrip(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, MaxSize: 10})

	c.Set("k1", "v1")

	got, ok := c.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, "v1", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestGetAt_Expiry(t *testing.T) {
	c := New[int](Options{TTL: time.Minute, MaxSize: 10})
	base := time.Unix(1_700_000_000, 0)

	c.SetAt("k", 42, time.Minute, base)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"just stored", base.Add(time.Second), true},
		{"just before expiry", base.Add(time.Minute - time.Millisecond), true},
		{"at expiry", base.Add(time.Minute), false},
		{"after expiry", base.Add(2 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := c.GetAt("k", tt.at)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestSetTTL_PerEntryLifetime(t *testing.T) {
	c := New[string](Options{TTL: time.Hour, MaxSize: 10})
	base := time.Unix(1_700_000_000, 0)

	c.SetAt("short", "a", 30*time.Second, base)
	c.SetAt("long", "b", 10*time.Minute, base)

	at := base.Add(time.Minute)
	_, shortOK := c.GetAt("short", at)
	_, longOK := c.GetAt("long", at)

	assert.False(t, shortOK, "30s entry should be gone after a minute")
	assert.True(t, longOK, "10m entry should survive a minute")
}

func TestSet_ZeroTTLNeverExpires(t *testing.T) {
	c := New[string](Options{TTL: 0, MaxSize: 10})
	base := time.Unix(1_700_000_000, 0)

	c.SetAt("k", "v", 0, base)

	_, ok := c.GetAt("k", base.Add(24*365*time.Hour))
	assert.True(t, ok)
}

func TestPrune_MaxSizeEvictsOldest(t *testing.T) {
	c := New[int](Options{TTL: time.Hour, MaxSize: 3})
	base := time.Unix(1_700_000_000, 0)

	c.SetAt("a", 1, time.Hour, base)
	c.SetAt("b", 2, time.Hour, base.Add(time.Second))
	c.SetAt("c", 3, time.Hour, base.Add(2*time.Second))
	c.SetAt("d", 4, time.Hour, base.Add(3*time.Second))

	assert.Equal(t, 3, c.Size())

	_, ok := c.GetAt("a", base.Add(4*time.Second))
	assert.False(t, ok, "oldest entry should be evicted first")

	_, ok = c.GetAt("d", base.Add(4*time.Second))
	assert.True(t, ok)
}

func TestRemoveAndClear(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, MaxSize: 10})

	c.Set("k1", "v1")
	c.Set("k2", "v2")

	c.Remove("k1")
	_, ok := c.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestSet_DisabledCache(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, MaxSize: 0})

	c.Set("k", "v")
	_, ok := c.Get("k")
	assert.False(t, ok, "zero max size disables storage")
}

func TestSet_EmptyKeyIgnored(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, MaxSize: 10})

	c.Set("", "v")
	assert.Equal(t, 0, c.Size())
}
