package ttlcache

import (
	"testing"
	"time"

	"github.com/dkeye/Pairing/internal/clock"
)

func TestCacheExpiry(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := New[string, int](clk)

	c.Set("a", 1, time.Second)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}

	clk.Advance(time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatal("entry should expire exactly at ttl")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted, len = %d", c.Len())
	}
}

func TestCacheSetIfAbsent(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := New[string, string](clk)

	if !c.SetIfAbsent("k", "first", time.Minute) {
		t.Fatal("first SetIfAbsent should store")
	}
	if c.SetIfAbsent("k", "second", time.Minute) {
		t.Fatal("second SetIfAbsent should not overwrite a live entry")
	}
	clk.Advance(time.Minute)
	if !c.SetIfAbsent("k", "third", time.Minute) {
		t.Fatal("SetIfAbsent should replace an expired entry")
	}
	if v, _ := c.Get("k"); v != "third" {
		t.Errorf("value = %q", v)
	}
}

func TestCacheSweep(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := New[int, bool](clk)
	c.Set(1, true, time.Second)
	c.Set(2, true, 3*time.Second)
	c.Set(3, true, 5*time.Second)

	clk.Advance(3 * time.Second)
	if n := c.Sweep(); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestInstancesAreIsolated(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	a, b := New[string, int](clk), New[string, int](clk)
	a.Set("x", 1, time.Minute)
	if _, ok := b.Get("x"); ok {
		t.Error("caches must not share state")
	}
}

func TestCacheItemsPrunes(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := New[string, int](clk)
	c.Set("old", 1, time.Second)
	c.Set("new", 2, time.Minute)

	clk.Advance(time.Second)
	items := c.Items()
	if len(items) != 1 || items["new"] != 2 {
		t.Fatalf("Items() = %v", items)
	}
	if c.Len() != 1 {
		t.Errorf("expired entry kept, Len() = %d", c.Len())
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
}
