package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecycleReason(t *testing.T) {
	cfg := Config{RecycleInterval: time.Hour, MemoryLimit: 100}
	cases := []struct {
		age  time.Duration
		heap int64
		want string
	}{
		{time.Minute, 50, ""},
		{2 * time.Hour, 50, "max age"},
		{time.Minute, 150, "memory limit"},
		{time.Minute, -1, ""},
	}
	for _, c := range cases {
		if got := recycleReason(cfg, c.age, c.heap); got != c.want {
			t.Errorf("recycleReason(%v, %d) = %q, want %q", c.age, c.heap, got, c.want)
		}
	}
	if got := recycleReason(Config{}, 100*time.Hour, 1<<40); got != "" {
		t.Errorf("no limits configured: got %q", got)
	}
}

func TestManager_Closed(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close: %v", err)
	}
	if err := m.Recycle("test"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Recycle after Close: %v", err)
	}
	if m.Browser() != nil {
		t.Fatal("closed manager must not hand out a browser")
	}
}

func TestManager_Defaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.MonitorInterval != 30*time.Second || m.log == nil {
		t.Fatalf("defaults not applied: %+v", m.cfg)
	}
}
