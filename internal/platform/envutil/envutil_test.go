package envutil

import (
	"testing"
	"time"
)

func TestDurationParsesSecondsAndGoDurations(t *testing.T) {
	t.Setenv("POLL", "15")
	if got := Duration("POLL", time.Minute, nil); got != 15*time.Second {
		t.Fatalf("bare seconds: want=15s got=%s", got)
	}
	t.Setenv("POLL", "10m")
	if got := Duration("POLL", time.Minute, nil); got != 10*time.Minute {
		t.Fatalf("go duration: want=10m got=%s", got)
	}
	t.Setenv("POLL", "soon")
	if got := Duration("POLL", time.Minute, nil); got != time.Minute {
		t.Fatalf("invalid: want=1m got=%s", got)
	}
}

func TestBoolAndIntDefaults(t *testing.T) {
	t.Setenv("FLAG", "")
	if got := Bool("FLAG", true, nil); !got {
		t.Fatalf("empty bool: want=true got=false")
	}
	t.Setenv("FLAG", "off")
	if got := Bool("FLAG", true, nil); got {
		t.Fatalf("off: want=false got=true")
	}
	t.Setenv("N", "x")
	if got := Int("N", 7, nil); got != 7 {
		t.Fatalf("invalid int: want=7 got=%d", got)
	}
	t.Setenv("NAME", "  chorus  ")
	if got := String("NAME", "d", nil); got != "chorus" {
		t.Fatalf("string trim: want=chorus got=%q", got)
	}
}
