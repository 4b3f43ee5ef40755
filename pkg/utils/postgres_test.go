package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfigDefaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns != 25 || got.MaxIdleConns != 25 {
		t.Fatalf("unexpected conn defaults: %+v", got)
	}
	if got.ConnMaxLifetime != 30*time.Minute || got.ConnMaxIdleTime != 5*time.Minute {
		t.Fatalf("unexpected lifetime defaults: %+v", got)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout: %+v", got)
	}
}

func TestPostgresPoolConfigKeepsExplicitValues(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 5, PingTimeout: time.Second}.withDefaults()
	if got.MaxOpenConns != 5 || got.PingTimeout != time.Second {
		t.Fatalf("explicit values must survive: %+v", got)
	}
}
