package database

import (
	"net/url"
	"strings"
	"testing"
)

func TestEnsureTimezoneUTC(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"adds timezone", "postgres://u:p@localhost:5432/docpilot?sslmode=disable", "UTC"},
		{"keeps explicit timezone", "postgres://u:p@localhost:5432/docpilot?TimeZone=Europe/Berlin", "Europe/Berlin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ensureTimezoneUTC(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("result is not a URL: %v", err)
			}
			if tz := u.Query().Get("TimeZone"); tz != tt.want {
				t.Errorf("TimeZone = %q, want %q", tz, tt.want)
			}
		})
	}
}

func TestInitRequiresURL(t *testing.T) {
	if _, err := Init("", Pool{}); err == nil {
		t.Fatal("expected error for empty database URL")
	}
}

func TestPoolFor(t *testing.T) {
	if p := PoolFor(5); p != DefaultPool {
		t.Errorf("small worker pool should use defaults, got %+v", p)
	}
	if p := PoolFor(40); p.MaxOpen != 45 || p.MaxIdle != 22 {
		t.Errorf("unexpected pool for 40 workers: %+v", p)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("failed to list migrations: %v", err)
	}
	var up, down int
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, ".up.sql"):
			up++
		case strings.HasSuffix(n, ".down.sql"):
			down++
		}
	}
	if up == 0 || up != down {
		t.Errorf("expected paired up/down migrations, got %d up and %d down", up, down)
	}
}
