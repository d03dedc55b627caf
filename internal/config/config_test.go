package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "realtime.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://localhost/app
auth:
  jwt_secret: s3cret
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.API.Listen != "127.0.0.1:4000" {
		t.Errorf("api.listen default = %q", c.API.Listen)
	}
	if c.WS.PingInterval != 30*time.Second {
		t.Errorf("ping interval = %v, want 30s", c.WS.PingInterval)
	}
	if c.WS.IdleTimeout != 0 {
		t.Errorf("idle timeout default = %v, want 0", c.WS.IdleTimeout)
	}
	if c.Bridge.WaitTimeout != 250*time.Millisecond {
		t.Errorf("bridge wait timeout = %v", c.Bridge.WaitTimeout)
	}
}

func TestLoad_RequiresDSN(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: s3cret
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing db.dsn")
	}
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://localhost/app
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing auth.jwt_secret")
	}
}

func TestLoad_DurationConversion(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://localhost/app
auth:
  jwt_secret: s3cret
ws:
  idle_timeout_seconds: 90
  ping_interval_seconds: 10
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.WS.IdleTimeout != 90*time.Second {
		t.Errorf("idle timeout = %v, want 90s", c.WS.IdleTimeout)
	}
	if c.WS.PingInterval != 10*time.Second {
		t.Errorf("ping interval = %v, want 10s", c.WS.PingInterval)
	}
}
