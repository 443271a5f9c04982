package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Cache.Provider != "memory" || c.Cache.Codec != "json" || c.Log.Env != "dev" {
		t.Fatalf("defaults = %+v", c)
	}
	if c.StaleTime() != 30*time.Second || c.GCTime() != 5*time.Minute || c.Latency() != 200*time.Millisecond {
		t.Fatalf("durations = %v %v %v", c.StaleTime(), c.GCTime(), c.Latency())
	}
}

func TestFileThenEnv(t *testing.T) {
	p := write(t, "querydemo.yaml", `
db: /tmp/todos.db
cache:
  provider: bigcache
  codec: msgpack
  stale_time: 0
backend:
  latency: 1s
  fail_rate: 0.25
`)
	t.Setenv("QUERYDEMO_CACHE_CODEC", "cbor")
	t.Setenv("QUERYDEMO_FAIL_RATE", "0.5")

	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.DB != "/tmp/todos.db" || c.Cache.Provider != "bigcache" {
		t.Fatalf("file values lost: %+v", c)
	}
	if c.Cache.Codec != "cbor" || c.Backend.FailRate != 0.5 {
		t.Fatalf("env overrides not applied: codec=%s fail=%v", c.Cache.Codec, c.Backend.FailRate)
	}
	if c.StaleTime() != 0 || c.Latency() != time.Second {
		t.Fatalf("durations = %v %v", c.StaleTime(), c.Latency())
	}
}

func TestValidate(t *testing.T) {
	p := write(t, "bad.yaml", `
cache:
  provider: redis
  codec: xml
  gc_time: soon
backend:
  fail_rate: 2
`)
	_, err := Load(p)
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"redis_addr", "xml", "gc_time", "fail_rate"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadDotenv(t *testing.T) {
	p := write(t, ".env", "QUERYDEMO_LOG_LEVEL=debug\n")
	t.Setenv("QUERYDEMO_LOG_LEVEL", "")
	os.Unsetenv("QUERYDEMO_LOG_LEVEL")

	if err := LoadDotenv(p, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatal(err)
	}
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Log.Level != "debug" {
		t.Fatalf("level = %q", c.Log.Level)
	}
}
