package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/vipnode/gateway/nodepool"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.toml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
network = "stokenet"

[[node]]
name = "a"
address = "http://node-a:3333/core"
weight = 2.0
enabled = true

[[node]]
name = "b"
address = "http://node-b:3333/core"
weight = 1.0
enabled = false

[health]
max_lag = 50
probe_timeout = "2s"

[resubmission]
max_attempts = 3

[database]
driver = "postgres"
dsn = "host=localhost dbname=gateway"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	want := DefaultConfig()
	want.Network = "stokenet"
	want.Nodes = []nodepool.Node{
		{Name: "a", Address: "http://node-a:3333/core", Weight: 2, Enabled: true},
		{Name: "b", Address: "http://node-b:3333/core", Weight: 1},
	}
	want.Health.MaxLag = 50
	want.Health.ProbeTimeout = duration{2 * time.Second}
	want.Resubmission.MaxAttempts = 3
	want.Database = databaseConfig{Driver: "postgres", DSN: "host=localhost dbname=gateway"}
	if !reflect.DeepEqual(*cfg, want) {
		t.Errorf("got: %+v\nwant: %+v", *cfg, want)
	}

	if got := cfg.poolConfig(); got.ProbeTimeout != 2*time.Second || got.MaxLag != 50 || !got.IgnoreNonSyncedNodes {
		t.Errorf("unexpected pool config: %+v", got)
	}
	if got := cfg.resubmitConfig(); got.MaxAttempts != 3 || got.BaseDelay != 10*time.Second {
		t.Errorf("unexpected resubmit config: %+v", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(*cfg, DefaultConfig()) {
		t.Errorf("got: %+v; want defaults", *cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	testcases := []string{
		`netwrk = "typo"`,
		"[health]\nprobe_timeout = \"soon\"",
		`network = `,
	}
	for i, body := range testcases {
		if _, err := LoadConfig(writeConfig(t, body)); err == nil {
			t.Errorf("[case %d] expected error", i)
		}
	}
}
