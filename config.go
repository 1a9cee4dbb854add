package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vipnode/gateway/ingest"
	"github.com/vipnode/gateway/ledger/sqlstore"
	"github.com/vipnode/gateway/ledgerstate"
	"github.com/vipnode/gateway/nodepool"
	"github.com/vipnode/gateway/submission"
	"github.com/vipnode/gateway/txquery"
)

// duration decodes TOML strings such as "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type healthConfig struct {
	MaxLag               uint64   `toml:"max_lag"`
	IgnoreNonSyncedNodes bool     `toml:"ignore_non_synced_nodes"`
	ProbeTimeout         duration `toml:"probe_timeout"`
	RefreshInterval      duration `toml:"refresh_interval"`
}

type submissionConfig struct {
	Timeout duration `toml:"timeout"`
}

type resubmissionConfig struct {
	Interval            duration `toml:"interval"`
	BaseDelay           duration `toml:"base_delay"`
	DelayExponent       float64  `toml:"delay_exponent"`
	MaxAttempts         int      `toml:"max_attempts"`
	StopAfter           duration `toml:"stop_after"`
	Timeout             duration `toml:"timeout"`
	BatchSize           int      `toml:"batch_size"`
	RateLimit           float64  `toml:"rate_limit"`
	PruneCommittedAfter duration `toml:"prune_committed_after"`
}

type ledgerConfig struct {
	ReadLagThreshold               duration `toml:"read_lag_threshold"`
	ConstructionLagThreshold       duration `toml:"construction_lag_threshold"`
	PreventReadIfNotSynced         bool     `toml:"prevent_read_if_not_synced"`
	PreventConstructionIfNotSynced bool     `toml:"prevent_construction_if_not_synced"`
}

type paginationConfig struct {
	DefaultLimit       int `toml:"default_limit"`
	MaxLimit           int `toml:"max_limit"`
	CommittedCacheSize int `toml:"committed_cache_size"`
}

type ingestConfig struct {
	Enabled      bool     `toml:"enabled"`
	Interval     duration `toml:"interval"`
	BatchSize    int      `toml:"batch_size"`
	FetchTimeout duration `toml:"fetch_timeout"`
}

type databaseConfig struct {
	// Driver is postgres or sqlite.
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type mempoolConfig struct {
	// Store is persist (badger) or memory.
	Store        string   `toml:"store"`
	CommittedTTL duration `toml:"committed_ttl"`
}

// Config is the gateway configuration file.
type Config struct {
	Network string `toml:"network"`
	Bind    string `toml:"bind"`
	// AllowOrigin sets the Access-Control-Allow-Origin header of RPC
	// responses.
	AllowOrigin string `toml:"allow_origin"`
	// StatusCache is how long the gateway status is cached.
	StatusCache duration `toml:"status_cache"`

	Nodes        []nodepool.Node    `toml:"node"`
	Health       healthConfig       `toml:"health"`
	Submission   submissionConfig   `toml:"submission"`
	Resubmission resubmissionConfig `toml:"resubmission"`
	Ledger       ledgerConfig       `toml:"ledger"`
	Pagination   paginationConfig   `toml:"pagination"`
	Ingest       ingestConfig       `toml:"ingest"`
	Database     databaseConfig     `toml:"database"`
	Mempool      mempoolConfig      `toml:"mempool"`
}

// DefaultConfig returns the configuration used for missing fields.
func DefaultConfig() Config {
	pool := nodepool.DefaultConfig()
	resubmit := submission.DefaultResubmitConfig()
	states := ledgerstate.DefaultConfig()
	pages := txquery.DefaultConfig()
	ing := ingest.DefaultConfig()
	return Config{
		Network:     "localnet",
		Bind:        "0.0.0.0:8080",
		StatusCache: duration{10 * time.Second},
		Health: healthConfig{
			MaxLag:               pool.MaxLag,
			IgnoreNonSyncedNodes: pool.IgnoreNonSyncedNodes,
			ProbeTimeout:         duration{pool.ProbeTimeout},
			RefreshInterval:      duration{pool.RefreshInterval},
		},
		Submission: submissionConfig{
			Timeout: duration{submission.DefaultSubmitTimeout},
		},
		Resubmission: resubmissionConfig{
			Interval:            duration{resubmit.Interval},
			BaseDelay:           duration{resubmit.BaseDelay},
			DelayExponent:       resubmit.DelayExponent,
			MaxAttempts:         resubmit.MaxAttempts,
			StopAfter:           duration{resubmit.StopAfter},
			Timeout:             duration{resubmit.Timeout},
			BatchSize:           resubmit.BatchSize,
			RateLimit:           resubmit.RateLimit,
			PruneCommittedAfter: duration{resubmit.PruneCommittedAfter},
		},
		Ledger: ledgerConfig{
			ReadLagThreshold:               duration{states.ReadLagThreshold},
			ConstructionLagThreshold:       duration{states.ConstructionLagThreshold},
			PreventReadIfNotSynced:         states.PreventReadIfNotSynced,
			PreventConstructionIfNotSynced: states.PreventConstructionIfNotSynced,
		},
		Pagination: paginationConfig{
			DefaultLimit:       pages.DefaultLimit,
			MaxLimit:           pages.MaxLimit,
			CommittedCacheSize: pages.CommittedCacheSize,
		},
		Ingest: ingestConfig{
			Enabled:      true,
			Interval:     duration{ing.Interval},
			BatchSize:    ing.BatchSize,
			FetchTimeout: duration{ing.FetchTimeout},
		},
		Database: databaseConfig{
			Driver: sqlstore.DriverSQLite,
		},
		Mempool: mempoolConfig{
			Store:        "persist",
			CommittedTTL: duration{10 * time.Minute},
		},
	}
}

// LoadConfig reads the TOML file at path over the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
	}
	return &cfg, nil
}

func (c *Config) poolConfig() nodepool.Config {
	return nodepool.Config{
		MaxLag:               c.Health.MaxLag,
		IgnoreNonSyncedNodes: c.Health.IgnoreNonSyncedNodes,
		ProbeTimeout:         c.Health.ProbeTimeout.Duration,
		RefreshInterval:      c.Health.RefreshInterval.Duration,
	}
}

func (c *Config) resubmitConfig() submission.ResubmitConfig {
	r := c.Resubmission
	return submission.ResubmitConfig{
		Interval:            r.Interval.Duration,
		BaseDelay:           r.BaseDelay.Duration,
		DelayExponent:       r.DelayExponent,
		MaxAttempts:         r.MaxAttempts,
		StopAfter:           r.StopAfter.Duration,
		Timeout:             r.Timeout.Duration,
		BatchSize:           r.BatchSize,
		RateLimit:           r.RateLimit,
		PruneCommittedAfter: r.PruneCommittedAfter.Duration,
	}
}

func (c *Config) ledgerConfig() ledgerstate.Config {
	return ledgerstate.Config{
		ReadLagThreshold:               c.Ledger.ReadLagThreshold.Duration,
		ConstructionLagThreshold:       c.Ledger.ConstructionLagThreshold.Duration,
		PreventReadIfNotSynced:         c.Ledger.PreventReadIfNotSynced,
		PreventConstructionIfNotSynced: c.Ledger.PreventConstructionIfNotSynced,
	}
}

func (c *Config) paginationConfig() txquery.Config {
	return txquery.Config{
		DefaultLimit:       c.Pagination.DefaultLimit,
		MaxLimit:           c.Pagination.MaxLimit,
		CommittedCacheSize: c.Pagination.CommittedCacheSize,
	}
}

func (c *Config) ingestConfig() ingest.Config {
	return ingest.Config{
		Interval:     c.Ingest.Interval.Duration,
		BatchSize:    c.Ingest.BatchSize,
		FetchTimeout: c.Ingest.FetchTimeout.Duration,
	}
}
