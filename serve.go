package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/OpenPeeDeeP/xdg"
	badgerdb "github.com/dgraph-io/badger/v2"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vipnode/gateway/coreapi"
	"github.com/vipnode/gateway/gateway"
	"github.com/vipnode/gateway/ingest"
	"github.com/vipnode/gateway/ledger/sqlstore"
	"github.com/vipnode/gateway/ledgerstate"
	"github.com/vipnode/gateway/mempool"
	"github.com/vipnode/gateway/mempool/badger"
	"github.com/vipnode/gateway/mempool/memory"
	"github.com/vipnode/gateway/metrics"
	"github.com/vipnode/gateway/nodepool"
	"github.com/vipnode/gateway/status"
	"github.com/vipnode/gateway/submission"
	"github.com/vipnode/gateway/txquery"
)

const shutdownTimeout = 10 * time.Second

// findDataDir returns a valid data dir, will create it if it doesn't
// exist.
func findDataDir(overridePath string) (string, error) {
	path := overridePath
	if path == "" {
		path = xdg.New("vipnode", "gateway").DataHome()
	}
	err := os.MkdirAll(path, 0700)
	return path, err
}

func openMempool(driver string, dataDir string, cfg *Config) (mempool.Store, error) {
	switch driver {
	case "memory":
		logger.Warning("Using the in-memory dedup store, tracked transactions are lost on restart.")
		return memory.New(), nil
	case "persist", "badger":
		dir, err := findDataDir(dataDir)
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(dir, "mempool")
		store, err := badger.Open(badgerdb.DefaultOptions(dir).WithLogger(nil))
		if err != nil {
			return nil, err
		}
		store.CommittedTTL = cfg.Mempool.CommittedTTL.Duration
		logger.Infof("Persistent dedup store using badger backend: %s", dir)
		return store, nil
	}
	return nil, fmt.Errorf("dedup store driver not implemented: %s", driver)
}

func openReplica(dataDir string, cfg *Config) (*sqlstore.Store, error) {
	dsn := cfg.Database.DSN
	if dsn == "" && (cfg.Database.Driver == sqlstore.DriverSQLite || cfg.Database.Driver == "") {
		dir, err := findDataDir(dataDir)
		if err != nil {
			return nil, err
		}
		dsn = filepath.Join(dir, "replica.db")
	}
	dialector, err := sqlstore.Dialector(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, err
	}
	return sqlstore.Open(dialector, cfg.Network)
}

// loop is a background component with the Start/Stop/Wait lifecycle.
type loop interface {
	Start(ctx context.Context) error
	Stop()
	Wait() error
}

func runServe(options Options, cfg *Config) error {
	bind := cfg.Bind
	if options.Serve.Bind != "" {
		bind = options.Serve.Bind
	}
	storeDriver := cfg.Mempool.Store
	if options.Serve.Store != "" {
		storeDriver = options.Serve.Store
	}

	m := metrics.Gateway()

	store, err := openMempool(storeDriver, options.DataDir, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	replica, err := openReplica(options.DataDir, cfg)
	if err != nil {
		return err
	}
	defer replica.Close()

	states := ledgerstate.New(replica, cfg.ledgerConfig()).WithMetrics(m)

	pool, err := nodepool.NewPool(cfg.poolConfig(), cfg.Nodes, coreapi.Dial)
	if err != nil {
		return err
	}
	pool.WithMetrics(m)
	pool.TopOfLedger = states.TopStateVersion

	submitter := submission.NewSubmitter(pool, store, states).WithMetrics(m)
	submitter.Timeout = cfg.Submission.Timeout.Duration
	resubmitter := submission.NewResubmitter(pool, store, cfg.resubmitConfig()).WithMetrics(m)

	transactions, err := txquery.New(replica, states, store, cfg.paginationConfig())
	if err != nil {
		return err
	}

	rpcServer, err := gateway.NewServer(&gateway.Service{
		Status: &status.GatewayStatus{
			Network:       cfg.Network,
			Nodes:         pool,
			Ledger:        states,
			Mempool:       store,
			TimeStarted:   time.Now(),
			Version:       fmt.Sprintf("vipnode/gateway/%s", Version),
			CacheDuration: cfg.StatusCache.Duration,
		},
		Store:        replica,
		States:       states,
		Submitter:    submitter,
		Transactions: transactions,
	})
	if err != nil {
		return err
	}
	defer rpcServer.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loops := []loop{pool, resubmitter}
	if cfg.Ingest.Enabled {
		loops = append(loops, ingest.New(pool, replica, store, cfg.ingestConfig()).WithMetrics(m))
	} else {
		logger.Warning("Ingestion is disabled, the read replica must be fed by another gateway.")
	}
	var started []loop
	defer func() {
		for _, l := range started {
			l.Stop()
			if err := l.Wait(); err != nil {
				logger.Warningf("Background loop stopped with error: %s", err)
			}
		}
	}()
	for _, l := range loops {
		if err := l.Start(ctx); err != nil {
			return err
		}
		started = append(started, l)
	}

	srv := &http.Server{
		Addr:    bind,
		Handler: newServer(rpcServer, cfg.AllowOrigin).handler(),
	}

	// Register shutdown on ctrl+c signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		logger.Info("Shutting down...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warningf("Failed to shut down cleanly: %s", err)
		}
	}()

	if options.Serve.TLSHost != "" {
		if !strings.HasSuffix(bind, ":443") {
			logger.Warningf("Ignoring --bind value (%q) because it's not 443 and --tlshost is set.", bind)
		}
		logger.Infof("Starting gateway (version %s) for %s, acquiring ACME certificate and listening on: https://%s", Version, cfg.Network, options.Serve.TLSHost)
		err = srv.Serve(autocert.NewListener(options.Serve.TLSHost))
		if err != nil && strings.HasSuffix(err.Error(), "bind: permission denied") {
			err = ErrExplain{err, "Serving with autocert requires CAP_NET_BIND_SERVICE capability permission to bind on low-numbered ports."}
		}
	} else {
		logger.Infof("Starting gateway (version %s) for %s, listening on: %s", Version, cfg.Network, bind)
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
