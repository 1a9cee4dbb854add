package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
	flags "github.com/jessevdk/go-flags"

	"github.com/vipnode/gateway/coreapi"
	"github.com/vipnode/gateway/gateway"
	"github.com/vipnode/gateway/ingest"
	"github.com/vipnode/gateway/ledger/sqlstore"
	"github.com/vipnode/gateway/ledgerstate"
	"github.com/vipnode/gateway/mempool/badger"
	"github.com/vipnode/gateway/nodepool"
	"github.com/vipnode/gateway/submission"
	"github.com/vipnode/gateway/txquery"
)

// Version of the binary, assigned during build.
var Version string = "dev"

// Options contains the flag options
type Options struct {
	Verbose []bool `short:"v" long:"verbose" description:"Show verbose logging."`
	Version bool   `long:"version" description:"Print version and exit."`
	Config  string `long:"config" description:"Path to the TOML config file."`
	DataDir string `long:"datadir" description:"Path for persistent data. Defaults to the XDG data directory."`

	Serve struct {
		Bind    string `long:"bind" description:"Address and port to listen on. Overrides the config file."`
		TLSHost string `long:"tlshost" description:"Acquire an ACME certificate for this host and serve HTTPS on :443."`
		Store   string `long:"store" description:"Dedup store driver. Overrides the config file. (persist|memory)"`
	} `command:"serve" description:"Run the gateway (default)."`

	Probe struct{} `command:"probe" description:"Probe the configured core nodes once and print their health."`

	Migrate struct{} `command:"migrate" description:"Create or upgrade the read replica and dedup store schemas."`
}

var logLevels = []log.Level{
	log.Warning,
	log.Info,
	log.Debug,
}

func subcommand(cmd string, options Options) error {
	cfg, err := LoadConfig(options.Config)
	if err != nil {
		return ErrExplain{err, "Failed to load the config file. Check the path given with --config and its syntax."}
	}

	switch cmd {
	case "serve":
		return runServe(options, cfg)
	case "probe":
		return runProbe(cfg)
	case "migrate":
		return runMigrate(options, cfg)
	}
	return fmt.Errorf("unknown command: %s", cmd)
}

func setLogLevel(w io.Writer, level log.Level) {
	SetLogger(golog.New(w, level))

	// Subpackages log one level quieter, except in debug mode.
	pkgLevel := level
	if level != log.Debug {
		pkgLevel = level - 1
	}
	coreapi.SetLogger(w, pkgLevel)
	nodepool.SetLogger(w, pkgLevel)
	badger.SetLogger(w, pkgLevel)
	sqlstore.SetLogger(w, pkgLevel)
	ledgerstate.SetLogger(w, pkgLevel)
	txquery.SetLogger(w, pkgLevel)
	submission.SetLogger(w, pkgLevel)
	ingest.SetLogger(w, pkgLevel)
	gateway.SetLogger(w, pkgLevel)
}

func main() {
	options := Options{}
	parser := flags.NewParser(&options, flags.Default)
	parser.SubcommandsOptional = true
	p, err := parser.Parse()
	if err != nil {
		if p == nil {
			fmt.Println(err)
		}
		return
	}

	if options.Version {
		fmt.Println(Version)
		os.Exit(0)
	}

	// Figure out the log level
	numVerbose := len(options.Verbose)
	if numVerbose >= len(logLevels) {
		numVerbose = len(logLevels) - 1
	}
	setLogLevel(os.Stderr, logLevels[numVerbose])

	cmd := "serve"
	if parser.Active != nil {
		cmd = parser.Active.Name
	}
	err = subcommand(cmd, options)
	if err == nil {
		return
	}
	exit(2, "%s failed: %s\n", cmd, explain(err))
}

// explain annotates err with a hint for the operator, unless it already
// has one.
func explain(err error) error {
	var explained ErrExplain
	if errors.As(err, &explained) {
		return err
	}
	var cfgErr nodepool.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ErrExplain{err, "Check the [[node]] entries of the config file: every node needs a unique name, an address and a positive weight, and at least one must be enabled."}
	}
	var mismatch sqlstore.NetworkMismatchError
	if errors.As(err, &mismatch) {
		return ErrExplain{err, "The read replica was built from another network. Point [database] at a fresh database or fix the network setting."}
	}
	var migrationErr badger.MigrationError
	if errors.As(err, &migrationErr) {
		return ErrExplain{err, fmt.Sprintf("Failed to upgrade the dedup store at %s. Move it aside to start with an empty one.", migrationErr.Path)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrExplain{err, "Network error. Check that the bind address is free and the database is reachable."}
	}
	if coded, ok := err.(interface{ ErrorCode() int }); ok {
		return ErrExplain{err, fmt.Sprintf("Unexpected RPC error occurred: %T (code %d).", coded, coded.ErrorCode())}
	}
	return ErrExplain{err, fmt.Sprintf("Error type %T is missing an explanation.", err)}
}

func exit(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}

// ErrExplain annotates an error with an explanation.
type ErrExplain struct {
	Cause       error
	Explanation string
}

func (err ErrExplain) Error() string {
	return fmt.Sprintf("%s\n -> %s", err.Cause, err.Explanation)
}

func (err ErrExplain) Unwrap() error {
	return err.Cause
}
