package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/rewclient/pkg/clientcontext"
)

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

// newApp declares the command line. Flag parsing stops at the first
// positional argument so that arguments meant for the executable pass
// through untouched.
func newApp(cfg *runConfig) *kingpin.Application {
	app := kingpin.New(filepath.Base(os.Args[0]), "Client for a remote binary translation server.").UsageWriter(os.Stdout)
	app.Version(version.Print("rewclient"))
	app.HelpFlag.Short('h')
	app.Interspersed(false)
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("false").BoolVar(&cfg.verbose)
	app.Flag("config", "YAML file overriding server configuration fields.").Envar("REWCLIENT_CONFIG").StringVar(&cfg.configFile)
	app.Flag("out-dir", "Directory translated objects are written to.").Envar("REWCLIENT_OUT_DIR").Default(".").StringVar(&cfg.outDir)
	app.Flag("symbol", "Only translate the named function. May be repeated.").StringsVar(&cfg.symbols)
	app.Flag("demangle", "Demangle symbol names in logs and listings.").BoolVar(&cfg.demangle)
	app.Flag("list", "List function symbols and exit without connecting.").BoolVar(&cfg.list)
	app.Flag("metrics", "Print session metrics in text format on exit.").BoolVar(&cfg.metrics)
	app.Arg("locator", "Transport locator: an inherited descriptor number or unix:PATH.").Required().StringVar(&cfg.locator)
	app.Arg("executable", "The executable to translate.").Required().StringVar(&cfg.executable)
	app.Arg("args", "Arguments passed through to the executable.").StringsVar(&cfg.args)
	return app
}

func main() {
	var cfg runConfig
	app := newApp(&cfg)

	kingpin.MustParse(app.Parse(os.Args[1:]))

	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	ctx := clientcontext.WithLogger(context.Background(), logger)
	ctx = clientcontext.WithRegistry(ctx, prometheus.NewRegistry())
	os.Exit(checkError(run(ctx, cfg, os.Stdout)))
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
