package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/samber/lo"

	"github.com/grafana/rewclient/pkg/clientcontext"
	"github.com/grafana/rewclient/pkg/elfimage"
	"github.com/grafana/rewclient/pkg/translator"
)

type runConfig struct {
	verbose    bool
	configFile string
	outDir     string
	symbols    []string
	demangle   bool
	list       bool
	metrics    bool
	locator    string
	executable string
	args       []string
}

// function is a translation target.
type function struct {
	name    string
	display string
	addr    uint64
}

func run(ctx context.Context, cfg runConfig, out io.Writer) (err error) {
	ctx = clientcontext.WithTarget(ctx, cfg.executable, cfg.locator)
	logger := clientcontext.Logger(ctx)
	img, err := elfimage.Load(cfg.executable)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := img.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	if err := img.Validate(); err != nil {
		return errors.Wrapf(err, "%s", cfg.executable)
	}

	funcs := selectFunctions(img, cfg.symbols, cfg.demangle)
	if cfg.list {
		for _, f := range funcs {
			fmt.Fprintf(out, "%#016x %s\n", f.addr, f.display)
		}
		return nil
	}

	overrides, err := readOverrides(cfg.configFile)
	if err != nil {
		return err
	}
	serverCfg, err := serverConfig(img.Machine(), overrides)
	if err != nil {
		return err
	}
	conn, err := openTransport(cfg.locator)
	if err != nil {
		return err
	}

	reg := clientcontext.Registry(ctx)
	tr := translator.New(img,
		translator.WithLogger(log.With(logger, "component", "translator")),
		translator.WithMetrics(translator.NewMetrics(reg)),
	)
	if err := tr.Init(conn, serverCfg); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "init translator")
	}
	defer func() {
		if ferr := tr.Fini(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	if err := session(ctx, tr, funcs, cfg.outDir); err != nil {
		return err
	}
	if cfg.metrics {
		return writeMetrics(out, reg)
	}
	return nil
}

// session runs the translation of funcs on an initialized translator.
func session(ctx context.Context, tr *translator.Translator, funcs []function, outDir string) error {
	logger := clientcontext.Logger(ctx)
	clientCfg, err := tr.ConfigFetch()
	if err != nil {
		return errors.Wrap(err, "fetch config")
	}
	level.Debug(logger).Log("msg", "received client config", "callconv", clientCfg.Callconv, "profile", clientCfg.Profile, "perf", clientCfg.Perf)

	initObj, err := tr.GetObject()
	if err != nil {
		return errors.Wrap(err, "fetch initial object")
	}
	level.Debug(logger).Log("msg", "received initial object", "size", len(initObj), "data", hex.EncodeToString(initObj))

	var total uint64
	for _, f := range funcs {
		obj, err := tr.Get(f.addr)
		if err != nil {
			return errors.Wrapf(err, "translate %s", f.display)
		}
		if err := writeObject(outDir, f.name, obj); err != nil {
			return err
		}
		total += uint64(len(obj))
		level.Info(logger).Log("msg", "translated function", "name", f.display, "addr", fmt.Sprintf("%#x", f.addr), "size", humanize.Bytes(uint64(len(obj))))
	}
	level.Info(logger).Log(
		"msg", "translation finished",
		"functions", len(funcs),
		"objects", humanize.Bytes(total),
		"served", humanize.Bytes(tr.ServedBytes()),
	)
	return nil
}

// selectFunctions returns the function symbols of img, restricted to names
// when any are given. A name matches either the raw or demangled symbol.
func selectFunctions(img *elfimage.Image, names []string, demangled bool) []function {
	funcs := lo.Map(img.FunctionSymbols(), func(s elfimage.Symbol, _ int) function {
		name := img.SymbolName(s)
		f := function{name: name, display: name, addr: s.Value}
		if demangled {
			f.display = demangle.Filter(name)
		}
		return f
	})
	// Objects are written to files named after the symbol; the first entry
	// for a name wins.
	funcs = lo.UniqBy(funcs, func(f function) string { return f.name })
	if len(names) == 0 {
		return funcs
	}
	return lo.Filter(funcs, func(f function, _ int) bool {
		return lo.Contains(names, f.name) || lo.Contains(names, demangle.Filter(f.name))
	})
}

// objectPath maps a symbol name to its output file.
func objectPath(dir, name string) string {
	return filepath.Join(dir, strings.ReplaceAll(name, string(filepath.Separator), "_")+".o")
}

func writeObject(dir, name string, obj []byte) error {
	path := objectPath(dir, name)
	if err := os.WriteFile(path, obj, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
