// Command querydemo drives optimistic updates of a todo list against an
// example bbolt backend and prints what a UI bound to the cache would show.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/querycache/internal/config"
)

type flags struct {
	config      string
	db          string
	latency     string
	failRate    float64
	logLevel    string
	logEnv      string
	metricsAddr string
	provider    string
}

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "querydemo",
		Short:         "Optimistic-update cache demo over a todo backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "YAML config file (env QUERYDEMO_* overrides it)")
	pf.StringVar(&f.db, "db", "", "bbolt file holding the todos")
	pf.StringVar(&f.latency, "latency", "", "backend latency per call, e.g. 300ms")
	pf.Float64Var(&f.failRate, "fail-rate", -1, "chance in [0,1] that a backend write fails")
	pf.StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error")
	pf.StringVar(&f.logEnv, "log-env", "", "dev|prod")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&f.provider, "provider", "", "memory|ristretto|bigcache|redis")

	load := func() (*config.Config, error) {
		if err := config.LoadDotenv(".env", ".env.local"); err != nil {
			return nil, err
		}
		cfg, err := config.Load(f.config)
		if err != nil {
			return nil, err
		}
		f.apply(cfg)
		return cfg, cfg.Validate()
	}

	root.AddCommand(
		sessionCmd(load),
		lsCmd(load),
		addCmd(load),
		doneCmd(load),
		rmCmd(load),
	)
	return root
}

// apply lets flags override file and environment values.
func (f *flags) apply(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.DB, f.db)
	set(&cfg.Backend.Latency, f.latency)
	set(&cfg.Log.Level, f.logLevel)
	set(&cfg.Log.Env, f.logEnv)
	set(&cfg.Metrics.Addr, f.metricsAddr)
	set(&cfg.Cache.Provider, f.provider)
	if f.failRate >= 0 {
		cfg.Backend.FailRate = f.failRate
	}
}
