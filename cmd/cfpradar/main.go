package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/urfave/cli"

	"cfpradar/internal/catalog"
	"cfpradar/internal/config"
	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
	"cfpradar/internal/pipeline"
	"cfpradar/internal/render"
)

const appName = "cfpradar"

var version = "0.1.0-dev"

// app carries what every command needs once the global flags are parsed.
type app struct {
	ctx     context.Context
	cfg     *config.Config
	sources []model.Source
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	a := &app{ctx: ctx}
	ctl := cli.App{
		Name:    appName,
		Usage:   "Collects LATAM tech conference and CFP listings into static JSON",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:   "config",
				Usage:  "Path to the YAML config file",
				EnvVar: "CFPRADAR_CONFIG",
				Value:  "cfpradar.yaml",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Output debug messages",
			},
		},
		Before: a.before,
		Commands: []cli.Command{
			a.stageCmd("collect", "Fetch every enabled source into data/raw-events.json", a.collect),
			a.stageCmd("normalize", "Convert raw payloads into canonical events", a.normalize),
			a.stageCmd("dedupe", "Collapse duplicate events into data/events.json", a.dedupe),
			a.stageCmd("monthly", "Write the public events.json and monthly partitions", a.monthly),
			a.stageCmd("validate", "Re-check data/events.json against the event schema", a.validate),
			a.stageCmd("run", "Run every stage in order", a.run),
			a.watchCmd(),
			a.exportCmd(),
			a.sourcesCmd(),
		},
	}

	if err := ctl.Run(os.Args); err != nil {
		appLog.Error("command failed", err)
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// before loads the config and the source catalog. A corrupt catalog is
// fatal for every command.
func (a *app) before(c *cli.Context) error {
	path := c.GlobalString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	level := cfg.LogLevel
	if l := c.GlobalString("log-level"); l != "" {
		level = l
	}
	if c.GlobalBool("debug") {
		level = "debug"
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	appLog.SetFormat(cfg.LogFormat)

	sources, err := catalog.Load(cfg.SourcesFile)
	if err != nil {
		return err
	}

	a.cfg, a.sources = cfg, sources
	appLog.Debug("effective config",
		"config_path", path,
		"data_dir", cfg.DataDir,
		"public_dir", cfg.PublicDir,
		"sources_file", cfg.SourcesFile,
		"sources", len(sources),
		"timezone", cfg.Timezone,
		"workers", cfg.Fetch.Workers,
		"retries", cfg.Fetch.Retries,
		"resolution", cfg.Dedupe.Resolution,
	)
	return nil
}

func (a *app) pipeline() *pipeline.Pipeline {
	r := render.New(render.Options{
		Timeout:   a.cfg.Fetch.RenderTimeout,
		UserAgent: a.cfg.Fetch.UserAgent,
	})
	return pipeline.New(a.cfg, a.sources, pipeline.WithRenderer(r))
}
