package main

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli"

	appLog "cfpradar/internal/log"
)

// cronLogger routes robfig/cron's log calls through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}

func (a *app) watchCmd() cli.Command {
	return cli.Command{
		Name:  "watch",
		Usage: "Run the pipeline on the configured cron schedule until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schedule", Usage: "Cron expression overriding the config schedule"},
			&cli.BoolFlag{Name: "now", Usage: "Run once immediately before waiting for the schedule"},
		},
		Action: func(c *cli.Context) error {
			spec := a.cfg.Schedule
			if s := c.String("schedule"); s != "" {
				spec = s
			}
			return a.watch(spec, c.Bool("now"))
		},
	}
}

func (a *app) watch(spec string, now bool) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return err
	}
	loc := a.cfg.Location()

	p := a.pipeline()
	var runs atomic.Int64
	job := func() {
		n := runs.Add(1)
		start := time.Now()
		appLog.Info("scheduled run starting", "run", n)
		if err := p.Run(a.ctx); err != nil {
			appLog.Error("scheduled run failed", err, "run", n, "elapsed", time.Since(start).String())
			return
		}
		appLog.Info("scheduled run finished", "run", n, "elapsed", time.Since(start).String())
	}

	logger := cronLogger{}
	sched := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := sched.AddFunc(spec, job)
	if err != nil {
		return err
	}
	if now {
		go sched.Entry(id).WrappedJob.Run()
	}
	sched.Start()
	appLog.Info("watching", "schedule", spec, "timezone", loc.String(), "next", sched.Entry(id).Next.Format(time.RFC3339))

	<-a.ctx.Done()
	appLog.Info("stopping scheduler, waiting for the running job")
	<-sched.Stop().Done()
	return nil
}
