package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"cfpradar/internal/catalog"
	"cfpradar/internal/export"
	"cfpradar/internal/filter"
	appLog "cfpradar/internal/log"
	"cfpradar/internal/model"
	"cfpradar/internal/pipeline"
	"cfpradar/internal/store"
)

func (a *app) stageCmd(name, usage string, fn func(p *pipeline.Pipeline) error) cli.Command {
	return cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			return fn(a.pipeline())
		},
	}
}

func (a *app) collect(p *pipeline.Pipeline) error {
	rep, err := p.Collect(a.ctx)
	if err != nil {
		return err
	}
	fmt.Printf("collected %d/%d sources (%d failed)\n", rep.Succeeded, rep.Sources, rep.Failed)
	return nil
}

func (a *app) normalize(p *pipeline.Pipeline) error {
	st, err := p.Normalize()
	if err != nil {
		return err
	}
	fmt.Printf("normalized %d events from %d payloads (%d dropped, %d payloads failed)\n", st.Events, st.Raw, st.Dropped, st.Failed)
	return nil
}

func (a *app) dedupe(p *pipeline.Pipeline) error {
	st, err := p.Dedupe()
	if err != nil {
		return err
	}
	fmt.Printf("kept %d of %d events (%d duplicates removed)\n", st.Input-st.Removed, st.Input, st.Removed)
	return nil
}

func (a *app) monthly(p *pipeline.Pipeline) error {
	months, err := p.Partition()
	if err != nil {
		return err
	}
	for _, key := range months.Keys() {
		fmt.Printf("%s\t%d events\n", key, len(months[key]))
	}
	return nil
}

func (a *app) validate(p *pipeline.Pipeline) error {
	rep, err := p.Validate()
	for _, inv := range rep.Invalid {
		fmt.Printf("%s\t%s\t%s\n", inv.Event.ID, inv.Event.Title, strings.Join(inv.Reasons, "; "))
	}
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	fmt.Printf("%d events valid\n", rep.Checked)
	return nil
}

func (a *app) run(p *pipeline.Pipeline) error {
	return p.Run(a.ctx)
}

func (a *app) exportCmd() cli.Command {
	return cli.Command{
		Name:  "export",
		Usage: "Write an iCalendar file with the events matching the filters",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out, o", Usage: "Output file, - for stdout", Value: "-"},
			&cli.StringFlag{Name: "q", Usage: "Text to look for in title, description or city"},
			&cli.StringFlag{Name: "country", Usage: "Two-letter country code"},
			&cli.StringFlag{Name: "city", Usage: "Exact city name"},
			&cli.StringFlag{Name: "format", Usage: "in-person, online or hybrid"},
			&cli.StringSliceFlag{Name: "track", Usage: "Track to include; repeatable"},
			&cli.StringFlag{Name: "from", Usage: "First start date, YYYY-MM-DD"},
			&cli.StringFlag{Name: "to", Usage: "Last start date, YYYY-MM-DD"},
			&cli.BoolFlag{Name: "open-cfp", Usage: "Only events whose CFP is still open"},
		},
		Action: func(c *cli.Context) error {
			q := filter.Query{
				Q:           c.String("q"),
				Country:     c.String("country"),
				City:        c.String("city"),
				Format:      model.Format(c.String("format")),
				Tracks:      c.StringSlice("track"),
				From:        c.String("from"),
				To:          c.String("to"),
				OnlyOpenCFP: c.Bool("open-cfp"),
			}
			if q.Format != "" && !q.Format.Valid() {
				return fmt.Errorf("unknown format %q", q.Format)
			}
			for _, d := range []string{q.From, q.To} {
				if d == "" {
					continue
				}
				if _, err := time.Parse("2006-01-02", d); err != nil {
					return fmt.Errorf("invalid date %q: %w", d, err)
				}
			}

			events, err := a.pipeline().Events()
			if err != nil {
				return err
			}
			now := time.Now()
			matched := filter.Apply(events, q, now)
			ics := export.Serialize(matched, now)

			out := c.String("out")
			if out == "-" {
				_, err := os.Stdout.WriteString(ics)
				return err
			}
			if err := store.WriteFile(out, []byte(ics), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			appLog.Info("calendar exported", "path", out, "events", len(matched), "of", len(events))
			return nil
		},
	}
}

func (a *app) sourcesCmd() cli.Command {
	return cli.Command{
		Name:  "sources",
		Usage: "Inspect the source catalog",
		Subcommands: []cli.Command{
			{
				Name:   "list",
				Usage:  "Print the catalog with its last fetch state",
				Action: a.listSources,
			},
			{
				Name:  "check",
				Usage: "Probe every enabled source with a HEAD request",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "Probe disabled sources too"},
				},
				Action: a.checkSources,
			},
		},
	}
}

func (a *app) listSources(c *cli.Context) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tENABLED\tCOUNTRY\tCITY\tLAST FETCHED\tLAST ERROR")
	for _, s := range a.sources {
		last := "-"
		if s.LastFetched != nil {
			last = s.LastFetched.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\t%s\n", s.ID, s.Type, s.Enabled, dash(s.Country), dash(s.City), last, dash(s.LastError))
	}
	return w.Flush()
}

func (a *app) checkSources(c *cli.Context) error {
	sources := a.sources
	if !c.Bool("all") {
		sources = catalog.Enabled(sources)
	}
	probes := a.pipeline().Fetcher().Check(a.ctx, sources)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tOK\tELAPSED\tERROR")
	failed := 0
	for _, p := range probes {
		if !p.OK {
			failed++
		}
		fmt.Fprintf(w, "%s\t%d\t%t\t%s\t%s\n", p.ID, p.Status, p.OK, p.Elapsed.Round(time.Millisecond), dash(p.Error))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return cli.NewExitError(fmt.Sprintf("%d of %d sources unreachable", failed, len(probes)), 3)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
