// Command postctl runs PostVault operations from the shell against the same
// configuration and post store as the web service.
//
// Usage:
//
//	postctl fetch -q golang -n 20
//	postctl list
//	postctl export --format csv --out tweets.csv
//	postctl stats
//	postctl tail
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/postvault/postvault/internal/app"
	"github.com/postvault/postvault/internal/export"
	"github.com/postvault/postvault/internal/ingestion"
	"github.com/postvault/postvault/internal/ingestion/publisher"
	"github.com/postvault/postvault/pkg/config"
	apperrors "github.com/postvault/postvault/pkg/errors"
	"github.com/postvault/postvault/pkg/kafka"
	"github.com/postvault/postvault/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "postctl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "postctl",
		Usage: "fetch, list and export stored posts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/development.yaml",
				Usage:   "path to config file",
				EnvVars: []string{"PV_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override logging.level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "fetch",
				Usage: "search for a keyword and store new posts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Required: true, Usage: "keyword or hashtag"},
					&cli.IntFlag{Name: "max", Aliases: []string{"n"}, Usage: "number of posts to fetch (default from config)"},
					&cli.TimestampFlag{Name: "start", Layout: "2006-01-02", Usage: "advisory start date"},
					&cli.TimestampFlag{Name: "end", Layout: "2006-01-02", Usage: "advisory end date"},
				},
				Action: fetchAction,
			},
			{
				Name:   "list",
				Usage:  "print stored posts, newest first",
				Action: listAction,
			},
			{
				Name:  "export",
				Usage: "write every stored post as CSV or JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "csv", Usage: "csv or json"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"},
				},
				Action: exportAction,
			},
			{
				Name:   "stats",
				Usage:  "print the number of stored posts",
				Action: statsAction,
			},
			{
				Name:  "tail",
				Usage: "follow post-ingested events on kafka",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "group", Usage: "consumer group (default from config)"},
				},
				Action: tailAction,
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Logging.Level
	if v := c.String("log-level"); v != "" {
		level = v
	}
	logger.SetupWriter(os.Stderr, config.LoggingConfig{Level: level, Format: "text"})
	return cfg, nil
}

// withApp loads configuration, opens the application, and runs fn. Logs go
// to stderr so command output on stdout stays machine-readable.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	a, err := app.New(c.Context, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(c.Context, a)
}

func fetchAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		req := ingestion.QueryRequest{
			Keyword:     c.String("query"),
			ResultBound: a.Config.Search.DefaultResults,
		}
		if c.IsSet("max") {
			req.ResultBound = c.Int("max")
		}
		if t := c.Timestamp("start"); t != nil {
			req.DateRange.Start = *t
		}
		if t := c.Timestamp("end"); t != nil {
			req.DateRange.End = *t
		}

		res, err := a.Ingest(ctx, req)
		if err != nil {
			if errors.Is(err, apperrors.ErrStorage) {
				return fmt.Errorf("%s (%d new posts were saved before the failure)", apperrors.UserMessage(err), res.Inserted)
			}
			return errors.New(apperrors.UserMessage(err))
		}
		fmt.Fprintln(c.App.Writer, res.Message())
		return nil
	})
}

func listAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		return printPosts(ctx, c.App.Writer, a.Store)
	})
}

func printPosts(ctx context.Context, w io.Writer, s ingestion.PostStore) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tUSERNAME\tCONTENT")
	err := s.Each(ctx, func(p ingestion.Post) error {
		_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Timestamp, p.Author, oneLine(p.Content, 80))
		return err
	})
	if err != nil {
		return err
	}
	return tw.Flush()
}

// oneLine flattens s to a single line of at most n runes for table output.
func oneLine(s string, n int) string {
	out := make([]rune, 0, n)
	for _, r := range s {
		if len(out) == n {
			out[n-1] = '…'
			break
		}
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		out = append(out, r)
	}
	return string(out)
}

func exportAction(c *cli.Context) error {
	format, err := export.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		out := c.String("out")
		if out == "" {
			return export.Write(ctx, c.App.Writer, a.Store, format)
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating %s: %w", out, err)
		}
		if err := export.Write(ctx, f, a.Store, format); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(c.App.ErrWriter, "wrote %s\n", out)
		return nil
	})
}

func statsAction(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		start := time.Now()
		n, err := a.Store.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "store:  %s\nposts:  %d\nlatency: %s\n", a.Config.Store.Driver, n, time.Since(start).Round(time.Microsecond))
		return nil
	})
}

func tailAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !cfg.Kafka.Enabled {
		return errors.New("kafka is disabled in this configuration")
	}
	if g := c.String("group"); g != "" {
		cfg.Kafka.ConsumerGroup = g
	}
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.PostIngested, func(_ context.Context, _, value []byte) error {
		return printEvent(c.App.Writer, value)
	})
	return consumer.Run(c.Context)
}

func printEvent(w io.Writer, value []byte) error {
	ev, err := kafka.DecodeJSON[publisher.PostIngestedEvent](value)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s  [%s] %s @%s: %s\n",
		ev.IngestedAt.Format(time.RFC3339), ev.Keyword, ev.PostID, ev.Username, oneLine(ev.Content, 80))
	return err
}
