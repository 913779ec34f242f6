package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"kvk-backend/config"
	"kvk-backend/database"
	"kvk-backend/kvk"
	"kvk-backend/leaderboard"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

// backend is what the commands operate on. Postgres in production, a
// memory store in tests.
type backend struct {
	Store   kvk.Store
	Migrate func() error
	Close   func() error
}

type opener func(ctx context.Context, c *cli.Context) (*backend, error)

func main() {
	if os.Getenv("RENDER") == "" {
		_ = godotenv.Load()
	}

	if err := newApp(openPostgres, os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openPostgres(ctx context.Context, c *cli.Context) (*backend, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if cfg.Store != config.StorePostgres {
		return nil, fmt.Errorf("kvkadmin needs the postgres store, config has %q", cfg.Store)
	}
	db, err := database.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	return &backend{
		Store:   kvk.NewPostgresRepository(db),
		Migrate: func() error { return database.Migrate(db) },
		Close:   db.Close,
	}, nil
}

func newApp(open opener, out io.Writer) *cli.App {
	withBackend := func(fn func(c *cli.Context, b *backend) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			b, err := open(c.Context, c)
			if err != nil {
				return err
			}
			if b.Close != nil {
				defer b.Close()
			}
			return fn(c, b)
		}
	}

	return &cli.App{
		Name:      "kvkadmin",
		Usage:     "manage KvK stat uploads",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "optional YAML config file", EnvVars: []string{"CONFIG_FILE"}},
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Action: withBackend(func(c *cli.Context, b *backend) error {
					if b.Migrate == nil {
						return nil
					}
					if err := b.Migrate(); err != nil {
						return err
					}
					fmt.Fprintln(out, "Migrations applied")
					return nil
				}),
			},
			{
				Name:  "import",
				Usage: "ingest a CSV or XLSX stats export",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "path to .csv or .xlsx file", Required: true},
					&cli.StringFlag{Name: "date", Usage: "upload date in YYYY-MM-DD format", Required: true},
					&cli.StringFlag{Name: "filename", Usage: "name recorded on the upload (defaults to the file name)"},
					&cli.IntFlag{Name: "batch-size", Value: kvk.DefaultBatchSize},
					&cli.IntFlag{Name: "concurrency", Value: kvk.DefaultConcurrency},
				},
				Action: withBackend(runImport(out)),
			},
			{
				Name:  "list",
				Usage: "list uploads, newest first",
				Action: withBackend(func(c *cli.Context, b *backend) error {
					uploads, err := kvk.NewIngestService(b.Store).ListUploads(c.Context)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tDATE\tRECORDS\tSTATUS\tFILENAME")
					for _, u := range uploads {
						status := "complete"
						if !u.Finalized() {
							status = "partial"
						}
						fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", u.ID, u.UploadDate.Format(kvk.DateLayout), u.RecordCount, status, u.Filename)
					}
					return tw.Flush()
				}),
			},
			{
				Name:  "delete",
				Usage: "delete an upload and its player stats",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: withBackend(func(c *cli.Context, b *backend) error {
					if err := kvk.NewIngestService(b.Store).DeleteUpload(c.Context, c.String("id")); err != nil {
						return err
					}
					fmt.Fprintf(out, "Deleted upload %s\n", c.String("id"))
					return nil
				}),
			},
			{
				Name:  "export",
				Usage: "write an upload back out as CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "out", Usage: "output path (stdout when empty)"},
				},
				Action: withBackend(func(c *cli.Context, b *backend) error {
					records, err := kvk.NewIngestService(b.Store).UploadRecords(c.Context, c.String("id"))
					if err != nil {
						return err
					}
					if path := c.String("out"); path != "" {
						return writeCSVFile(path, records)
					}
					return kvk.EncodeCSV(out, records)
				}),
			},
			{
				Name:  "top",
				Usage: "print the leaderboard for an upload",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "upload", Usage: "upload id (latest when empty)"},
					&cli.StringFlag{Name: "server", Value: leaderboard.AllServers},
					&cli.StringFlag{Name: "sort", Value: leaderboard.DefaultSortKey},
					&cli.StringFlag{Name: "dir", Value: string(leaderboard.Desc)},
					&cli.StringFlag{Name: "q", Usage: "name or alliance tag search"},
					&cli.IntFlag{Name: "limit", Value: 25, Usage: "rows to print (0 for all)"},
				},
				Action: withBackend(runTop(out)),
			},
		},
	}
}

// writeCSVFile returns the Close error when encoding succeeded.
func writeCSVFile(path string, records []kvk.PlayerStatRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()
	return kvk.EncodeCSV(f, records)
}

func runImport(out io.Writer) func(c *cli.Context, b *backend) error {
	return func(c *cli.Context, b *backend) error {
		path := c.String("file")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}

		csvData := string(data)
		if kvk.IsXLSX(path) {
			csvData, err = kvk.XLSXToCSV(bytes.NewReader(data))
			if err != nil {
				return err
			}
		}

		filename := c.String("filename")
		if filename == "" {
			filename = filepath.Base(path)
		}

		svc := kvk.NewIngestService(b.Store,
			kvk.WithBatchSize(c.Int("batch-size")),
			kvk.WithConcurrency(c.Int("concurrency")),
		)
		res, err := svc.Ingest(c.Context, kvk.IngestRequest{
			CSVData:    csvData,
			UploadDate: c.String("date"),
			Filename:   filename,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Imported upload %s with %d records (%d rows skipped)\n", res.UploadID, res.RecordCount, res.Skipped)
		return nil
	}
}

func runTop(out io.Writer) func(c *cli.Context, b *backend) error {
	return func(c *cli.Context, b *backend) error {
		key, ok := leaderboard.ParseSortKey(c.String("sort"))
		if !ok {
			return fmt.Errorf("unknown sort column %q", c.String("sort"))
		}

		records, err := leaderboard.StoreSource{Store: b.Store, UploadID: c.String("upload")}.Load(c.Context)
		if err != nil {
			return err
		}

		res := leaderboard.Derive(records, leaderboard.View{
			Server:    c.String("server"),
			SortKey:   key,
			Direction: leaderboard.ParseDirection(c.String("dir")),
			Query:     c.String("q"),
		})

		rows := res.Entries
		if limit := c.Int("limit"); limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}

		get, _ := kvk.NumericValue(key)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "RANK\tLORD\tNAME\tTAG\tSERVER\tHIGHEST POWER\t%s\n", strings.ToUpper(key))
		for _, e := range rows {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
				e.Rank, e.LordID, e.Name, e.AllianceTag, e.HomeServer,
				leaderboard.FormatCompact(e.HighestPower), leaderboard.FormatCompact(get(e.PlayerStatRecord)))
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		agg := res.Aggregates.Formatted()
		fmt.Fprintf(out, "\n%d of %d players in window (server %s, %d in partition)\n", len(res.Entries), res.WindowSize, res.View.Server, res.PartitionSize)
		fmt.Fprintf(out, "Totals: highest power %s, units killed %s, T5 kills %s, mana spent %s\n",
			agg.HighestPower, agg.UnitsKilled, agg.KillcountT5, agg.ManaSpent)
		return nil
	}
}
