// tamctl is the operator CLI: schema migrations, seeding and manual job
// control.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"github.com/teamaccess/team-access-manager/cmd/tamctl/cli"
	"github.com/teamaccess/team-access-manager/internal/app"
	"github.com/teamaccess/team-access-manager/internal/platform/db"
	"github.com/teamaccess/team-access-manager/migrations"
)

const usage = `usage: tamctl <command> [flags]

commands:
  migrate                 apply pending schema migrations
  seed --file seed.yaml   upsert features, teams and the bootstrap admin
  jobs trigger <name>     enqueue features:warm or idempotency:cleanup
  jobs stats              print queue depths
  jobs scheduled          list scheduled tasks
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "tamctl: load config: %v\n", err)
		return 1
	}
	switch args[0] {
	case "migrate":
		err = runMigrate(ctx, cfg, stdout)
	case "seed":
		err = runSeed(ctx, cfg, args[1:], stdout)
	case "jobs":
		err = runJobs(ctx, cfg, args[1:], stdout)
	case "-h", "--help", "help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "tamctl: unknown command %q\n%s", args[0], usage)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "tamctl %s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func runMigrate(ctx context.Context, cfg *app.Config, stdout io.Writer) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()
	migrator, err := cli.NewMigrator(sqlDB, migrations.FS)
	if err != nil {
		return err
	}
	ran, err := cli.Migrate(ctx, migrator)
	for _, name := range ran {
		_, _ = fmt.Fprintf(stdout, "applied %s\n", name)
	}
	if err != nil {
		return err
	}
	if len(ran) == 0 {
		_, _ = fmt.Fprintln(stdout, "schema is up to date")
	}
	return nil
}

func runSeed(ctx context.Context, cfg *app.Config, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	file := flags.StringP("file", "f", "seed.yaml", "seed document")
	if err := flags.Parse(args); err != nil {
		return err
	}
	fh, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer fh.Close()
	seed, err := cli.ParseSeed(fh)
	if err != nil {
		return err
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	summary, err := cli.Seed(ctx, seed, cli.NewPGSeedStore(pool))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "features=%d teams=%d admin_created=%t\n", summary.Features, summary.Teams, summary.AdminCreated)
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("jobs", pflag.ContinueOnError)
	size := flags.Int("size", 10, "page size for scheduled")
	if err := flags.Parse(args); err != nil {
		return err
	}
	rest := flags.Args()
	if len(rest) == 0 {
		return errors.New("expected trigger, stats or scheduled")
	}
	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch rest[0] {
	case "trigger":
		if len(rest) < 2 {
			return errors.New("trigger needs a job name")
		}
		info, err := jobsCLI.Trigger(ctx, rest[1])
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.Stats()
		if err != nil {
			return err
		}
		cli.RenderStats(stdout, stats)
	case "scheduled":
		tasks, err := jobsCLI.ListScheduled(*size)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			_, _ = fmt.Fprintf(stdout, "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00"))
		}
	default:
		return fmt.Errorf("unknown jobs subcommand %q", rest[0])
	}
	return nil
}
