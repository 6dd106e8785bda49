// tagrelayctl inspects and maintains a tagrelay event store directly, without
// going through the daemon's admin API. It opens the same SQLite file, so it
// works even when the daemon is stopped.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"github.com/tagrelay/tagrelay/internal/domain"
	"github.com/tagrelay/tagrelay/internal/infra/sqlite"
	"github.com/tagrelay/tagrelay/internal/infra/sqlite/migrations"
	"github.com/tagrelay/tagrelay/internal/repository"
	"github.com/tagrelay/tagrelay/internal/service"
	"go.uber.org/zap"
)

const usage = `Usage: tagrelayctl [flags] <command>

Commands:
  stats     show event counts by status
  recent    list the most recent events
  pending   list events awaiting delivery
  retry     re-arm pending (and optionally abandoned) events for immediate retry
  cleanup   delete delivered events older than the retention window
  export    write the whole store as CSV

Flags:
`

func main() {
	flags := pflag.NewFlagSet("tagrelayctl", pflag.ExitOnError)
	dbPath := flags.String("db", "/var/lib/tagrelay/events.db", "path to the event store")
	limit := flags.Int("limit", 20, "maximum rows for the recent command")
	days := flags.Int("days", 30, "retention window in days for the cleanup command")
	includeAbandoned := flags.Bool("include-abandoned", false, "also re-arm abandoned events on retry")
	eventID := flags.Int64("event-id", 0, "restrict retry to a single event id")
	out := flags.String("out", "", "output file for the export command (default stdout)")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		fatalf("%v", err)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}
	command := flags.Arg(0)

	db, err := sqlite.NewSQLite(*dbPath)
	if err != nil {
		fatalf("failed to open event store: %v", err)
	}
	if err := migrations.Migrate(db); err != nil {
		fatalf("failed to migrate event store: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	maintenance, err := service.NewMaintenance(repository.NewGormEventRepo(db), zap.NewNop())
	if err != nil {
		fatalf("%v", err)
	}

	ctx := context.Background()

	switch command {
	case "stats":
		err = runStats(ctx, maintenance)
	case "recent":
		err = runList(ctx, func() ([]domain.Event, error) { return maintenance.ListRecent(ctx, *limit) })
	case "pending":
		err = runList(ctx, func() ([]domain.Event, error) { return maintenance.ListPending(ctx) })
	case "retry":
		err = runRetry(ctx, maintenance, *includeAbandoned, *eventID)
	case "cleanup":
		err = runCleanup(ctx, maintenance, *days)
	case "export":
		err = runExport(ctx, maintenance, *out)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		flags.Usage()
		os.Exit(2)
	}

	if err != nil {
		fatalf("%v", err)
	}
}

func runStats(ctx context.Context, maintenance *service.Maintenance) error {
	stats, err := maintenance.Stats(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "total\t%d\n", stats.Total)
	for _, status := range []domain.Status{domain.StatusPending, domain.StatusDelivered, domain.StatusAbandoned} {
		fmt.Fprintf(w, "%s\t%d\n", status, stats.ByStatus[status])
	}
	fmt.Fprintf(w, "last hour\t%d\n", stats.LastHour)
	if stats.OldestPendingAt != nil {
		fmt.Fprintf(w, "oldest pending\t%s\n", stats.OldestPendingAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}

func runList(ctx context.Context, fetch func() ([]domain.Event, error)) error {
	events, err := fetch()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVALUE\tSTATUS\tATTEMPTS\tCREATED\tLAST ERROR")
	for _, e := range events {
		lastError := ""
		if e.LastError != nil {
			lastError = *e.LastError
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Value, e.Status, e.AttemptCount,
			e.CreatedAt.UTC().Format(time.RFC3339), lastError,
		)
	}
	return w.Flush()
}

func runRetry(ctx context.Context, maintenance *service.Maintenance, includeAbandoned bool, eventID int64) error {
	filter := repository.ForceRetryFilter{IncludeAbandoned: includeAbandoned}
	if eventID > 0 {
		filter.EventID = &eventID
	}

	affected, err := maintenance.ForceRetry(ctx, filter)
	if err != nil {
		return err
	}
	fmt.Printf("re-armed %d event(s) for retry\n", affected)
	return nil
}

func runCleanup(ctx context.Context, maintenance *service.Maintenance, days int) error {
	purged, err := maintenance.Cleanup(ctx, days)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d delivered event(s) older than %d day(s)\n", purged, days)
	return nil
}

func runExport(ctx context.Context, maintenance *service.Maintenance, out string) error {
	dest := os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		dest = f
	}

	exported, err := maintenance.ExportCSV(ctx, dest)
	if err != nil {
		return err
	}
	if out != "" {
		fmt.Printf("exported %d event(s) to %s\n", exported, out)
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "tagrelayctl: "+format+"\n", args...)
	os.Exit(1)
}
