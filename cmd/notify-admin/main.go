// Command notify-admin is the operator surface for the notification
// outbox: inspect dead-lettered entries, requeue them after the underlying
// problem is fixed, and cancel pending notifications.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/eventra/notify-outbox/pkg/config"
	"github.com/eventra/notify-outbox/pkg/store"
)

const exitUsage = 2

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: notify-admin <command> [flags]

Commands:
  init     Create the outbox table and indexes (postgres)
  dead     List dead-lettered entries with their last error
  requeue  Return a dead-lettered entry to the pending queue
  cancel   Cancel pending entries by id or by related entity

Run "notify-admin <command> -h" for command flags.
`)
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(ctx, os.Args[2:])
	case "dead":
		err = runDead(ctx, os.Args[2:])
	case "requeue":
		err = runRequeue(ctx, os.Args[2:])
	case "cancel":
		err = runCancel(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(exitUsage)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func openStore(ctx context.Context, configPath string) (store.OutboxStore, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return store.NewStore(ctx, cfg.Database)
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", ".", "Directory containing notify.yaml")
	fs.Parse(args)

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Database.Type != "postgres" {
		return fmt.Errorf("init only supports postgres, configured type is %q", cfg.Database.Type)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, store.PostgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	fmt.Println("outbox schema applied")
	return nil
}

func runDead(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dead", flag.ExitOnError)
	configPath := fs.String("config", ".", "Directory containing notify.yaml")
	limit := fs.Int("limit", 50, "Maximum entries to list")
	fs.Parse(args)

	st, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}

	entries, err := st.ListDeadLettered(ctx, *limit)
	if err != nil {
		return fmt.Errorf("list dead-lettered entries: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("no dead-lettered entries")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  %-26s  %-30s  attempts=%d  updated=%s\n    %s\n",
			e.ID, e.Type, e.Recipient, e.RetryCount,
			e.UpdatedAt.Format("2006-01-02 15:04:05"), e.LastError)
	}
	fmt.Printf("%d entries\n", len(entries))
	return nil
}

func runRequeue(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("requeue", flag.ExitOnError)
	configPath := fs.String("config", ".", "Directory containing notify.yaml")
	idArg := fs.String("id", "", "Entry id to requeue")
	fs.Parse(args)

	id, err := uuid.Parse(*idArg)
	if err != nil {
		return fmt.Errorf("invalid -id: %w", err)
	}

	st, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}

	if err := st.Requeue(ctx, id); err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}
	fmt.Printf("entry %s requeued\n", id)
	return nil
}

func runCancel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	configPath := fs.String("config", ".", "Directory containing notify.yaml")
	idArg := fs.String("id", "", "Entry id to cancel")
	entityArg := fs.String("entity", "", "Cancel all pending entries for this related entity id")
	fs.Parse(args)

	if (*idArg == "") == (*entityArg == "") {
		return fmt.Errorf("exactly one of -id or -entity is required")
	}

	st, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}

	if *idArg != "" {
		id, err := uuid.Parse(*idArg)
		if err != nil {
			return fmt.Errorf("invalid -id: %w", err)
		}
		if err := st.Cancel(ctx, id); err != nil {
			return fmt.Errorf("cancel %s: %w", id, err)
		}
		fmt.Printf("entry %s cancelled\n", id)
		return nil
	}

	entityID, err := uuid.Parse(*entityArg)
	if err != nil {
		return fmt.Errorf("invalid -entity: %w", err)
	}
	cancelled, err := st.CancelByRelatedEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("cancel entries for %s: %w", entityID, err)
	}
	fmt.Printf("%d entries cancelled\n", cancelled)
	return nil
}
