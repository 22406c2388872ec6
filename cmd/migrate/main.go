// Command migrate applies the messaging schema to PostgreSQL.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/campus/messaging/internal/infrastructure/config"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/campus/messaging/internal/infrastructure/migration"
	"github.com/campus/messaging/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var errUsage = errors.New("usage")

// command runs against an open migrator; list is the only one that does not
// need the database
type command struct {
	args  string
	help  string
	nargs int
	run   func(m *migration.Migrator, log *zap.Logger, args []string) error
}

var commands = map[string]command{
	"up": {help: "Apply all pending migrations", run: func(m *migration.Migrator, _ *zap.Logger, _ []string) error {
		return m.Up()
	}},
	"down": {help: "Roll back every migration", run: func(m *migration.Migrator, _ *zap.Logger, _ []string) error {
		return m.Down()
	}},
	"step": {args: "<n>", nargs: 1, help: "Apply n migrations, negative rolls back", run: func(m *migration.Migrator, _ *zap.Logger, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("step count %q: %w", args[0], err)
		}
		return m.Steps(n)
	}},
	"version": {help: "Show the applied schema version", run: func(m *migration.Migrator, log *zap.Logger, _ []string) error {
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		if version == 0 {
			log.Info("Schema is empty")
			return nil
		}
		log.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	}},
	"force": {args: "<version>", nargs: 1, help: "Mark a version as applied without running it", run: func(m *migration.Migrator, _ *zap.Logger, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("version %q: %w", args[0], err)
		}
		return m.Force(version)
	}},
}

func main() {
	path := flag.String("path", "", "Read migrations from this directory instead of the embedded set")
	level := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	log, err := logger.New(&logger.Config{Level: *level, Format: "console", Output: "stdout", TimeFormat: time.DateTime})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	err = run(flag.Args(), *path, log)
	logger.Sync(log)
	switch {
	case errors.Is(err, errUsage):
		printUsage()
		os.Exit(2)
	case err != nil:
		log.Error("Migration failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(args []string, path string, log *zap.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	var source fs.FS = migrations.FS
	if path != "" {
		source = os.DirFS(path)
	}

	name, rest := args[0], args[1:]
	if name == "list" {
		return list(source)
	}
	cmd, ok := commands[name]
	if !ok || len(rest) < cmd.nargs {
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("reach %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
	}

	m, err := migration.NewWithSource(db, source, log)
	if err != nil {
		return err
	}
	defer m.Close()

	log.Info("Running migration command", zap.String("command", name), zap.String("database", cfg.Database.DBName))
	return cmd.run(m, log, rest)
}

func list(source fs.FS) error {
	src, err := migration.OpenSource(source)
	if err != nil {
		return err
	}
	defer src.Close()

	versions, err := migration.Versions(src)
	if err != nil {
		return err
	}
	for _, v := range versions {
		fmt.Println(v)
	}
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-path dir] [-log-level level] <command> [argument]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	fmt.Fprintf(os.Stderr, "  %-18s %s\n", "list", "Print the available migration versions")
	for _, name := range []string{"up", "down", "step", "version", "force"} {
		cmd := commands[name]
		fmt.Fprintf(os.Stderr, "  %-18s %s\n", name+" "+cmd.args, cmd.help)
	}
}
