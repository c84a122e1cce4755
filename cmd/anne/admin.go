package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spediresicuro/anne/internal/adapter/postgres"
	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/domain/provider"
)

// runMigrate dispatches migrate subcommands (up, down, version).
func runMigrate(args []string) error {
	sub := "up"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	switch sub {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Println("migrations applied")
	case "down":
		fs := flag.NewFlagSet("migrate down", flag.ContinueOnError)
		steps := fs.Int("steps", 1, "number of migrations to roll back")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *steps < 1 {
			return fmt.Errorf("--steps must be >= 1")
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
			return err
		}
		fmt.Printf("rolled back %d migration(s)\n", *steps)
	case "version":
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Println(strconv.FormatInt(v, 10))
	default:
		printHelp()
		return fmt.Errorf("unknown migrate command: %s", sub)
	}
	return nil
}

// runResolve prints the provider and model that would serve a role, using
// the same lookup order as the server: environment first, then YAML
// overrides.
func runResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	role := fs.String("role", "", "agent role, e.g. supervisor (required)")
	dom := fs.String("domain", "", "request domain, e.g. pricing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *role == "" {
		fs.Usage()
		return fmt.Errorf("--role is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lookup := provider.Layered(provider.EnvLookup(), provider.MapLookup(cfg.Provider.Overrides))
	res := provider.Resolve(lookup, *role, *dom)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tDOMAIN\tPROVIDER\tSOURCE\tMODEL\tSOURCE")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", res.Role, res.Domain, res.Provider, res.ProviderSource, res.Model, res.ModelSource)
	return w.Flush()
}
