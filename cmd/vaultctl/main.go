/*
vaultctl is the memory vault's admin CLI: inspect a user's vault stats,
export or delete their data, and trigger scheduler passes out of band.
Grounded on the teacher's cmd/migrateprojects (flag-parsed subcommand with
a usage header, connecting the same collaborators a long-running daemon
would).

Usage:

	vaultctl stats -user <id>
	vaultctl export -user <id>
	vaultctl delete -user <id> -yes
	vaultctl trigger -pass synthesis|utility|orphan
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"osqr/internal/observability"
	"osqr/internal/vault"
	"osqr/internal/vconfig"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := vconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	observability.InitLogger("", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v := vault.FromConfig(ctx, cfg)

	switch os.Args[1] {
	case "stats":
		runStats(ctx, v, os.Args[2:])
	case "export":
		runExport(ctx, v, os.Args[2:])
	case "delete":
		runDelete(ctx, v, os.Args[2:])
	case "trigger":
		runTrigger(ctx, v, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vaultctl <stats|export|delete|trigger> [flags]")
}

func runStats(ctx context.Context, v *vault.Vault, args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	userID := fs.String("user", "", "vault user id")
	_ = fs.Parse(args)
	requireUser(fs, *userID)

	stats := v.GetVaultStats(ctx, *userID)
	printJSON(stats)
}

func runExport(ctx context.Context, v *vault.Vault, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	userID := fs.String("user", "", "vault user id")
	_ = fs.Parse(args)
	requireUser(fs, *userID)

	printJSON(v.ExportUserData(ctx, *userID))
}

func runDelete(ctx context.Context, v *vault.Vault, args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	userID := fs.String("user", "", "vault user id")
	confirm := fs.Bool("yes", false, "confirm irreversible deletion")
	_ = fs.Parse(args)
	requireUser(fs, *userID)
	if !*confirm {
		fmt.Fprintln(os.Stderr, "refusing to delete without -yes")
		os.Exit(2)
	}

	if err := v.DeleteUserData(ctx, *userID); err != nil {
		fmt.Fprintln(os.Stderr, "delete:", err)
		os.Exit(1)
	}
	fmt.Println("deleted")
}

func runTrigger(ctx context.Context, v *vault.Vault, args []string) {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	pass := fs.String("pass", "", "synthesis|utility|orphan")
	_ = fs.Parse(args)

	switch *pass {
	case "synthesis":
		v.TriggerSynthesisProcessing(ctx)
	case "utility":
		v.TriggerUtilityUpdate(ctx)
	case "orphan":
		v.TriggerOrphanCheck(ctx)
	default:
		fmt.Fprintln(os.Stderr, "unknown -pass:", *pass)
		os.Exit(2)
	}
	fmt.Println("triggered", *pass)
}

func requireUser(fs *flag.FlagSet, userID string) {
	if userID == "" {
		fmt.Fprintln(os.Stderr, "-user required")
		fs.Usage()
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
