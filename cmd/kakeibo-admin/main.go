// Command kakeibo-admin runs maintenance tasks against the shared ledger
// image: export, import, balance recalculation and stats.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"kakeibo/internal/cli"
	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/report"
	"kakeibo/internal/snapshot"
)

const usage = `usage: kakeibo-admin <command> [flags]

commands:
  export -o FILE         write the current ledger image to FILE ("-" for stdout)
  import -i FILE         replace the stored ledger with the image in FILE
  recalc [-dry-run]      rebuild account balances from transactions
  stats -user ID [-month YYYY-MM]
                         print period stats for a user as JSON
  report -user ID -o FILE
                         write a user's transactions as an xlsx workbook
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL")).WithComponent(applog.ComponentAdmin)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	rt, err := cli.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}

	err = run(ctx, rt, os.Args[1], os.Args[2:], os.Stdout)
	if cerr := rt.Close(); cerr != nil {
		logger.Warn("Failed to release runtime", "error", cerr)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, rt *cli.Runtime, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "export":
		return runExport(ctx, rt, args, out)
	case "import":
		return runImport(ctx, rt, args)
	case "recalc":
		return runRecalc(ctx, rt, args, out)
	case "stats":
		return runStats(ctx, rt, args, out)
	case "report":
		return runReport(ctx, rt, args, out)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runExport(ctx context.Context, rt *cli.Runtime, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	path := fs.String("o", "", "output file, - for stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("export: -o is required")
	}

	image, err := rt.Manager.Export(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if *path == "-" {
		_, err = out.Write(image)
		return err
	}
	if err := os.WriteFile(*path, image, 0o600); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	rt.Logger.Info("Ledger exported",
		applog.FieldOperation, applog.OpExport,
		"path", *path,
		applog.FieldRevision, rt.Manager.Revision(),
		"image_bytes", len(image))
	return nil
}

func runImport(ctx context.Context, rt *cli.Runtime, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	path := fs.String("i", "", "ledger image to import")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("import: -i is required")
	}

	image, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	if err := snapshot.ValidateImage(image); err != nil {
		return fmt.Errorf("import %s: %w", *path, err)
	}
	if err := rt.Manager.Import(ctx, image); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	rt.Logger.Info("Ledger imported",
		applog.FieldOperation, applog.OpImport,
		"path", *path,
		applog.FieldRevision, rt.Manager.Revision(),
		"image_bytes", len(image))
	return nil
}

func runRecalc(ctx context.Context, rt *cli.Runtime, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("recalc", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "only report accounts whose balance drifted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	check := rt.Ledger.Recalculate
	if *dryRun {
		check = rt.Ledger.CheckBalances
	}
	drift, err := check(ctx)
	if err != nil {
		return fmt.Errorf("recalc: %w", err)
	}
	for _, d := range drift {
		fmt.Fprintf(out, "%s\tstored=%d\tledger=%d\n", d.AccountID, d.Stored, d.Ledger)
	}
	rt.Logger.Info("Balances checked",
		applog.FieldOperation, applog.OpRecalculate,
		"dry_run", *dryRun,
		"drifted_accounts", len(drift))
	return nil
}

func runStats(ctx context.Context, rt *cli.Runtime, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	month := fs.String("month", "", "month as YYYY-MM, default current")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("stats: -user is required")
	}

	st, err := rt.Ledger.PeriodStats(ctx, *user, *month)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func runReport(ctx context.Context, rt *cli.Runtime, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	path := fs.String("o", "", "output file, - for stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *path == "" {
		return errors.New("report: -user and -o are required")
	}

	var views []core.TransactionView
	page := core.Page{Limit: core.MaxPageLimit}
	for {
		batch, err := rt.Ledger.ListTransactions(ctx, *user, page)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		views = append(views, batch...)
		if len(batch) < page.Limit {
			break
		}
		page.Offset += len(batch)
	}

	loc, err := rt.Config.Location()
	if err != nil {
		return err
	}
	if *path == "-" {
		return report.WriteXLSX(out, views, loc)
	}
	f, err := os.OpenFile(*path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := report.WriteXLSX(f, views, loc); err != nil {
		f.Close()
		return fmt.Errorf("report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	rt.Logger.Info("Transaction report written",
		applog.FieldUserID, *user,
		"path", *path,
		"transactions", len(views))
	return nil
}
