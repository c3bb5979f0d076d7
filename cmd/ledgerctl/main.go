// cmd/ledgerctl/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"contract-service/config"
	"contract-service/internal/app"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cliApp := &cli.App{
		Name:  "ledgerctl",
		Usage: "operate the contract ledger: migrations, reconciliation and balance audits",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log at debug level"},
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "apply pending schema migrations",
				Action: withApp(migrate),
			},
			{
				Name:  "reconcile",
				Usage: "resolve stale payment attempts and apply owed credits",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "stale-after", Value: 2 * time.Minute, Usage: "only attempts idle longer than this"},
					&cli.IntFlag{Name: "limit", Value: 500, Usage: "maximum attempts per pass"},
				},
				Action: withApp(reconcile),
			},
			{
				Name:  "audit-balance",
				Usage: "recompute a contributor balance from credits and withdrawals",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "contributor", Required: true, Usage: "contributor external id"},
				},
				Action: withApp(auditBalance),
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func withApp(fn func(c *cli.Context, a *app.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		zcfg := zap.NewProductionConfig()
		if c.Bool("verbose") {
			zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		logger, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer logger.Sync()

		cfg, err := config.Load(logger)
		if err != nil {
			return err
		}
		a, err := app.Build(c.Context, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(c, a)
	}
}

func migrate(c *cli.Context, a *app.App) error {
	n, err := a.Migrate(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("applied %d migration(s)\n", n)
	return nil
}

func reconcile(c *cli.Context, a *app.App) error {
	ctx, cancel := context.WithTimeout(c.Context, 5*time.Minute)
	defer cancel()

	report, err := a.Payments.ReconcileStale(ctx, time.Now().Add(-c.Duration("stale-after")), c.Int("limit"))
	if report != nil {
		printJSON(report)
	}
	return err
}

func auditBalance(c *cli.Context, a *app.App) error {
	audit, err := a.Payments.AuditBalance(c.Context, c.String("contributor"))
	if err != nil {
		return err
	}
	printJSON(audit)
	if !audit.OK() {
		return cli.Exit("balance does not match the ledger", 2)
	}
	return nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
