package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"carbon-reports/internal/app"
	"carbon-reports/internal/cli"
	"carbon-reports/internal/config"
)

func main() {
	if err := cli.BuildCLI(open).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func open(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*cli.Backend, error) {
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &cli.Backend{
		Reports: a.Manager,
		Runner:  a.Processor(app.WorkerID()),
		Migrate: a.Store.RunMigrations,
		Close:   a.Close,
	}, nil
}
