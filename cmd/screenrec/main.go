package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/brollyhub/screenrec/internal/app"
	"github.com/brollyhub/screenrec/internal/cli"
	"github.com/brollyhub/screenrec/internal/config"
	"github.com/brollyhub/screenrec/internal/output"
)

func main() {
	var logger *zap.Logger

	deps := &cli.Dependencies{
		Load: func(configPath string) (*app.App, error) {
			cfg, err := config.Load(configPath)
			if err != nil {
				return nil, fmt.Errorf("loading config: %w", err)
			}

			logger, err = setupLogger(cfg.Logging)
			if err != nil {
				return nil, fmt.Errorf("setting up logger: %w", err)
			}

			application, err := app.New(cfg, logger)
			if err != nil {
				return nil, fmt.Errorf("initializing app: %w", err)
			}
			return application, nil
		},
	}

	err := cli.NewRootCmd(deps).Execute()
	if logger != nil {
		logger.Sync()
	}
	if err != nil {
		output.NewFormatter(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}
