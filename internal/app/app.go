package app

import (
	"context"
	"fmt"
	"time"

	"github.com/brollyhub/screenrec/internal/config"
	"github.com/brollyhub/screenrec/internal/metrics"
	"github.com/brollyhub/screenrec/internal/notify"
	"github.com/brollyhub/screenrec/internal/storage"
	"go.uber.org/zap"
)

// App holds the long-lived collaborators shared by every command.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Archive is nil when archiving is disabled.
	Archive storage.Archive
	Webhook *notify.Webhook
}

func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		Webhook: notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeout, logger),
	}

	if cfg.Archive.Enabled {
		archive, err := storage.NewS3Archive(storage.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Bucket:    cfg.Archive.Bucket,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseSSL:    cfg.Archive.UseSSL,
			Region:    cfg.Archive.Region,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive: %w", err)
		}
		a.Archive = archive
	}

	return a, nil
}

// ArchiveHealth checks the archive bucket. It returns nil when archiving
// is disabled.
func (a *App) ArchiveHealth(ctx context.Context) error {
	if a.Archive == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return a.Archive.Health(ctx)
}

// RemoteRecordings lists archived sessions, newest first.
func (a *App) RemoteRecordings(ctx context.Context) ([]storage.RemoteRecording, error) {
	if a.Archive == nil {
		return nil, fmt.Errorf("archive is not enabled")
	}
	return a.Archive.ListRecordings(ctx)
}
