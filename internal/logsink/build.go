package logsink

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/webhook"
)

// Persistent returns the sinks that durably record entries: the JSON-lines
// file, the request_logs table and the webhook, each only when configured.
// db may be nil when cfg.Database is false.
func Persistent(ctx context.Context, cfg config.LogConfig, hook config.WebhookConfig, db *sql.DB, driver string) (*Multi, error) {
	m := NewMulti()
	if cfg.Path != "" {
		m.Add("file", NewFile(cfg.Path))
	}
	if cfg.Database {
		if db == nil {
			return nil, errors.New("database log sink requires an open database")
		}
		sqlSink, err := NewSQL(ctx, db, driver)
		if err != nil {
			return nil, err
		}
		m.Add("sql", sqlSink)
	}
	if hook.URL != "" {
		m.Add("webhook", NewWebhook(webhook.NewClient(webhook.Config{
			URL:           hook.URL,
			SigningSecret: hook.Secret,
			MaxAttempts:   hook.MaxAttempts,
		})))
	}
	return m, nil
}
