package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"codex/api/internal/app"
	"codex/api/internal/auth"
	"codex/api/internal/config"
	"codex/api/internal/email"
	"codex/api/internal/export"
	"codex/api/internal/history"
	"codex/api/internal/search"
	"codex/api/internal/session"
	"codex/api/internal/store"
	"github.com/sirupsen/logrus"
)

// runtime holds the opened connections behind an app.Service.
type runtime struct {
	cfg     config.Config
	log     *logrus.Logger
	db      *sql.DB
	service *app.Service
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// openRuntime connects to PostgreSQL and every optional backend that is
// configured. Redis is required only when sign-in is configured.
func openRuntime(ctx context.Context, cfg config.Config, log *logrus.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: log}

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return nil, err
	}
	rt.db = db
	rt.closers = append(rt.closers, func() { _ = db.Close() })

	deps := app.Deps{
		Store:          store.NewPostgresStore(db),
		SearchFallback: search.NewPgFTS(db),
		Log:            log,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = redisStore.Close() })
		deps.Sessions = redisStore
		provider := auth.NewProvider(cfg.AuthProviderURL, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthRedirectURI)
		if provider.Configured() {
			deps.Provider = provider
		} else {
			log.Warn("OAUTH_CLIENT_ID not set; sign-in disabled")
		}
	} else {
		log.Warn("REDIS_URL not set; sign-in disabled")
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		rt.closers = append(rt.closers, meili.Close)
		deps.SearchEngine = meili
	}

	if strings.TrimSpace(cfg.HistoryDir) != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			rt.Close()
			return nil, fmt.Errorf("create history dir: %w", err)
		}
		deps.History = history.New(cfg.HistoryDir)
	}

	if strings.TrimSpace(cfg.ExportBucket) != "" {
		archiver, err := export.NewMinioArchiver(cfg.ExportEndpoint, cfg.ExportAccessKey, cfg.ExportSecretKey, cfg.ExportBucket, cfg.ExportUseSSL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.WithError(err).Warn("export bucket unavailable; archiving will fail until it is reachable")
		}
		deps.Archiver = archiver
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Notifier = email.NewNotifier(mailer, cfg.PublicBaseURL, log).WithModerators(cfg.AdminEmails)
	}

	service, err := app.New(cfg, deps)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = service
	rt.closers = append(rt.closers, service.Close)
	return rt, nil
}
