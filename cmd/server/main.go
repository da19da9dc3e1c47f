// Command server wires the notification custody engine: stores, integrity
// providers, delivery channels, domain services and the HTTP router.
// Business logic lives in the internal services; this file only assembles
// and supervises them.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custodia/internal/audit"
	"custodia/internal/blob"
	"custodia/internal/convenio"
	"custodia/internal/delivery"
	"custodia/internal/descargo"
	"custodia/internal/evidence"
	"custodia/internal/export"
	"custodia/internal/gate"
	"custodia/internal/integrity"
	"custodia/internal/notice"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/metrics"
	"custodia/internal/platform/postgres"
	"custodia/internal/platform/redis"
	"custodia/internal/tracking"
	httptransport "custodia/internal/transport/http"
	"custodia/internal/witness"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)
	m := metrics.New()

	// Relational store. Without a DSN every store runs in memory, which is
	// enough for local development and the test suites.
	var db *sql.DB
	if cfg.Postgres.DSN != "" {
		var err error
		db, err = postgres.Open(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("postgres connected")
	} else {
		log.Warn("no postgres DSN, using in-memory stores")
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		log.Info("redis connected")
	}

	blobs, err := buildBlobStore(cfg.Blob, log)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	auditor := audit.NewPublisher(buildAuditStore(db), audit.WithLogger(log))

	stamper := buildStamper(cfg.Integrity, log)

	dispatcher := delivery.NewDispatcher(auditor, buildProviders(cfg.Delivery, log),
		delivery.WithLogger(log))

	gates := gate.NewService(
		buildGateSessions(db),
		buildOTPStore(redisClient),
		buildDirectory(db),
		&smsCodeSender{provider: providerFor(delivery.ChannelSMS, cfg.Delivery, log)},
		auditor,
		gate.WithLogger(log),
		gate.WithPolicy(gate.Policy{
			MaxIdentifierAttempts: cfg.Gate.MaxIdentifierAttempts,
			OTPLength:             cfg.Gate.OTPLength,
			OTPTTL:                cfg.Gate.OTPTTL,
			MaxOTPAttempts:        cfg.Gate.MaxOTPAttempts,
			TokenLifetime:         cfg.Gate.TokenLifetime,
			BiometricApproveAt:    cfg.Biometric.ApproveThreshold,
			BiometricReviewAt:     cfg.Biometric.ReviewThreshold,
		}),
		gate.WithMetrics(m),
		buildBiometricOption(cfg.Biometric),
	)

	tracker := tracking.NewService(
		buildTrackingSessions(redisClient, cfg.Tracking.SessionTTL),
		auditor,
		tracking.WithLogger(log),
		tracking.WithPolicy(tracking.Policy{
			MinScrollPct:   cfg.Tracking.MinScrollPct,
			MinDwell:       cfg.Tracking.MinDwell,
			WordsPerMinute: cfg.Tracking.WordsPerMinute,
		}),
	)

	convenios := convenio.NewService(buildConvenioStore(db), convenio.WithLogger(log))

	descargos := descargo.NewService(buildDescargoStore(db), gates, auditor,
		descargo.WithLogger(log),
		descargo.WithWindowDays(cfg.Descargo.WindowDays),
	)

	notices := notice.NewService(buildNoticeStore(db), stamper, gates, tracker,
		convenios, dispatcher, descargos, auditor, cfg.Server.BaseURL,
		notice.WithLogger(log),
		notice.WithPolicy(notice.Policy{
			StatutoryWindowDays:  cfg.Notice.StatutoryWindowDays,
			ApproachingDueDays:   cfg.Notice.ApproachingDueDays,
			UpcomingDays:         cfg.Notice.UpcomingDays,
			PhysicalFallbackDays: cfg.Notice.PhysicalFallbackDays,
			MaxChallengeAttempts: cfg.Notice.MaxChallengeAttempts,
			ChallengeMaxDistance: cfg.Notice.ChallengeMaxDistance,
		}),
		notice.WithMetrics(m),
	)

	evidences := evidence.NewService(buildEvidenceStore(db), blobs, auditor,
		evidence.WithLogger(log))

	witnesses := witness.NewService(buildWitnessStore(db),
		&emailInviteSender{provider: providerFor(delivery.ChannelEmail, cfg.Delivery, log)},
		auditor, cfg.Server.BaseURL,
		witness.WithLogger(log),
	)

	exporter := export.NewBuilder(notices, auditor, evidences, witnesses, descargos,
		export.WithLogger(log), export.WithMetrics(m))
	verifier := export.NewVerifier(buildAuditStore(db))

	handler := httptransport.NewHandler(notices, gates, tracker, witnesses,
		evidences, descargos, convenios, exporter, verifier, auditor,
		httptransport.WithLogger(log), httptransport.WithMetrics(m))
	router := httptransport.NewRouter(handler, httptransport.RouterConfig{
		JWTSigningKey: cfg.Server.JWTSigningKey,
		AdminToken:    cfg.Server.AdminToken,
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildStamper assembles the TSA fallback chain and the optional ledger
// notary. An empty chain still works: stamps come back degraded and the
// export surfaces that state.
func buildStamper(cfg config.Integrity, log *slog.Logger) *integrity.Service {
	authorities := make([]integrity.TimeAuthority, 0, len(cfg.TSAEndpoints))
	for i, endpoint := range cfg.TSAEndpoints {
		name := fmt.Sprintf("tsa-%d", i+1)
		authorities = append(authorities,
			integrity.NewHTTPAuthority(name, endpoint, cfg.TSATimeout))
	}
	opts := []integrity.ServiceOption{integrity.WithLogger(log)}
	if cfg.NotaryURL != "" {
		opts = append(opts, integrity.WithNotary(
			integrity.NewHTTPNotary("ledger", cfg.NotaryURL, cfg.NotaryTimeout)))
	}
	return integrity.NewService(integrity.NewFallbackChain(authorities...), opts...)
}

func buildBlobStore(cfg config.Blob, log *slog.Logger) (blob.Store, error) {
	if cfg.Bucket == "" {
		log.Warn("no blob bucket, using in-memory blob store")
		return blob.NewInMemoryStore(), nil
	}
	return blob.NewS3Store(context.Background(), blob.S3Config{
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
}

// buildProviders returns one provider per channel, HTTP-backed where an
// endpoint is configured and logging otherwise.
func buildProviders(cfg config.Delivery, log *slog.Logger) []delivery.Provider {
	return []delivery.Provider{
		providerFor(delivery.ChannelEmail, cfg, log),
		providerFor(delivery.ChannelSMS, cfg, log),
		providerFor(delivery.ChannelWhatsApp, cfg, log),
	}
}

func providerFor(channel delivery.Channel, cfg config.Delivery, log *slog.Logger) delivery.Provider {
	var endpoint string
	switch channel {
	case delivery.ChannelEmail:
		endpoint = cfg.EmailEndpoint
	case delivery.ChannelSMS:
		endpoint = cfg.SMSEndpoint
	case delivery.ChannelWhatsApp:
		endpoint = cfg.WhatsAppEndpoint
	}
	if endpoint == "" {
		return delivery.NewLogProvider(channel, log)
	}
	return delivery.NewHTTPProvider(channel, endpoint, cfg.APIKey, cfg.Timeout)
}

func buildBiometricOption(cfg config.Biometric) gate.ServiceOption {
	if cfg.ProviderURL == "" {
		return func(*gate.Service) {}
	}
	return gate.WithBiometricProvider(
		gate.NewHTTPBiometricProvider(cfg.ProviderURL, "", cfg.Timeout))
}

func buildAuditStore(db *sql.DB) interface {
	audit.Store
	audit.DigestIndex
} {
	if db != nil {
		return audit.NewPostgres(db)
	}
	return audit.NewInMemoryStore()
}

func buildNoticeStore(db *sql.DB) notice.Store {
	if db != nil {
		return notice.NewPostgres(db)
	}
	return notice.NewInMemoryStore()
}

func buildGateSessions(db *sql.DB) gate.SessionStore {
	if db != nil {
		return gate.NewPostgres(db)
	}
	return gate.NewInMemorySessionStore()
}

func buildOTPStore(redisClient *redis.Client) gate.OTPStore {
	if redisClient != nil {
		return gate.NewRedisOTPStore(redisClient)
	}
	return gate.NewInMemoryOTPStore()
}

func buildDirectory(db *sql.DB) gate.Directory {
	if db != nil {
		return gate.NewPostgresDirectory(db)
	}
	return gate.NewInMemoryDirectory()
}

func buildTrackingSessions(redisClient *redis.Client, ttl time.Duration) tracking.SessionStore {
	if redisClient != nil {
		return tracking.NewRedisSessionStore(redisClient, ttl)
	}
	return tracking.NewInMemorySessionStore()
}

func buildConvenioStore(db *sql.DB) convenio.Store {
	if db != nil {
		return convenio.NewPostgres(db)
	}
	return convenio.NewInMemoryStore()
}

func buildDescargoStore(db *sql.DB) descargo.Store {
	if db != nil {
		return descargo.NewPostgres(db)
	}
	return descargo.NewInMemoryStore()
}

func buildEvidenceStore(db *sql.DB) evidence.Store {
	if db != nil {
		return evidence.NewPostgres(db)
	}
	return evidence.NewInMemoryStore()
}

func buildWitnessStore(db *sql.DB) witness.Store {
	if db != nil {
		return witness.NewPostgres(db)
	}
	return witness.NewInMemoryStore()
}

// smsCodeSender delivers one-time codes over the SMS channel gateway.
type smsCodeSender struct {
	provider delivery.Provider
}

func (s *smsCodeSender) SendCode(ctx context.Context, phone, code string) error {
	return s.provider.Send(ctx, phone, delivery.Message{
		Subject: "Código de verificación: " + code,
	})
}

// emailInviteSender delivers witness access links over the email gateway.
type emailInviteSender struct {
	provider delivery.Provider
}

func (s *emailInviteSender) SendInvite(ctx context.Context, email, fullName, link string) error {
	return s.provider.Send(ctx, email, delivery.Message{
		Subject:    "Declaración testimonial pendiente",
		Greeting:   fullName,
		AccessLink: link,
	})
}
