package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"power-dialer/internal/audit"
	"power-dialer/internal/calls"
	"power-dialer/internal/config"
	"power-dialer/internal/dialer"
	"power-dialer/internal/disposition"
	"power-dialer/internal/events"
	"power-dialer/internal/httpapi"
	"power-dialer/internal/leads"
	"power-dialer/internal/queue"
	"power-dialer/internal/routing"
	"power-dialer/internal/scheduler"
	"power-dialer/internal/session"
	"power-dialer/internal/telephony"

	"github.com/redis/go-redis/v9"
)

// app holds the wired services of one API node.
type app struct {
	cfg config.Config
	log *slog.Logger

	hub      *events.Hub
	relay    *events.RedisRelay
	sessions *session.Manager
	dialer   *dialer.Coordinator
	jobs     *scheduler.Client

	handlers *httpapi.Handlers
	webhooks telephony.TwilioWebhookHandler
	limiter  *httpapi.RepRateLimiter
}

func newApp(cfg config.Config, db *sql.DB, rdb *redis.Client, log *slog.Logger) (*app, error) {
	leadRepo := leads.NewPostgresRepo(db)
	legRepo := calls.NewPostgresRepo(db)
	dispRepo := disposition.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	hub := events.NewHub(events.HubConfig{
		Buffer:      cfg.Events.Buffer,
		Heartbeat:   cfg.Events.Heartbeat,
		MissedLimit: cfg.Events.MissedLimit,
	}, log)
	relay := events.NewRedisRelay(rdb, hub, cfg.Events.Channel, cfg.App.NodeID, log)

	sessions := session.NewManager(session.Config{
		StaleAfter:   cfg.Session.StaleAfter,
		ReplaceStale: cfg.Session.ReplaceStale,
		IdleTimeout:  cfg.Session.IdleTimeout,
		SweepEvery:   cfg.Session.SweepEvery,
	}, session.NewPostgresRepo(db), session.NewRedisOwner(rdb, cfg.App.NodeID, cfg.Session.LeaseTTL), relay, log)

	jobs := scheduler.NewClient(cfg)
	dispositions := disposition.NewEngine(disposition.Config{MissedGrace: cfg.Scheduler.MissedGrace},
		dispRepo, legRepo, leadRepo, sessions, jobs, relay, log)

	provider, tokens, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	var numbers *telephony.NumberPool
	if cfg.Twilio.CallerIDs != "" {
		numbers, err = telephony.ParseNumberPool(cfg.Twilio.CallerIDs, cfg.App.DefaultRegion)
		if err != nil {
			return nil, fmt.Errorf("caller id pool: %w", err)
		}
	}

	coord := dialer.New(dialer.Config{
		RingWindow:     cfg.Dialer.RingWindow,
		MaxLegs:        cfg.Dialer.MaxLegs,
		OrphanTTL:      cfg.Dialer.OrphanEventTTL,
		CommandTimeout: cfg.Dialer.CommandTimeout,
		VoicemailURL:   cfg.Twilio.VoicemailDropURL,
		Region:         cfg.App.DefaultRegion,
	}, dialer.Deps{
		Provider:  provider,
		Legs:      legRepo,
		Sessions:  sessions,
		Disposer:  dispositions,
		Numbers:   numbers,
		Lines:     dialer.NewRedisLineLimiter(rdb, cfg.Dialer.MaxLegs, cfg.Dialer.LineLeaseTTL),
		Audit:     auditSvc,
		Publisher: relay,
	}, log)
	dispositions.SetVoicemailDropper(coord)
	sessions.SetCallActivity(coord)

	// Ending a session terminalizes whatever the coordinator still holds for it.
	sessions.OnEnd(func(s session.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Dialer.CommandTimeout)
		defer cancel()
		if err := coord.CloseSession(ctx, s.ID); err != nil {
			log.Warn("close session legs failed", "session_id", s.ID, "err", err)
		}
	})

	overflow, err := routing.ParseWeightedDestinations(cfg.Routing.Overflow)
	if err != nil {
		return nil, err
	}
	re := routing.NewRoutingEngine(leadRepo, sessions, coord, rand.New(rand.NewSource(time.Now().UnixNano())))
	re.Overflow = overflow
	re.Region = cfg.App.DefaultRegion
	router := routing.NewEngineAdapter(re, routing.AdapterOptions{
		Dialer:    coord,
		Publisher: relay,
		Audit:     &routing.AuditAdapter{Audit: auditSvc},
		Log:       log,
	})

	return &app{
		cfg:      cfg,
		log:      log,
		hub:      hub,
		relay:    relay,
		sessions: sessions,
		dialer:   coord,
		jobs:     jobs,
		handlers: httpapi.NewHandlers(httpapi.Handlers{
			Sessions:     sessions,
			Dialer:       coord,
			Dispositions: dispositions,
			Queue:        queue.NewBuilder(leadRepo, dispRepo),
			Leads:        leadRepo,
			Legs:         legRepo,
			Hub:          hub,
			Tokens:       tokens,
		}),
		webhooks: telephony.TwilioWebhookHandler{
			Legs:               coord,
			Inbound:            router,
			AuthToken:          cfg.Twilio.AuthToken,
			ValidateSignatures: cfg.Twilio.ValidateSignatures,
			PublicBaseURL:      cfg.Twilio.PublicBaseURL,
		},
		limiter: httpapi.NewRepRateLimiter(cfg.RateLimit.DialPerMinute, cfg.RateLimit.DialBurst, log),
	}, nil
}

// newProvider returns Twilio when credentials are configured and the
// in-process loopback provider otherwise. Device tokens need the API key pair.
func newProvider(cfg config.Config) (telephony.Provider, *telephony.DeviceTokens, error) {
	if !cfg.TwilioEnabled() {
		return telephony.NewLoopbackProvider(), nil, nil
	}
	provider, err := telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID:        cfg.Twilio.AccountSID,
		AuthToken:         cfg.Twilio.AuthToken,
		StatusCallbackURL: cfg.Twilio.PublicBaseURL + "/webhooks/twilio/status",
		HoldMusicURL:      cfg.Twilio.HoldMusicURL,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Twilio.APIKeySID == "" || cfg.Twilio.APIKeySecret == "" {
		return provider, nil, nil
	}
	tokens, err := telephony.NewDeviceTokens(telephony.DeviceTokenConfig{
		AccountSID:   cfg.Twilio.AccountSID,
		APIKeySID:    cfg.Twilio.APIKeySID,
		APIKeySecret: cfg.Twilio.APIKeySecret,
		TwiMLAppSID:  cfg.Twilio.TwiMLAppSID,
		TTL:          cfg.Twilio.DeviceTokenTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	return provider, tokens, nil
}
