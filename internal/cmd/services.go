package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/stagecue/stagecue/internal/broadcast"
	"github.com/stagecue/stagecue/internal/gateway"
	"github.com/stagecue/stagecue/internal/httpapi"
	"github.com/stagecue/stagecue/internal/session"
)

// Services holds the wired application components
type Services struct {
	SessionApp *session.App
	Gateway    *gateway.Service
	Publisher  *broadcast.JetStreamPublisher
	HTTPAPI    *httpapi.Handler
}

func setupServices(ctx context.Context, pool *pgxpool.Pool, config *Config) (*Services, error) {
	// Broadcast publisher ensures the stream exists before the gateway's
	// consumer binds to it.
	pubCfg := broadcast.DefaultJetStreamConfig()
	pubCfg.URL = config.natsURL()
	pubCfg.StreamName = config.natsStream()
	publisher, err := broadcast.NewJetStreamPublisher(pubCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast publisher: %w", err)
	}

	repo := session.NewRepository(pool)
	scopes := session.NewScopeRegistry(ctx)
	app := session.NewApp(repo, publisher, scopes, clockwork.NewRealClock())

	gwCfg := gateway.DefaultConfig()
	gwCfg.JetStreamConfig.URL = config.natsURL()
	gwCfg.JetStreamConfig.StreamName = config.natsStream()
	gwCfg.ConnectionConfig.PingInterval = config.pingInterval()
	gwCfg.ConnectionConfig.ReadTimeout = config.readTimeout()
	gw, err := gateway.NewService(gwCfg)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &Services{
		SessionApp: app,
		Gateway:    gw,
		Publisher:  publisher,
		HTTPAPI:    httpapi.NewHandler(app),
	}, nil
}
