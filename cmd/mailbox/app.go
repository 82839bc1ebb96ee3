package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/vedran77/mailbox/internal/auth"
	"github.com/vedran77/mailbox/internal/cache"
	"github.com/vedran77/mailbox/internal/config"
	"github.com/vedran77/mailbox/internal/database"
	"github.com/vedran77/mailbox/internal/logger"
	"github.com/vedran77/mailbox/internal/notify"
	"github.com/vedran77/mailbox/internal/repository"
	postgresrepo "github.com/vedran77/mailbox/internal/repository/postgres"
	"github.com/vedran77/mailbox/internal/service"
	"github.com/vedran77/mailbox/internal/store"
	"github.com/vedran77/mailbox/internal/transport/ws"
	"go.uber.org/zap"
)

const relayTokenTTL = 24 * time.Hour

// app wires the synchronization core for one acting user.
type app struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	userID uuid.UUID

	pool     *pgxpool.Pool
	redis    *redis.Client
	kafka    *notify.KafkaNotifier
	store    *store.MessageStore
	users    service.IdentityLookup
	convRepo *postgresrepo.ConversationRepo
	msgRepo  *postgresrepo.MessageRepo
	index    *service.ConversationIndex
}

func newApp(ctx context.Context, userID uuid.UUID) (*app, error) {
	cfg := config.Load()
	log, err := logger.New(logger.Config{Development: cfg.LogDevelopment, Level: cfg.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		userID:   userID,
		pool:     pool,
		store:    store.New(),
		convRepo: postgresrepo.NewConversationRepo(pool),
		msgRepo:  postgresrepo.NewMessageRepo(pool),
	}

	var users service.IdentityLookup = postgresrepo.NewUserRepo(pool)
	if cfg.RedisURL != "" {
		cli, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Warnw("identity cache disabled", "error", err)
		} else {
			a.redis = cli
			users = cache.NewIdentityCache(cli, postgresrepo.NewUserRepo(pool), cfg.IdentityCacheTTL, log.Named("cache"))
		}
	}
	a.users = users

	if len(cfg.KafkaBrokers) > 0 {
		a.kafka = notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaNotifyTopic))
	}

	a.index = service.NewConversationIndex(a.store, a.convRepo, a.msgRepo, a.users, userID, log.Named("index"))
	return a, nil
}

// subscriber picks the push transport configured by PUSH_TRANSPORT.
func (a *app) subscriber() (repository.Subscriber, error) {
	switch a.cfg.PushTransport {
	case "postgres":
		return postgresrepo.NewListener(a.pool, a.cfg.NotifyChannel, a.log.Named("listener")), nil
	case "relay", "":
		token, err := auth.IssueToken(a.cfg.JWTSecret, a.userID, relayTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("issuing relay token: %w", err)
		}
		return ws.NewDialer(a.cfg.RelayURL, token, a.log.Named("relay")), nil
	default:
		return nil, fmt.Errorf("unknown PUSH_TRANSPORT %q", a.cfg.PushTransport)
	}
}

// notifier sends alerts to the terminal and the log and, when configured,
// to Kafka.
func (a *app) notifier(out io.Writer) service.Notifier {
	var extra []notify.Sink
	if a.kafka != nil {
		extra = append(extra, a.kafka)
	}
	return alertSinks(out, a.log.Named("notify"), extra...)
}

func alertSinks(out io.Writer, log *zap.SugaredLogger, extra ...notify.Sink) notify.Fanout {
	sinks := notify.Fanout{notify.NewTerminalNotifier(out), notify.NewLogNotifier(log)}
	return append(sinks, extra...)
}

func (a *app) acks() service.AckSource {
	return service.TimerAck{DeliveredAfter: a.cfg.AckDeliveredAfter, ReadAfter: a.cfg.AckReadAfter}
}

func (a *app) Close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.Warnw("closing kafka writer", "error", err)
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.pool.Close()
	_ = a.log.Sync()
}
