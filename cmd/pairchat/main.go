package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	authsvc "pairchat/internal/app/services/auth"
	chatsvc "pairchat/internal/app/services/chat"
	"pairchat/internal/app/session"
	domainauth "pairchat/internal/domain/auth"
	domainchat "pairchat/internal/domain/chat"
	"pairchat/internal/domain/user"
	"pairchat/internal/infra/broker/kafka"
	"pairchat/internal/infra/config"
	mongostore "pairchat/internal/infra/db/mongo"
	ginserver "pairchat/internal/infra/http/gin"
	"pairchat/internal/infra/obs"
	"pairchat/internal/infra/realtime"
	"pairchat/internal/infra/security"
	"pairchat/internal/infra/storage/memory"
	"pairchat/internal/infra/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("application init failed", "error", err)
		os.Exit(1)
	}
	defer app.close(logger)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: app.ready,
	}, app.handlers)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down", "connections", app.hub.Count())
		app.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "blobs", cfg.BlobDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type stores struct {
	users         user.Repository
	sessions      domainauth.SessionStore
	conversations domainchat.ConversationRepository
	messages      domainchat.MessageRepository
}

type application struct {
	handlers ginserver.Handlers
	hub      *realtime.Hub
	mongo    *mongostore.Client
	producer *kafka.Producer
	blobs    *s3.AttachmentStore
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{}

	repos, err := app.openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var attachments chatsvc.AttachmentStore
	var blobHandler ginserver.BlobHTTP
	switch cfg.BlobDriver {
	case config.DriverS3:
		store, err := s3.NewAttachmentStore(s3.Options{
			Endpoint:      cfg.S3Endpoint,
			UseSSL:        cfg.S3UseSSL,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicEndpoint,
		}, logger)
		if err != nil {
			app.close(logger)
			return nil, err
		}
		app.blobs = store
		attachments = store
	default:
		store := memory.NewBlobStore(cfg.BlobBaseURL)
		attachments = store
		blobHandler = ginserver.BlobHandler{Store: store}
	}

	var events chatsvc.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID)
		if err != nil {
			app.close(logger)
			return nil, err
		}
		app.producer = producer
		events = producer
		logger.Info("chat events enabled", "brokers", cfg.KafkaBrokers, "topic_prefix", cfg.KafkaTopicPrefix)
	}

	hub := realtime.NewHub(logger)
	hub.OnDrop = func(event string) {
		obs.EmitsDropped.WithLabelValues(event).Inc()
	}
	app.hub = hub

	directory := &session.Directory{Users: repos.users, Hub: hub, Logger: logger}
	presence := &chatsvc.Presence{Users: repos.users, Hub: hub, Logger: logger}
	unread := &chatsvc.Unread{
		Conversations: repos.conversations,
		Messages:      repos.messages,
		Directory:     directory,
		Logger:        logger,
	}
	resolver := &chatsvc.Resolver{
		Users:         repos.users,
		Conversations: repos.conversations,
		Messages:      repos.messages,
		Directory:     directory,
		Hub:           hub,
		Logger:        logger,
	}
	pipeline := &chatsvc.Pipeline{
		Conversations: repos.conversations,
		Messages:      repos.messages,
		Attachments:   attachments,
		Directory:     directory,
		Hub:           hub,
		Unread:        unread,
		Events:        events,
		TopicPrefix:   cfg.KafkaTopicPrefix,
		Logger:        logger,
	}
	receipts := &chatsvc.Receipts{
		Conversations: repos.conversations,
		Messages:      repos.messages,
		Hub:           hub,
		Unread:        unread,
		Events:        events,
		TopicPrefix:   cfg.KafkaTopicPrefix,
		Logger:        logger,
	}
	auth := &authsvc.Service{
		Users:      repos.users,
		Sessions:   repos.sessions,
		Passwords:  security.BcryptHasher{Cost: cfg.BcryptCost},
		Tokens:     security.RandomTokenGenerator{},
		Directory:  directory,
		Presence:   presence,
		Unread:     unread,
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}

	app.handlers = ginserver.Handlers{
		Socket: &ginserver.SocketHandler{
			Hub:             hub,
			Auth:            auth,
			Resolver:        resolver,
			Pipeline:        pipeline,
			Receipts:        receipts,
			Presence:        presence,
			Typing:          &chatsvc.Typing{Hub: hub},
			Logger:          logger,
			BaseContext:     ctx,
			AllowedOrigins:  cfg.AllowedOrigins,
			SendBuffer:      cfg.WSSendBuffer,
			MaxMessageBytes: cfg.WSMaxMessageBytes,
		},
		Blobs: blobHandler,
	}
	return app, nil
}

func (a *application) openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.StoreDriver != config.DriverMongo {
		logger.Warn("using in-memory store; data is lost on restart")
		return stores{
			users:         memory.NewUserRepository(),
			sessions:      memory.NewSessionStore(),
			conversations: memory.NewConversationRepository(),
			messages:      memory.NewMessageRepository(),
		}, nil
	}

	client, err := mongostore.New(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return stores{}, err
	}
	a.mongo = client
	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.EnsureIndexes(indexCtx); err != nil {
		a.close(logger)
		return stores{}, err
	}
	logger.Info("mongo store ready", "db", cfg.MongoDB)
	return stores{
		users:         mongostore.NewUserRepository(client.DB),
		sessions:      mongostore.NewSessionStore(client.DB),
		conversations: mongostore.NewConversationRepository(client.DB),
		messages:      mongostore.NewMessageRepository(client.DB),
	}, nil
}

func (a *application) ready(ctx context.Context) error {
	if a.mongo != nil {
		if err := a.mongo.Ping(ctx); err != nil {
			return err
		}
	}
	if a.blobs != nil {
		if err := a.blobs.Ready(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *application) close(logger *slog.Logger) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Warn("kafka producer close failed", "error", err)
		}
		a.producer = nil
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mongo.Close(ctx); err != nil {
			logger.Warn("mongo disconnect failed", "error", err)
		}
		a.mongo = nil
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
