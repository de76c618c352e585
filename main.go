package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"crowsignal/internal/config"
	"crowsignal/internal/database/db_client"
	"crowsignal/internal/http/http_server"
	"crowsignal/internal/redis/redis_client"
	"crowsignal/internal/redis/redis_functions"
	"crowsignal/internal/redis/watcher/roomwatcher"
	"crowsignal/internal/services/roomaccess"
	"crowsignal/internal/syncattend"
	"crowsignal/internal/syncstats"
	"crowsignal/internal/ws"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	var err error
	var cfg *config.Config
	var redisClient *redis.Client
	var accessService roomaccess.IRoomAccessService

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis
	redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()
	Log.Debug("Redis client created successfully")

	// Load the Redis Functions lua (room occupancy)
	if err := redis_functions.LoadAll(ctx, redisClient); err != nil {
		Log.Fatal("load-redis-funcs", zap.Error(err))
	}

	// 4. Postgres db client
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()

	// 5. Room access / membership service
	accessService = roomaccess.NewRoomAccessService(redisClient, pgDb,
		cfg.RoomDefaultCapacity, cfg.RoomLingerSeconds)

	// 6. Background: empty-room reaper
	go roomwatcher.Run(ctx, redisClient, accessService)

	// 7. Background: attendance history + 10 s occupancy sampler
	syncattend.Run(ctx, redisClient, pgDb)
	syncstats.Run(ctx, redisClient, pgDb)

	// 8. Connection registry + cross-instance fan-out
	registry := ws.NewRegistry()
	var relay ws.Broadcaster = ws.NopBroadcaster{}
	if cfg.SignalingFanout {
		relay = ws.NewRedisBroadcaster(redisClient, registry, uuid.NewString())
	}

	// 9. Initialize the signaling server
	wsSrv := ws.NewWsServer(registry, relay, accessService,
		syncattend.NewRecorder(redisClient), cfg.SendQueueSize)

	// 10. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, registry, accessService)
	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
