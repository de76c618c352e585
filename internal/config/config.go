package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379"   validate:"min=1000,max=65535"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"crow_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"crow_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"crow_db"`

	// Room fan-out across instances; needs Redis either way.
	SignalingFanout bool `env:"SIGNALING_FANOUT" envDefault:"false"`

	// Outbound frames a slow client may queue before frames are dropped.
	SendQueueSize int `env:"SEND_QUEUE_SIZE" envDefault:"64" validate:"min=1"`

	// Cap applied to rooms without their own max_participants.
	RoomDefaultCapacity int `env:"ROOM_DEFAULT_CAPACITY" envDefault:"10" validate:"min=0"`

	// Seconds an empty room survives before the reaper deactivates it.
	RoomLingerSeconds int `env:"ROOM_LINGER_SECONDS" envDefault:"300" validate:"min=1"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8086" validate:"min=1000,max=65535"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
