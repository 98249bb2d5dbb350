package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"roomchat/internal/config"
	"roomchat/internal/repository/member"
	"roomchat/internal/service/keywrap"
	redisSvc "roomchat/internal/service/redis"
	"roomchat/internal/service/server"
	"roomchat/internal/utils/log"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "roomchat-server",
		Short:         "Relay and link wrapping endpoint for roomchat",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := log.Init(cfg.Logging.Level, cfg.Logging.Development); err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wrapper, err := keywrap.New(cfg.ServerSecret())
	if err != nil {
		return fmt.Errorf("%w (set %s or Server.Secret)", err, config.ServerKeyEnv)
	}

	var members member.Repo = member.NewMemoryRepo()
	if cfg.Mongo.URI != "" {
		mongoDBClient, err := initMongo(cfg.Mongo.URI)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		defer mongoDBClient.Disconnect(context.Background())

		repo := member.NewMongoRepo(mongoDBClient.Database(cfg.Mongo.Database))
		if err := repo.Clear(ctx); err != nil {
			return fmt.Errorf("reset members: %w", err)
		}
		members = repo
	}

	var history server.HistoryStore = server.NewMemoryHistory(cfg.Server.HistoryLimit)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redis := redisSvc.NewRedis(rdb)
		defer redis.Close()
		if err := redis.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		history = server.NewRedisHistory(redis, cfg.Server.HistoryLimit)
	}

	s := server.NewHttpServer(server.Options{
		Addr:          cfg.Server.ListenAddr,
		VerifyTimeout: cfg.Server.VerifyTimeout.Duration,
	}, members, history, wrapper)

	if err := s.Run(ctx); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
