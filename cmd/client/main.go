package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"roomchat/internal/config"
	"roomchat/internal/protocol/linkexchange"
	"roomchat/internal/protocol/roomkey"
	"roomchat/internal/service/app"
	redisSvc "roomchat/internal/service/redis"
	"roomchat/internal/service/sessionstore"
	"roomchat/internal/utils/log"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	configPath string
	sessionID  string

	cfg *config.Config
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "roomchat",
		Short:         "End-to-end encrypted room chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadFile(configPath)
			if err != nil {
				return err
			}
			return log.Init(cfg.Logging.Level, cfg.Logging.Development)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&sessionID, "session", "", "resume a stored session (redis only)")

	root.AddCommand(joinCmd(), linkCmd())
	return root
}

func joinCmd() *cobra.Command {
	var opts app.Options

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Create a room or join one through a shared link",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.Room == "") == (opts.Link == "") {
				return errors.New("exactly one of --room or --link is required")
			}
			opts.ServerURL = cfg.Client.ServerURL

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			keys, closeStore, err := newKeyManager()
			if err != nil {
				return err
			}
			defer closeStore()

			a := app.NewApp(opts, keys, newExchange())
			defer a.Stop(context.Background())
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "display name")
	cmd.Flags().StringVarP(&opts.Room, "room", "r", "", "room to create (a random suffix is added)")
	cmd.Flags().StringVarP(&opts.Link, "link", "l", "", "shared link to follow")
	cmd.MarkFlagRequired("name")
	return cmd
}

func linkCmd() *cobra.Command {
	var room string

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Print a shareable link for the session's room key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Redis.Addr == "" {
				return errors.New("link needs Redis session storage to outlive this command; use join --room instead")
			}
			keys, closeStore, err := newKeyManager()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := cmd.Context()
			key, err := keys.GetOrCreateKey(ctx)
			if err != nil {
				return err
			}
			link, err := newExchange().CreateShareableLink(ctx, room, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			fmt.Fprintf(cmd.ErrOrStderr(), "resume with: roomchat join --session %s --room %s --name <name>\n", sessionID, room)
			return nil
		},
	}

	cmd.Flags().StringVarP(&room, "room", "r", "", "room identifier")
	cmd.MarkFlagRequired("room")
	return cmd
}

func newExchange() *linkexchange.Exchange {
	wrapper := linkexchange.NewHTTPWrapper(cfg.Client.ServerURL, cfg.Client.RequestTimeout.Duration)
	return linkexchange.New(wrapper, cfg.Client.Origin)
}

// newKeyManager keeps the session key in redis when configured so a session
// can be resumed with --session, otherwise in memory.
func newKeyManager() (*roomkey.Manager, func(), error) {
	if cfg.Redis.Addr == "" {
		return roomkey.NewManager(sessionstore.NewMemory()), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redis := redisSvc.NewRedis(rdb)
	if err := redis.Ping(context.Background()); err != nil {
		redis.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	if sessionID == "" {
		b := make([]byte, 8)
		if _, err := rand.Read(b); err != nil {
			redis.Close()
			return nil, nil, err
		}
		sessionID = hex.EncodeToString(b)
	}
	store := sessionstore.NewRedis(redis, sessionID, cfg.Client.SessionTTL.Duration)
	return roomkey.NewManager(store), func() { redis.Close() }, nil
}
