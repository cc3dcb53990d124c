package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"quiz-server/internal/app"
	"quiz-server/internal/config"
	"quiz-server/internal/infra/memory"
	"quiz-server/internal/infra/postgres"
	redisinfra "quiz-server/internal/infra/redis"
	"quiz-server/internal/lib/slogcustom"
	transport "quiz-server/internal/transport/http"
	"quiz-server/internal/transport/tcp"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port, httpPort *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port, *httpPort)
		},
	}
	cmd.Flags().StringVar(httpPort, "http-port", "", "port for the websocket bridge and /healthz (disabled when empty)")
	return cmd
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := slogcustom.New(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(logger)
	return logger
}

// backend is the assembled storage stack: the store the dispatcher talks to,
// the session tracker and whatever needs closing on exit.
type backend struct {
	store   app.Store
	tracker app.SessionTracker
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func buildBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{}

	var base app.Store
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, logger); err != nil {
			return nil, err
		}
		pg, err := postgres.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pg.Close)
		base = pg
		logger.Info("using postgres store")
	} else {
		base = memory.NewStore()
		logger.Info("using in-memory store")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, cache will fall back to the store", "addr", cfg.Redis.Addr, "err", err)
		}
	}

	quizTTL := config.TTLDuration(cfg.Quiz.CacheTTL, 10*time.Minute)
	sessionTTL := config.TTLDuration(cfg.Redis.TTL, 30*time.Minute)
	if redisClient != nil {
		b.store = redisinfra.NewQuizCache(redisClient, base, quizTTL)
		b.tracker = redisinfra.NewSessionTracker(redisClient, sessionTTL)
	} else {
		b.store = memory.NewQuizCache(base, quizTTL)
		b.tracker = memory.NewSessionTracker()
	}
	return b, nil
}

func runServer(ctx context.Context, configPath, portFlag, httpPortFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	dispatcher := app.NewDispatcher(b.store, b.tracker)
	tcpServer := tcp.NewServer(dispatcher,
		tcp.WithTracker(b.tracker),
		tcp.WithLogger(logger),
		tcp.WithMaxLineBytes(cfg.MaxLineBytes()),
	)

	httpPort := httpPortFlag
	if httpPort == "" {
		httpPort = cfg.Server.HTTPPort
	}
	var (
		httpServer *http.Server
		wsHandler  *transport.WSHandler
	)
	if httpPort != "" {
		wsHandler = transport.NewWSHandler(dispatcher, b.tracker, logger)
		wsHandler.SetReadLimit(int64(cfg.MaxLineBytes()))
		httpServer = &http.Server{
			Addr:              net.JoinHostPort("", httpPort),
			Handler:           wsHandler.Routes(),
			ReadHeaderTimeout: 15 * time.Second,
		}
	}

	drain := config.TTLDuration(cfg.Server.DrainTimeout, config.DefaultDrainTimeout)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return tcpServer.ListenAndServe(gctx, net.JoinHostPort("", cfg.ListenPort(portFlag)))
	})
	if httpServer != nil {
		g.Go(func() error {
			logger.Info("http side listener started", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http listener: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "drain", drain)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()

		// Both transports drain in parallel under the same deadline.
		var (
			drainers               errgroup.Group
			httpErr, wsErr, tcpErr error
		)
		if httpServer != nil {
			drainers.Go(func() error {
				httpErr = httpServer.Shutdown(shutdownCtx)
				wsErr = wsHandler.Shutdown(shutdownCtx)
				return nil
			})
		}
		drainers.Go(func() error {
			tcpErr = tcpServer.Shutdown(shutdownCtx)
			return nil
		})
		_ = drainers.Wait()
		return errors.Join(httpErr, wsErr, tcpErr)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "err", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
