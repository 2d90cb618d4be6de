package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/zlnvch/pageboard/api"
	"github.com/zlnvch/pageboard/cache"
	"github.com/zlnvch/pageboard/cache/memory"
	rediscache "github.com/zlnvch/pageboard/cache/redis"
	"github.com/zlnvch/pageboard/config"
	"github.com/zlnvch/pageboard/discovery"
	"github.com/zlnvch/pageboard/mq"
	"github.com/zlnvch/pageboard/mq/memq"
	"github.com/zlnvch/pageboard/mq/sqsmq"
	"github.com/zlnvch/pageboard/store"
	"github.com/zlnvch/pageboard/store/dynamo"
	"github.com/zlnvch/pageboard/store/sqlite"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig(ctx)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the config")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := loggerFromContext(ctx)

	pageCache, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	actionStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	purgeQueue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}

	pageboardAPI := api.NewPageboardAPI(actionStore, purgeQueue, pageCache, cfg.Server.AllowedOrigins, ctx)

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}

	if cfg.Server.Advertise {
		port := listener.Addr().(*net.TCPAddr).Port
		advertiser, err := discovery.Advertise(port)
		if err != nil {
			logger.Warn("mDNS advertising disabled", "err", err)
		} else {
			defer advertiser.Shutdown()
		}
	}

	srv := &http.Server{Handler: pageboardAPI.Router()}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()
	logger.Info("Relay listening", "addr", listener.Addr().String(), "cache", cfg.Cache.Driver, "store", cfg.Store.Driver, "queue", cfg.Queue.Driver)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	// Pending actions reach the store before it is closed.
	pageboardAPI.Wait()
	return err
}

func openCache(ctx context.Context, cfg config.Config) (cache.PageCache, func(), error) {
	switch cfg.Cache.Driver {
	case config.CacheRedis:
		c, err := rediscache.NewRedisPageCache(ctx, cfg.DevMode, cfg.Cache.Endpoint, cfg.Cache.TTL.Duration)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		return c, func() { c.Close() }, nil
	default:
		return memory.NewMemoryPageCache(), func() {}, nil
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.ActionStore, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDynamo:
		s, err := dynamo.NewDynamoActionStore(ctx, cfg.DevMode, cfg.Store.Endpoint, cfg.Store.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create dynamodb store: %w", err)
		}
		return s, func() {}, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, func() { s.Close() }, nil
	default:
		return store.NewNullStore(), func() {}, nil
	}
}

func openQueue(ctx context.Context, cfg config.Config) (mq.MessageQueue, error) {
	switch cfg.Queue.Driver {
	case config.QueueSQS:
		q, err := sqsmq.NewSQSMessageQueue(ctx, cfg.DevMode, cfg.Queue.Endpoint, cfg.Queue.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS MQ: %w", err)
		}
		return q, nil
	default:
		return memq.New(), nil
	}
}
