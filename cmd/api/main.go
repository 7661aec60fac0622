package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gocql/gocql"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cinereel/internal/carousel"
	"cinereel/internal/catalog"
	"cinereel/internal/featured"
	"cinereel/internal/history"
	"cinereel/internal/metrics"
	"cinereel/internal/mute"
	"cinereel/internal/preload"
	"cinereel/internal/session"
	"cinereel/internal/trailer"
	"cinereel/pkg/db"
	"cinereel/pkg/logger"
)

type config struct {
	Port           string
	TmdbKey        string
	TmdbBaseURL    string
	TmdbLanguage   string
	TrailerCache   string
	RedisAddr      string
	HistoryBackend string
	DBURL          string
	ScyllaHosts    []string
	ScyllaPort     int
	Keyspace       string
	Consistency    string
	Replication    int
	SessionIdle    time.Duration
	Featured       featured.Config
}

var buildVersion = envDefault("BUILD_VERSION", "dev")

func loadConfig() (config, error) {
	var hosts []string
	for _, h := range strings.Split(os.Getenv("SCYLLA_HOSTS"), ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	cfg := config{
		Port:           envDefault("API_PORT", envDefault("PORT", "8080")),
		TmdbKey:        os.Getenv("TMDB_API_KEY"),
		TmdbBaseURL:    os.Getenv("TMDB_BASE_URL"),
		TmdbLanguage:   envDefault("TMDB_LANGUAGE", "en-US"),
		TrailerCache:   strings.ToLower(envDefault("TRAILER_CACHE", "memory")),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		HistoryBackend: strings.ToLower(envDefault("HISTORY_BACKEND", history.BackendMemory)),
		DBURL:          os.Getenv("DB_URL"),
		ScyllaHosts:    hosts,
		ScyllaPort:     envDefaultInt("SCYLLA_PORT", 9042),
		Keyspace:       envDefault("SCYLLA_KEYSPACE", "cinereel"),
		Consistency:    envDefault("SCYLLA_CONSISTENCY", "QUORUM"),
		Replication:    envDefaultInt("SCYLLA_RF", 3),
		SessionIdle:    time.Duration(envDefaultInt("SESSION_IDLE_MINUTES", 30)) * time.Minute,
		Featured:       featured.LoadConfigFromEnv(),
	}
	switch cfg.TrailerCache {
	case "memory", "off":
	case "redis":
		if cfg.RedisAddr == "" {
			return cfg, fmt.Errorf("REDIS_ADDR is required when TRAILER_CACHE=redis")
		}
	default:
		return cfg, fmt.Errorf("unknown TRAILER_CACHE %q", cfg.TrailerCache)
	}
	switch cfg.HistoryBackend {
	case history.BackendMemory:
	case history.BackendPostgres:
		if cfg.DBURL == "" {
			return cfg, fmt.Errorf("DB_URL is required when HISTORY_BACKEND=postgres")
		}
	case history.BackendScylla:
		if len(cfg.ScyllaHosts) == 0 {
			return cfg, fmt.Errorf("SCYLLA_HOSTS is required when HISTORY_BACKEND=scylla")
		}
	default:
		return cfg, fmt.Errorf("unknown HISTORY_BACKEND %q", cfg.HistoryBackend)
	}
	return cfg, nil
}

func main() {
	log := logger.New("cinereel-api")
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.TmdbKey == "" {
		log.Warn().Msg("TMDB_API_KEY not set; featured list will be unavailable")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	tmdb := catalog.NewClient(catalog.Config{
		APIKey:   cfg.TmdbKey,
		BaseURL:  cfg.TmdbBaseURL,
		Language: cfg.TmdbLanguage,
	}, log)

	cache, closeCache, err := openTrailerCache(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("trailer cache not ready")
	}
	defer closeCache()

	store, closeStore, err := openHistory(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("history store not ready")
	}
	defer closeStore()

	featuredSvc := featured.NewService(tmdb, cfg.Featured, log)
	resolver := trailer.NewResolver(tmdb, trailer.ResolverConfig{
		PreferredSite: cfg.Featured.TrailerSite,
		Cache:         cache,
	}, log, m)

	engineOpts := carousel.OptionsFromUI(cfg.Featured.UI)
	engineOpts.Resolver = resolver
	engineOpts.Preloader = preload.New(nil, 0, log, m)
	engineOpts.Mute = mute.NewChannel(log, m)

	sessions := session.NewManager(session.Config{
		Engine:      engineOpts,
		IdleTimeout: cfg.SessionIdle,
		History:     store,
	}, log, m)
	go sessions.Run(ctx, time.Minute)

	a := &api{
		featured: featuredSvc,
		sessions: sessions,
		history:  store,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	log.Info().Str("addr", srv.Addr).Str("version", buildVersion).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	sessions.CloseAll()
	log.Info().Msg("api stopped")
}

func connectRetry(ctx context.Context, log zerolog.Logger, what string, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(20),
		retry.Delay(5*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Msgf("%s connect retry", what)
		}),
	)
}

func openTrailerCache(ctx context.Context, cfg config, log zerolog.Logger) (trailer.Cache, func(), error) {
	switch cfg.TrailerCache {
	case "off":
		return nil, func() {}, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		err := connectRetry(ctx, log, "redis", func() error {
			return client.Ping(ctx).Err()
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return trailer.NewRedisCache(client, ""), func() { _ = client.Close() }, nil
	default:
		return trailer.NewMemoryCache(), func() {}, nil
	}
}

func openHistory(ctx context.Context, cfg config, log zerolog.Logger) (history.Store, func(), error) {
	switch cfg.HistoryBackend {
	case history.BackendPostgres:
		var store *history.Postgres
		var closeFn func()
		err := connectRetry(ctx, log, "postgres", func() error {
			pool, err := db.Connect(ctx, cfg.DBURL)
			if err != nil {
				return err
			}
			s := history.NewPostgres(pool)
			if err := s.EnsureSchema(ctx); err != nil {
				pool.Close()
				return err
			}
			store, closeFn = s, pool.Close
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		return store, closeFn, nil
	case history.BackendScylla:
		var cql *gocql.Session
		err := connectRetry(ctx, log, "scylla", func() error {
			s, err := connectScylla(cfg)
			if err != nil {
				return err
			}
			if err := history.NewScylla(s, cfg.Keyspace).EnsureSchema(); err != nil {
				s.Close()
				return err
			}
			cql = s
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		return history.NewScylla(cql, cfg.Keyspace), cql.Close, nil
	default:
		return history.NewMemory(), func() {}, nil
	}
}

func connectScylla(cfg config) (*gocql.Session, error) {
	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Port = cfg.ScyllaPort
	cluster.Timeout = 5 * time.Second
	cluster.Consistency = history.ParseConsistency(cfg.Consistency)

	tmpSession, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	defer tmpSession.Close()
	if err := history.EnsureKeyspace(tmpSession, cfg.Keyspace, cfg.Replication); err != nil {
		return nil, fmt.Errorf("ensure keyspace %s: %w", cfg.Keyspace, err)
	}

	cluster.Keyspace = cfg.Keyspace
	return cluster.CreateSession()
}

func envDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func envDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		if _, err := fmt.Sscanf(v, "%d", &out); err == nil {
			return out
		}
	}
	return def
}
