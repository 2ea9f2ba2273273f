package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/friendlyhq/friendly/config"
	"github.com/friendlyhq/friendly/internal/cache"
	"github.com/friendlyhq/friendly/internal/rag"
	"github.com/friendlyhq/friendly/internal/runtime"
	"github.com/friendlyhq/friendly/internal/search"
	"github.com/friendlyhq/friendly/internal/store"
	"github.com/friendlyhq/friendly/provider/mistral"
)

const basePath = "/friendly-api/v1"

func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, envelope{Status: "error", Message: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.Server.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization", csrfHeaderName},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		log.Printf("migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	}

	memo, err := buildCache(cfg.Cache, rdb)
	if err != nil {
		return err
	}
	llm := mistral.New(cfg.Provider, memo, nil)

	index, err := search.NewIndex()
	if err != nil {
		return err
	}
	if err := rebuildIndex(ctx, st, index); err != nil {
		log.Printf("knowledge index rebuild: %v", err)
	}

	ragLogger := log.New(log.Writer(), "[RAG] ", log.LstdFlags)
	retriever := rag.NewRetriever(llm, st, cfg.RAG.ApprovedOnly, ragLogger)
	orch := rag.NewOrchestrator(llm, retriever, st, st, index, cfg.RAG.TitleMaxLen, ragLogger)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group(basePath)
	auth := &AuthHandler{
		Store:            st,
		Secret:           secret,
		AdminInviteToken: cfg.Server.AdminInviteToken,
		SecureCookies:    os.Getenv("FRIENDLY_ENV") == "prod",
	}
	auth.Register(api.Group("/auth"), secret)

	uh := &UsersHandler{Store: st}
	uh.Register(api.Group("/users"), secret)

	ch := &ConversationsHandler{
		Store:        st,
		Orchestrator: orch,
		CreateTopK:   cfg.RAG.CreateTopK,
		FollowupTopK: cfg.RAG.FollowupTopK,
	}
	ch.Register(api.Group("/conversations"), secret)

	kh := &KnowledgeHandler{
		Store:    st,
		Provider: llm,
		Index:    index,
		Logger:   log.New(log.Writer(), "[KB] ", log.LstdFlags),
	}
	kh.Register(api.Group("/knowledgebase"), secret)

	if cfg.Retention.Enabled {
		sched := NewScheduler(st, rdb, cfg.Retention, nil)
		sched.Start()
	}

	if addr == "" {
		addr = cfg.Server.Listen
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

func buildCache(cfg config.CacheConfig, rdb *redis.Client) (cache.Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return cache.NewMemory(), nil
	case "lru":
		return cache.NewLRU(cfg.Capacity), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("cache.backend redis requires storage.redis configuration")
		}
		return cache.NewRedis(rdb, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// rebuildIndex loads every knowledge entry page by page and feeds the
// full-text index.
func rebuildIndex(ctx context.Context, st *store.Store, index *search.Index) error {
	const pageSize = 500
	var all []store.KnowledgeEntry
	for offset := 0; ; offset += pageSize {
		entries, _, err := st.ListKnowledge(ctx, store.KnowledgeFilter{}, pageSize, offset)
		if err != nil {
			return err
		}
		all = append(all, entries...)
		if len(entries) < pageSize {
			break
		}
	}
	return index.Rebuild(all)
}
