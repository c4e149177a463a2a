package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmate/api"
	"taskmate/session"
	"taskmate/storage"
	"taskmate/tasks"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %v", err)
	}

	logger := log.New()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		logger.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	usersTableName := os.Getenv("USERS_TABLE")
	if connStr == "" || tasksTableName == "" || usersTableName == "" {
		logger.Fatal("missing storage config")
	}
	tables, err := storage.New(connStr, tasksTableName, usersTableName)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	var store tasks.Store = tables
	var deduper api.Deduper
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(parseRedisOptions(redisConn))
		store = storage.NewCache(tables, rc, envDuration(logger, "CACHE_TTL", 10*time.Minute), logger)
		deduper = api.NewRedisDeduper(rc, envDuration(logger, "DEDUPER_TTL", 24*time.Hour))
	} else {
		logger.Info("REDIS_CONNECTION_STRING not set; task list cache and idempotency keys disabled")
	}

	var journal tasks.Journal
	if queueName := os.Getenv("ACTIVITY_QUEUE"); queueName != "" {
		q, err := storage.NewActivityQueue(connStr, queueName)
		if err != nil {
			logger.Fatalf("activity queue: %v", err)
		}
		journal = q
	}

	auth := newAuth(logger)

	sess := session.New()
	var opts []tasks.Option
	if wt, err := strconv.ParseBool(os.Getenv("TOGGLE_WRITE_THROUGH")); err == nil && wt {
		opts = append(opts, tasks.WithToggleWriteThrough())
	}
	engine := tasks.NewEngine(sess, tasks.NewRepository(store, journal, logger), logger, opts...)
	defer engine.Close()

	e := echo.New()
	e.HideBanner = true
	origins := []string{"*"}
	if val := os.Getenv("CORS_ORIGINS"); val != "" {
		origins = strings.Split(val, ",")
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, api.Deps{
		Engine:   engine,
		Session:  sess,
		Auth:     auth,
		Profiles: tables,
		Deduper:  deduper,
	}, logger)

	listenAddr := "127.0.0.1:8080"
	if val := os.Getenv("LISTEN_ADDR"); val != "" {
		listenAddr = val
	}
	logger.WithField("addr", listenAddr).Info("taskmate listening")
	e.Logger.Fatal(e.Start(listenAddr))
}

func newAuth(logger *log.Logger) *session.Auth {
	jwtAudience := os.Getenv("AUTH0_AUDIENCE")
	if secret := os.Getenv("LOCAL_AUTH_SECRET"); secret != "" {
		logger.Warn("LOCAL_AUTH_SECRET set; accepting HS256 tokens")
		return session.NewLocalAuth([]byte(secret), jwtAudience, "")
	}
	domain := os.Getenv("AUTH0_DOMAIN")
	if jwtAudience == "" || domain == "" {
		logger.Fatal("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.WithError(err).Warn("refresh jwks")
		},
	})
	if err != nil {
		logger.Fatalf("jwks: %v", err)
	}
	ttl := envDuration(logger, "JWKS_CACHE_TTL", session.DefaultKeyCacheTTL)
	return session.NewAuth(jwks, jwtAudience, "https://"+domain+"/", ttl)
}

// parseRedisOptions accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func parseRedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(v, "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func envDuration(logger *log.Logger, name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Fatalf("invalid %s: %q", name, v)
	}
	return d
}
