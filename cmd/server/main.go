// Command server starts the StreamNest account API HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"streamnest/internal/api"
	"streamnest/internal/auth"
	"streamnest/internal/media"
	"streamnest/internal/observability/logging"
	"streamnest/internal/observability/metrics"
	"streamnest/internal/server"
	"streamnest/internal/serverutil"
	"streamnest/internal/storage"
)

func main() {
	// Missing .env is fine; the environment may carry everything already.
	_ = godotenv.Load()

	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or mongo)")
	mongoURI := flag.String("mongo-uri", "", "MongoDB connection string")
	mongoDatabase := flag.String("mongo-database", "", "MongoDB database name")
	mongoCollection := flag.String("mongo-collection", "", "MongoDB users collection name")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	accessSecret := flag.String("access-token-secret", "", "HMAC secret for access tokens")
	refreshSecret := flag.String("refresh-token-secret", "", "HMAC secret for refresh tokens")
	accessTTL := flag.Duration("access-token-ttl", 0, "access token lifetime")
	refreshTTL := flag.Duration("refresh-token-ttl", 0, "refresh token lifetime")
	stagingDir := flag.String("upload-staging-dir", "", "directory for staged multipart uploads")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. 127.0.0.1:9000)")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPublicURL := flag.String("object-public-url", "", "public base URL for stored assets")
	transcoderURL := flag.String("transcoder-url", "", "base URL of the HLS transcoder job API")
	transcoderToken := flag.String("transcoder-token", "", "bearer token for the transcoder job API")
	transcoderNotifyURL := flag.String("transcoder-notify-url", "", "callback URL passed with each transcode job")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	trustForwarded := flag.Bool("rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	trustedProxies := flag.String("rate-trusted-proxies", "", "comma separated CIDR blocks of trusted proxies")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	redisDB := flag.Int("rate-redis-db", 0, "Redis database for distributed login throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated browser origins allowed to call the API")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("STREAMNEST_LOG_LEVEL"))})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("STREAMNEST_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("STREAMNEST_ADDR"))

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  firstNonEmpty(*accessSecret, os.Getenv("STREAMNEST_ACCESS_TOKEN_SECRET")),
		RefreshSecret: firstNonEmpty(*refreshSecret, os.Getenv("STREAMNEST_REFRESH_TOKEN_SECRET")),
		AccessTTL:     resolveDuration(*accessTTL, "STREAMNEST_ACCESS_TOKEN_TTL", 0),
		RefreshTTL:    resolveDuration(*refreshTTL, "STREAMNEST_REFRESH_TOKEN_TTL", 0),
	})
	if err != nil {
		logger.Error("failed to configure token service", "error", err)
		os.Exit(1)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	store, storeCloser, err := openStore(bootCtx, storeSettings{
		Driver:          firstNonEmpty(*storageDriver, os.Getenv("STREAMNEST_STORAGE_DRIVER")),
		DataPath:        resolveDataPath(*dataPath, os.Getenv("STREAMNEST_DATA")),
		MongoURI:        firstNonEmpty(*mongoURI, os.Getenv("STREAMNEST_MONGO_URI")),
		MongoDatabase:   firstNonEmpty(*mongoDatabase, os.Getenv("STREAMNEST_MONGO_DATABASE")),
		MongoCollection: firstNonEmpty(*mongoCollection, os.Getenv("STREAMNEST_MONGO_COLLECTION")),
		Mode:            serverMode,
	})
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	gateway, err := buildMediaGateway(bootCtx, mediaSettings{
		Endpoint:      firstNonEmpty(*objectEndpoint, os.Getenv("STREAMNEST_OBJECT_ENDPOINT")),
		AccessKey:     firstNonEmpty(*objectAccessKey, os.Getenv("STREAMNEST_OBJECT_ACCESS_KEY")),
		SecretKey:     firstNonEmpty(*objectSecretKey, os.Getenv("STREAMNEST_OBJECT_SECRET_KEY")),
		Bucket:        firstNonEmpty(*objectBucket, os.Getenv("STREAMNEST_OBJECT_BUCKET")),
		UseSSL:        resolveBool(*objectUseSSL, "STREAMNEST_OBJECT_USE_SSL"),
		PublicBaseURL: firstNonEmpty(*objectPublicURL, os.Getenv("STREAMNEST_OBJECT_PUBLIC_URL")),
		TranscoderURL: firstNonEmpty(*transcoderURL, os.Getenv("STREAMNEST_TRANSCODER_URL")),
		Token:         firstNonEmpty(*transcoderToken, os.Getenv("STREAMNEST_TRANSCODER_TOKEN")),
		NotifyURL:     firstNonEmpty(*transcoderNotifyURL, os.Getenv("STREAMNEST_TRANSCODER_NOTIFY_URL")),
	}, logger)
	if err != nil {
		logger.Error("failed to configure media gateway", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, tokens, gateway)
	handler.StagingDir = firstNonEmpty(*stagingDir, os.Getenv("STREAMNEST_UPLOAD_STAGING_DIR"))
	// Token cookies are Secure by default; development keeps them usable
	// over plain HTTP by deriving Secure from the request.
	if serverMode != "production" {
		handler.CookiePolicy = api.SessionCookiePolicy{
			SameSite:   http.SameSiteStrictMode,
			SecureMode: api.SessionCookieSecureAuto,
		}
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("STREAMNEST_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("STREAMNEST_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:             resolveFloat(*globalRPS, "STREAMNEST_RATE_GLOBAL_RPS"),
			GlobalBurst:           resolveInt(*globalBurst, "STREAMNEST_RATE_GLOBAL_BURST"),
			LoginLimit:            resolveInt(*loginLimit, "STREAMNEST_RATE_LOGIN_LIMIT"),
			LoginWindow:           resolveDuration(*loginWindow, "STREAMNEST_RATE_LOGIN_WINDOW", time.Minute),
			TrustForwardedHeaders: resolveBool(*trustForwarded, "STREAMNEST_RATE_TRUST_FORWARDED_HEADERS"),
			TrustedProxies:        splitAndTrim(firstNonEmpty(*trustedProxies, os.Getenv("STREAMNEST_RATE_TRUSTED_PROXIES"))),
			RedisAddr:             firstNonEmpty(*redisAddr, os.Getenv("STREAMNEST_RATE_REDIS_ADDR")),
			RedisPassword:         firstNonEmpty(*redisPassword, os.Getenv("STREAMNEST_RATE_REDIS_PASSWORD")),
			RedisDB:               resolveInt(*redisDB, "STREAMNEST_RATE_REDIS_DB"),
			RedisTimeout:          resolveDuration(*redisTimeout, "STREAMNEST_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("STREAMNEST_CORS_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("StreamNest API listening", "addr", listenAddr, "mode", serverMode)
	logger.Info("metrics endpoint available", "path", "/metrics")

	runErr := serverutil.Run(ctx, serverutil.Config{
		Server: srv.HTTPServer(),
		TLS: serverutil.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("STREAMNEST_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("STREAMNEST_TLS_KEY")),
		},
		ShutdownTimeout: 10 * time.Second,
	})

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if storeCloser != nil {
		if err := storeCloser(closeCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type storeSettings struct {
	Driver          string
	DataPath        string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	Mode            string
}

func openStore(ctx context.Context, cfg storeSettings) (storage.Repository, func(context.Context) error, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		if cfg.MongoURI != "" {
			driver = "mongo"
		} else {
			driver = "json"
		}
	}
	if cfg.Mode == "production" && driver != "mongo" {
		return nil, nil, fmt.Errorf("production mode requires the mongo datastore driver, got %q", driver)
	}

	switch driver {
	case "json":
		store, err := storage.NewJSONStore(cfg.DataPath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "mongo":
		store, err := storage.NewMongoStore(ctx, storage.MongoConfig{
			URI:        cfg.MongoURI,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

type mediaSettings struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
	TranscoderURL string
	Token         string
	NotifyURL     string
}

// buildMediaGateway returns a nil Gateway when no object store is configured;
// upload endpoints then report an internal error instead of storing files.
func buildMediaGateway(ctx context.Context, cfg mediaSettings, logger *slog.Logger) (media.Gateway, error) {
	if cfg.Endpoint == "" {
		logger.Warn("no object storage configured, media uploads disabled")
		return nil, nil
	}
	store, err := media.NewMinioStore(ctx, media.MinioConfig{
		Endpoint:      cfg.Endpoint,
		AccessKey:     cfg.AccessKey,
		SecretKey:     cfg.SecretKey,
		Bucket:        cfg.Bucket,
		UseSSL:        cfg.UseSSL,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	if err != nil {
		return nil, err
	}
	transcoder := media.NewTranscoderClient(media.TranscoderConfig{
		BaseURL:   cfg.TranscoderURL,
		Token:     cfg.Token,
		NotifyURL: cfg.NotifyURL,
		Logger:    logging.WithComponent(logger, "transcoder"),
	})
	return media.NewCloudGateway(store, transcoder, logging.WithComponent(logger, "media")), nil
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
