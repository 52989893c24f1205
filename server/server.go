package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	identityverifier "github.com/0xsequence/identity-verifier"
	"github.com/0xsequence/identity-verifier/api"
	"github.com/0xsequence/identity-verifier/capture"
	"github.com/0xsequence/identity-verifier/compare"
	"github.com/0xsequence/identity-verifier/config"
	"github.com/0xsequence/identity-verifier/encryption"
	"github.com/0xsequence/identity-verifier/notify"
	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/orchestrator"
	"github.com/0xsequence/identity-verifier/sessioncache"
	"github.com/0xsequence/identity-verifier/strategy"
	"github.com/0xsequence/identity-verifier/strategy/oneshot"
	"github.com/0xsequence/identity-verifier/strategy/polling"
	"github.com/0xsequence/identity-verifier/validator"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	"github.com/go-chi/traceid"
	"github.com/rs/zerolog"
)

const requestTimeout = 28 * time.Second

type Server struct {
	Config       *config.Config
	Log          zerolog.Logger
	HTTPServer   *http.Server
	HTTPClient   o11y.HTTPClient
	Metrics      *o11y.Metrics
	Validator    *validator.Validator
	Orchestrator *orchestrator.Orchestrator
	Account      *orchestrator.Account

	startTime time.Time
	running   int32
}

func New(cfg *config.Config, transport http.RoundTripper) (*Server, error) {
	ctx := context.Background()
	metrics := o11y.NewMetrics()

	client := &http.Client{
		Timeout:   cfg.Verification.RequestTimeout,
		Transport: transport,
	}
	wrappedClient := o11y.WrapClient(client, o11y.WithClientMetrics(metrics))

	options := []func(options *awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(wrappedClient),
	}
	if cfg.Endpoints.AWSEndpoint != "" {
		options = append(options, awsconfig.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.Endpoints.AWSEndpoint}, nil
			}),
		), awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}

	if cfg.NeedsSecrets() {
		if err := cfg.ResolveSecrets(ctx, secretsmanager.NewFromConfig(awsCfg)); err != nil {
			return nil, err
		}
	}

	store, err := sessioncache.Open(cfg, dynamodb.NewFromConfig(awsCfg), metrics)
	if err != nil {
		return nil, err
	}
	cacheOpts := []sessioncache.Option{sessioncache.WithKey(cfg.SessionCache.Key)}
	if cfg.SessionCache.Seal {
		cacheOpts = append(cacheOpts, sessioncache.WithSealer(encryption.NewKMSKey(cfg.KMS.SessionKey, kms.NewFromConfig(awsCfg))))
	}
	cache := sessioncache.New(store, cacheOpts...)

	apiClient := api.NewClient(cfg.Endpoints.VerificationAPI, wrappedClient)

	strat, err := newStrategy(cfg, apiClient, wrappedClient, metrics)
	if err != nil {
		return nil, err
	}

	var camera capture.Camera
	if cfg.Endpoints.Camera != "" {
		camera = capture.NewHTTPCamera(cfg.Endpoints.Camera, wrappedClient)
	}
	var uploader capture.Uploader
	if cfg.Upload.Endpoint != "" {
		uploader = capture.NewHostUploader(cfg.Upload.Endpoint, cfg.Upload.Preset, wrappedClient)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithCountdown(cfg.Verification.Countdown),
		orchestrator.WithFingerprintSource(capture.NewScanner(capture.WithScanInterval(cfg.Verification.ScanInterval))),
		orchestrator.WithImageCapture(capture.NewImageCapture(camera, uploader, nil)),
	}
	if cfg.SES.Enabled {
		orchOpts = append(orchOpts, orchestrator.WithCompletionHook(notify.NewSender(awsCfg, cfg.SES).Hook()))
	}

	v := validator.New(apiClient,
		validator.WithDebounce(cfg.Verification.Debounce),
		validator.WithMetrics(metrics),
	)
	orch := orchestrator.New(strat, orchOpts...)
	orch.Bind(v)

	s := &Server{
		Config: cfg,
		Log: httplog.NewLogger("identity-verifier", httplog.Options{
			LogLevel: cfg.Service.LogLevel,
			JSON:     cfg.Mode != config.LocalMode,
		}),
		HTTPServer: &http.Server{
			ReadTimeout:       45 * time.Second,
			WriteTimeout:      45 * time.Second,
			IdleTimeout:       45 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		HTTPClient:   wrappedClient,
		Metrics:      metrics,
		Validator:    v,
		Orchestrator: orch,
		Account:      orchestrator.NewAccount(apiClient, cache, nil),
		startTime:    time.Now(),
	}
	return s, nil
}

func newStrategy(cfg *config.Config, apiClient *api.Client, httpClient o11y.HTTPClient, metrics *o11y.Metrics) (strategy.Strategy, error) {
	var s strategy.Strategy
	switch cfg.Verification.Strategy {
	case config.StrategyPolling:
		s = polling.New(apiClient, polling.Config{
			StartDelay:  cfg.Verification.StartDelay,
			Interval:    cfg.Verification.PollInterval,
			MaxAttempts: cfg.Verification.MaxPollAttempts,
		}, nil, metrics)
	case config.StrategyOneShot:
		var comparer compare.Comparer
		switch cfg.Compare.Provider {
		case "gemini":
			comparer = compare.NewGemini(cfg.Compare.GeminiEndpoint, cfg.Compare.GeminiModel, cfg.Compare.GeminiAPIKey, httpClient)
		case "regula":
			comparer = compare.NewRegula(cfg.Compare.RegulaURL, cfg.Compare.Threshold, httpClient)
		}
		s = oneshot.New(apiClient, comparer)
	default:
		return nil, fmt.Errorf("unknown verification strategy %q", cfg.Verification.Strategy)
	}
	return o11y.NewTracedStrategy(s, metrics), nil
}

func (s *Server) Run(ctx context.Context, l net.Listener) error {
	if s.IsRunning() {
		return fmt.Errorf("server: already running")
	}

	s.Log.Info().
		Str("op", "run").
		Str("ver", identityverifier.VERSION).
		Str("strategy", s.Config.Verification.Strategy).
		Msgf("-> server: started")

	if v := s.Config.Verification; v.Strategy == config.StrategyPolling && !v.PollLimitReachable() {
		s.Log.Info().
			Str("op", "run").
			Dur("countdown", v.Countdown).
			Dur("poll_budget", v.PollBudget()).
			Msg("-> server: countdown bounds verification attempts before the poll limit")
	}

	atomic.StoreInt32(&s.running, 1)
	defer atomic.StoreInt32(&s.running, 0)

	s.HTTPServer.Handler = s.Handler()

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	err := s.HTTPServer.Serve(l)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(timeoutCtx context.Context) {
	if !s.IsRunning() || s.IsStopping() {
		return
	}
	atomic.StoreInt32(&s.running, 2)

	s.Log.Info().Str("op", "stop").Msg("-> server: stopping..")
	s.Orchestrator.Close()
	s.Validator.Close()
	if images := s.Orchestrator.Images(); images != nil {
		_ = images.Close()
	}
	_ = s.HTTPServer.Shutdown(timeoutCtx)
	s.Log.Info().Str("op", "stop").Msg("-> server: stopped.")
}

func (s *Server) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

func (s *Server) IsStopping() bool {
	return atomic.LoadInt32(&s.running) == 2
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// Propagate TraceId
	r.Use(traceid.Middleware)

	// HTTP request logger
	r.Use(httplog.RequestLogger(s.Log, []string{"/", "/ping", "/status", "/health", "/metrics", "/favicon.ico"}))

	r.Use(middleware.Timeout(requestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.Config.Service.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{o11y.SpanHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Observability middleware
	r.Use(o11y.Middleware(s.Config.Mode != config.ProductionMode))

	// Healthcheck
	r.Use(middleware.PageRoute("/health", http.HandlerFunc(s.healthHandler)))
	r.Use(middleware.PageRoute("/status", http.HandlerFunc(s.statusHandler)))

	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.getSession)
		r.Delete("/", s.clearSession)
		r.Put("/token", s.putToken)
		r.Put("/method", s.putMethod)
		r.Post("/capture/fingerprint", s.captureFingerprint)
		r.Post("/capture/image", s.captureImage)
		r.Post("/capture/camera", s.openCamera)
		r.Post("/capture/camera/photo", s.takePhoto)
		r.Delete("/capture/camera", s.closeCamera)
		r.Post("/start", s.start)
		r.Post("/cancel", s.cancel)
		r.Post("/reset", s.reset)
		r.Get("/result", s.result)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/", s.getAuth)
		r.Delete("/", s.logout)
		r.Post("/register", s.register)
		r.Post("/login", s.login)
		r.Post("/login/digital-id", s.loginWithDigitalID)
		r.Post("/login/complete", s.completeLogin)
		r.Post("/verify", s.verifyBiometric)
		r.Get("/profile", s.profile)
	})

	return r
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"startTime": s.startTime,
		"uptime":    uint64(time.Now().UTC().Sub(s.startTime).Seconds()),
		"ver":       identityverifier.VERSION,
		"strategy":  s.Config.Verification.Strategy,
		"phase":     s.Orchestrator.Snapshot().Phase,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.IsStopping() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
