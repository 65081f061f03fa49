package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"x402-delegation/backend/internal/audit"
	audithandler "x402-delegation/backend/internal/audit/handler"
	auditrepo "x402-delegation/backend/internal/audit/repository"
	"x402-delegation/backend/internal/capability/constraint"
	"x402-delegation/backend/internal/capability/validator"
	"x402-delegation/backend/internal/config"
	"x402-delegation/backend/internal/db"
	"x402-delegation/backend/internal/delegation/events"
	delegationhandler "x402-delegation/backend/internal/delegation/handler"
	delegationservice "x402-delegation/backend/internal/delegation/service"
	healthhandler "x402-delegation/backend/internal/health/handler"
	operatorhandler "x402-delegation/backend/internal/operator/handler"
	operatorservice "x402-delegation/backend/internal/operator/service"
	paymentcache "x402-delegation/backend/internal/payment/cache"
	paymentdomain "x402-delegation/backend/internal/payment/domain"
	paymenthandler "x402-delegation/backend/internal/payment/handler"
	paymentrepo "x402-delegation/backend/internal/payment/repository"
	"x402-delegation/backend/internal/payment/scheme"
	paymentservice "x402-delegation/backend/internal/payment/service"
	"x402-delegation/backend/internal/platform/httpx"
	"x402-delegation/backend/internal/policy/engine"
	policyrepo "x402-delegation/backend/internal/policy/repository"
	registryhandler "x402-delegation/backend/internal/registry/handler"
	registryhealth "x402-delegation/backend/internal/registry/health"
	registryrepo "x402-delegation/backend/internal/registry/repository"
	registryservice "x402-delegation/backend/internal/registry/service"
	"x402-delegation/backend/internal/security"
	"x402-delegation/backend/internal/server"
	"x402-delegation/backend/internal/server/interceptors"
	sessionrepo "x402-delegation/backend/internal/session/repository"
	sessionservice "x402-delegation/backend/internal/session/service"
	"x402-delegation/backend/internal/telemetry"
	telemetryotel "x402-delegation/backend/internal/telemetry/otel"
	"x402-delegation/backend/internal/telemetry/producer"
	usagerepo "x402-delegation/backend/internal/usage/repository"
	usageservice "x402-delegation/backend/internal/usage/service"
)

const serviceName = "x402-delegation"

// healthWatchInterval is how often the gRPC health status is refreshed from the readiness check.
const healthWatchInterval = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var conn *sql.DB
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer conn.Close()
		log.Println("server: using postgres storage")
	} else {
		log.Println("server: DATABASE_URL not set; using in-memory storage")
	}

	var providers *telemetryotel.Providers
	var emitters []telemetry.EventEmitter
	var metrics *telemetryotel.Metrics
	if cfg.OTLPEndpoint != "" {
		providers, err = telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
		if err != nil {
			log.Fatalf("otel: %v", err)
		}
		providers.SetGlobal()
		emitters = append(emitters, telemetryotel.NewEventEmitter(providers.LoggerProvider))
		metrics, err = telemetryotel.NewMetrics(providers.MeterProvider)
		if err != nil {
			log.Fatalf("otel metrics: %v", err)
		}
	}
	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.EventsKafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
		emitters = append(emitters, kafkaProducer)
	}
	var emitter telemetry.EventEmitter
	if len(emitters) > 0 {
		emitter = telemetry.Fanout(emitters...)
	}

	// Delegation pipeline.
	keys, err := validator.LoadKeyRing(cfg.IssuerKeysFile)
	if err != nil {
		log.Fatalf("issuer keys: %v", err)
	}
	tokenValidator := validator.New(cfg.AuthorizedIssuerList(), keys)

	evaluator := engine.NewOPAEvaluator(ctx, policyrepo.NewDirRepository(cfg.PolicyDir))

	var regions constraint.RegionResolver
	cidrs, err := constraint.LoadCIDRRegions(cfg.RegionMapFile)
	if err != nil {
		log.Fatalf("regions: %v", err)
	}
	if cidrs != nil {
		regions = cidrs
	}

	var sessions *sessionservice.Manager
	var usage *usageservice.Recorder
	if conn != nil {
		sessions = sessionservice.NewManager(sessionrepo.NewPostgresRepository(conn))
		usage = usageservice.NewRecorder(usagerepo.NewPostgresRepository(conn))
	} else {
		sessions = sessionservice.NewManager(sessionrepo.NewMemoryRepository())
		usage = usageservice.NewRecorder(usagerepo.NewMemoryRepository())
	}
	handlers := []events.Handler{telemetry.NewDelegationEvents(emitter, "delegation")}
	if metrics != nil {
		handlers = append(handlers, metrics)
	}
	delegation := delegationservice.NewService(
		tokenValidator,
		constraint.NewEnforcer(usage, evaluator, regions),
		sessions,
		usage,
		events.NewDispatcher(handlers...),
		delegationservice.Config{
			RequiredCapabilities: cfg.RequiredCapabilityList(),
			EnableUsageTracking:  cfg.EnableUsageTracking,
			CleanupInterval:      cfg.CleanupEvery(),
		},
	)

	var upstream *url.URL
	if cfg.ProtectedUpstreamURL != "" {
		upstream, err = url.Parse(cfg.ProtectedUpstreamURL)
		if err != nil {
			log.Fatalf("PROTECTED_UPSTREAM_URL: %v", err)
		}
	}

	// Payments.
	var cache paymentservice.Cache
	if cfg.RedisURL != "" {
		rdb, err := paymentcache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		cache = paymentcache.NewRedis(rdb, cfg.PaymentCacheWindow())
	} else {
		cache = paymentcache.NewMemory(cfg.PaymentCacheWindow())
	}
	facilitator := paymentservice.NewFacilitator(
		scheme.Defaults(scheme.NewHTTPProcessor(cfg.SettlementURL)),
		paymentrepo.NewMemoryRepository(),
		cache,
		emitter,
		paymentservice.Config{
			FacilitatorURL: cfg.FacilitatorURL,
			CacheTTL:       cfg.PaymentCacheWindow(),
			RedemptionTTL:  cfg.PaymentRedemptionWindow(),
		},
	)
	price := paymentdomain.Price{
		Amount:    cfg.PaywallAmount,
		Currency:  cfg.PaywallCurrency,
		Recipient: cfg.PaymentRecipient,
		Schemes:   cfg.PaywallSchemeList(),
	}

	// Registry.
	var registryRepo registryservice.Repository = registryrepo.NewMemoryRepository()
	if conn != nil {
		registryRepo = registryrepo.NewPostgresRepository(conn)
	}
	registry := registryservice.NewRegistry(registryRepo, registryhealth.NewHTTPChecker(), registryservice.Config{
		VerifyEnabled: cfg.RegistryVerifyEnabled,
		CacheTTL:      cfg.RegistryTTL(),
		ExcludeTags:   cfg.RegistryExcludeTagList(),
	})

	// Operator tokens and audit.
	var tokens *security.TokenProvider
	if cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "" {
		priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			log.Fatalf("JWT_PRIVATE_KEY: %v", err)
		}
		pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			log.Fatalf("JWT_PUBLIC_KEY: %v", err)
		}
		tokens = security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	} else {
		log.Println("server: JWT keys not set; operator routes disabled")
	}
	var tokenIssuer operatorservice.TokenIssuer
	var tokenChecker interceptors.TokenValidator
	if tokens != nil {
		tokenIssuer = tokens
		tokenChecker = tokens
	}
	operator := operatorservice.NewService(cfg.OperatorKeyHash, security.NewHasher(cfg.BcryptCost), tokenIssuer)

	var auditRepo auditrepo.Repository = auditrepo.NewMemoryRepository()
	if conn != nil {
		auditRepo = auditrepo.NewPostgresRepository(conn)
	}
	auditLogger := audit.NewLogger(auditRepo, interceptors.ClientIP)

	var pinger healthhandler.Pinger
	if conn != nil {
		pinger = conn
	}
	health := healthhandler.NewServer(pinger, evaluator)

	trusted, err := httpx.ParseTrustedProxies(cfg.TrustedProxyList())
	if err != nil {
		log.Fatalf("TRUSTED_PROXIES: %v", err)
	}

	router := server.NewRouter(server.Handlers{
		Health:     health,
		Operator:   operatorhandler.NewServer(operator),
		Delegation: delegationhandler.NewServer(delegation, upstream),
		Payment:    paymenthandler.NewServer(facilitator, price, upstream),
		Registry:   registryhandler.NewServer(registry),
		Audit:      audithandler.NewServer(auditRepo),
	}, server.Deps{
		Tokens:         tokenChecker,
		AuditLogger:    auditLogger,
		Emitter:        emitter,
		TrustedProxies: trusted,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, grpcHealth := server.NewGRPCServer()
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("gRPC health server listening on %s", cfg.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		health.Watch(gctx, grpcHealth, healthWatchInterval)
		return nil
	})
	g.Go(func() error {
		delegation.Run(gctx)
		return nil
	})
	g.Go(func() error {
		facilitator.Run(gctx, cfg.CleanupEvery())
		return nil
	})
	g.Go(func() error {
		registry.Run(gctx, cfg.RegistryRefreshEvery())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: %v", err)
	}

	if providers != nil {
		// Let in-flight EmitAsync calls finish before the exporters close.
		time.Sleep(telemetry.ShutdownDrainDuration)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}
	log.Println("server stopped")
}
