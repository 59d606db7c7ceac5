package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	jwttoken "checkpoint/internal/jwt_token"
	"checkpoint/internal/platform/config"
	"checkpoint/internal/platform/kafka"
	platformmetrics "checkpoint/internal/platform/metrics"
	"checkpoint/internal/platform/postgres"
	"checkpoint/internal/platform/redis"
	"checkpoint/internal/processing/adapters/gateway"
	"checkpoint/internal/processing/adapters/simulated"
	"checkpoint/internal/processing/attachments"
	"checkpoint/internal/processing/handler"
	processingmetrics "checkpoint/internal/processing/metrics"
	"checkpoint/internal/processing/notify"
	"checkpoint/internal/processing/ports"
	"checkpoint/internal/processing/service"
	"checkpoint/internal/processing/session"
	"checkpoint/internal/processing/store"
	"checkpoint/pkg/platform/audit"
	"checkpoint/pkg/platform/audit/publishers/compliance"
	"checkpoint/pkg/platform/audit/publishers/ops"
	"checkpoint/pkg/platform/audit/publishers/security"
	auditmemory "checkpoint/pkg/platform/audit/store/memory"
	auditpostgres "checkpoint/pkg/platform/audit/store/postgres"
	"checkpoint/pkg/platform/audit/worker"
	"checkpoint/pkg/platform/circuit"
	"checkpoint/pkg/platform/httputil"
	"checkpoint/pkg/platform/middleware/auth"
	"checkpoint/pkg/platform/middleware/metadata"
	"checkpoint/pkg/platform/middleware/request"
	"checkpoint/pkg/platform/middleware/requesttime"
	"checkpoint/pkg/platform/tx"
)

// app is the assembled process: the router plus the background loops that
// share its lifetime.
type app struct {
	router    http.Handler
	workers   []func(ctx context.Context) error
	closers   []func()
	simulated bool
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// backends holds the optional infrastructure clients. A nil field means the
// in-memory fallback is used for that concern.
type backends struct {
	db       *sql.DB
	redis    *redis.Client
	producer *kafka.Producer
}

func build(ctx context.Context, cfg config.Server, log *slog.Logger) (*app, error) {
	a := &app{}
	b, err := connect(ctx, cfg, log, a)
	if err != nil {
		a.close()
		return nil, err
	}

	m := platformmetrics.New()
	auditStore := newAuditStore(b)

	securityPublisher := security.New(auditStore, security.WithLogger(log))
	a.workers = append(a.workers, securityPublisher.Run)

	orchestrator, simulatedGateways := newOrchestrator(cfg, log, m, b, auditStore)
	a.simulated = simulatedGateways

	if b.db != nil && b.producer != nil {
		relay := worker.NewWorker(auditpostgres.New(b.db), b.producer,
			worker.WithInterval(cfg.Kafka.RelayInterval),
			worker.WithBatchSize(cfg.Kafka.RelayBatch),
			worker.WithLogger(log),
		)
		a.workers = append(a.workers, relay.Run)
	} else if b.db != nil {
		log.Warn("no kafka brokers configured, audit outbox will accumulate")
	}

	validator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience),
	)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(log))
	r.Use(requesttime.Middleware)
	r.Use(m.Middleware)

	r.Handle("/metrics", m.Handler())
	r.Get("/health", healthHandler(b, m))

	r.Group(func(r chi.Router) {
		emitter := auth.WithSecurityEmitter(securityPublisher)
		r.Use(auth.RequireAuth(validator, log, emitter))
		r.Use(auth.RequireCapabilities(log, cfg.RequiredCapabilities, emitter))
		handler.New(orchestrator, log, handler.WithMaxFramePixels(cfg.Capture.MaxFramePixels)).Register(r)
	})

	a.router = r
	return a, nil
}

// connect opens every configured backend and registers its close function.
func connect(ctx context.Context, cfg config.Server, log *slog.Logger, a *app) (backends, error) {
	var b backends

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return b, err
	}
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return b, err
		}
		b.db = db
	} else {
		log.Warn("no DATABASE_URL configured, transaction records are kept in memory")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return b, err
	}
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		b.redis = rc
	} else {
		log.Warn("no REDIS_URL configured, attempts and attachments are kept in memory")
	}

	producer, err := kafka.NewProducer(cfg.Kafka, log)
	if err != nil {
		return b, err
	}
	if producer != nil {
		a.closers = append(a.closers, producer.Close)
		if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("could not ensure audit topic", "error", err)
		}
		b.producer = producer
	}
	return b, nil
}

func newAuditStore(b backends) audit.Store {
	if b.db != nil {
		return auditpostgres.New(b.db)
	}
	return auditmemory.NewInMemoryStore()
}

func newOrchestrator(cfg config.Server, log *slog.Logger, m *platformmetrics.Metrics, b backends, auditStore audit.Store) (*service.Orchestrator, bool) {
	var (
		attempts ports.AttemptStore     = session.NewInMemoryAttemptStore()
		blobs    ports.AttachmentStore  = attachments.NewInMemoryStore()
		records  ports.TransactionStore = store.NewInMemoryTransactionStore()
		txRunner ports.TxRunner         = tx.MemoryRunner{}
	)
	if b.redis != nil {
		attempts = session.NewRedisAttemptStore(b.redis.Client, session.WithTTL(cfg.Attempts.TTL))
		blobs = attachments.NewRedisStore(b.redis.Client, 0)
	}
	if b.db != nil {
		records = store.NewPostgres(b.db)
		txRunner = tx.NewSQLRunner(b.db)
	}

	extractor, assessor, simulatedGateways := newGateways(cfg, log)

	opsBreaker := circuit.New("audit-ops",
		circuit.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		circuit.WithCooldown(cfg.Breaker.Cooldown),
	)
	tracker := ops.New(auditStore,
		ops.WithLogger(log),
		ops.WithMetrics(ops.NewMetricsWith(m.Registry)),
		ops.WithSampler(ops.NewSampler(cfg.AuditOps.SampleRate)),
		ops.WithBreaker(opsBreaker),
	)
	publisher := compliance.New(auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetricsWith(m.Registry)),
	)

	o := service.New(attempts, extractor, assessor, records, blobs,
		service.WithLogger(log),
		service.WithMetrics(processingmetrics.NewWith(m.Registry)),
		service.WithAuditPublisher(publisher),
		service.WithOpsTracker(tracker),
		service.WithTxRunner(newBoundedTx(txRunner, cfg.Timeouts.Save)),
		service.WithNotifier(notify.Fanout{notify.NewLogSink(log), notify.ContextSink{}}),
		service.WithTimeouts(service.Timeouts{
			Extraction: cfg.Timeouts.Extraction,
			Analysis:   cfg.Timeouts.Analysis,
			Save:       cfg.Timeouts.Save,
		}),
		service.WithModule(cfg.Gateways.Module),
	)
	return o, simulatedGateways
}

// newGateways returns HTTP clients guarded by circuit breakers, or the
// simulated gateways when requested or when no gateway URL is configured.
func newGateways(cfg config.Server, log *slog.Logger) (ports.DocumentExtractor, ports.RiskAssessor, bool) {
	gw := cfg.Gateways
	if cfg.Simulated || gw.ExtractionURL == "" || gw.AssessmentURL == "" {
		return simulated.Extractor{Latency: 300 * time.Millisecond}, simulated.Assessor{Latency: time.Second}, true
	}
	breaker := func(name string) *circuit.Breaker {
		return circuit.New(name,
			circuit.WithFailureThreshold(cfg.Breaker.FailureThreshold),
			circuit.WithSuccessThreshold(cfg.Breaker.SuccessThreshold),
			circuit.WithCooldown(cfg.Breaker.Cooldown),
		)
	}
	extractor := gateway.NewExtractionClient(gw.ExtractionURL,
		gateway.WithAPIKey(gw.APIKey),
		gateway.WithBreaker(breaker("document-extraction")),
		gateway.WithLogger(log),
	)
	assessor := gateway.NewAssessmentClient(gw.AssessmentURL,
		gateway.WithAPIKey(gw.APIKey),
		gateway.WithBreaker(breaker("risk-assessment")),
		gateway.WithLogger(log),
	)
	return extractor, assessor, false
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// healthHandler pings every configured backend. Unconfigured backends are
// reported as "memory".
func healthHandler(b backends, m *platformmetrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Dependencies: map[string]string{}}
		check := func(name string, configured bool, ping func(context.Context) error) {
			if !configured {
				resp.Dependencies[name] = "memory"
				return
			}
			err := ping(ctx)
			m.SetDependencyReady(name, err == nil)
			if err != nil {
				resp.Status = "degraded"
				resp.Dependencies[name] = fmt.Sprintf("down: %v", err)
				return
			}
			resp.Dependencies[name] = "up"
		}
		check("postgres", b.db != nil, func(ctx context.Context) error { return b.db.PingContext(ctx) })
		check("redis", b.redis != nil, func(ctx context.Context) error { return b.redis.Health(ctx) })
		check("kafka", b.producer != nil, func(ctx context.Context) error { return b.producer.Health(ctx) })

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}
