// Command server runs the dual-control admin gateway: policy evaluation,
// approval workflow, impersonation sessions, and the append-only audit trail
// behind one HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"warden/internal/approval"
	approvalhandler "warden/internal/approval/handler"
	approvalmetrics "warden/internal/approval/metrics"
	approvalmemory "warden/internal/approval/store/memory"
	approvalpostgres "warden/internal/approval/store/postgres"
	"warden/internal/audit"
	audithandler "warden/internal/audit/handler"
	auditmetrics "warden/internal/audit/metrics"
	auditmemory "warden/internal/audit/store/memory"
	auditpostgres "warden/internal/audit/store/postgres"
	"warden/internal/bulk"
	"warden/internal/gateway"
	gatewayhandler "warden/internal/gateway/handler"
	gatewaymetrics "warden/internal/gateway/metrics"
	httpapi "warden/internal/http"
	"warden/internal/impersonation"
	impersonationhandler "warden/internal/impersonation/handler"
	impersonationmetrics "warden/internal/impersonation/metrics"
	impersonationmemory "warden/internal/impersonation/store/memory"
	"warden/internal/impersonation/store/redisstore"
	"warden/internal/jwttoken"
	"warden/internal/platform/config"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/kafka"
	"warden/internal/platform/logger"
	platformredis "warden/internal/platform/redis"
	"warden/internal/policy"
	id "warden/pkg/domain"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres backs approvals and the audit trail; absent a DSN the server
	// runs on in-memory stores for local development.
	var db *sql.DB
	if cfg.Postgres.DSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		if err := db.PingContext(ctx); err != nil {
			log.Error("failed to ping postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		log.Error("failed to connect to kafka", "error", err)
		os.Exit(1)
	}
	if producer != nil {
		defer producer.Close()
	}

	// Audit trail, fail-closed; the Kafka mirror is best-effort fan-out.
	var auditStore audit.Store
	if db != nil {
		auditStore = auditpostgres.New(db)
	} else {
		auditStore = auditmemory.New()
	}
	var mirror *audit.Mirror
	auditMetrics := auditmetrics.New()
	if producer != nil {
		mirror = audit.NewMirror(producer, 256, log, auditMetrics)
	}
	recorder := audit.NewRecorder(auditStore,
		audit.WithLogger(log),
		audit.WithMetrics(auditMetrics),
		audit.WithMirror(mirror),
	)

	var approvalStore approval.Store
	if db != nil {
		approvalStore = approvalpostgres.New(db)
	} else {
		approvalStore = approvalmemory.New()
	}
	approvals := approval.NewService(approvalStore, recorder,
		approval.WithLogger(log),
		approval.WithMetrics(approvalmetrics.New()),
		approval.WithDefaultTTL(cfg.Approval.DefaultTTL),
	)

	var sessionStore impersonation.Store
	if redisClient != nil {
		sessionStore = redisstore.New(redisClient.Client)
	} else {
		sessionStore = impersonationmemory.New()
	}
	sessions := impersonation.NewManager(sessionStore, recorder,
		impersonation.WithLogger(log),
		impersonation.WithMetrics(impersonationmetrics.New()),
		impersonation.WithTTL(cfg.Impersonation.SessionTTL),
	)

	var guard gateway.IdempotencyGuard
	if redisClient != nil {
		guard = gateway.NewRedisIdempotencyGuard(redisClient.Client, cfg.Approval.DefaultTTL)
	} else {
		guard = gateway.NewMemoryIdempotencyGuard(cfg.Approval.DefaultTTL)
	}

	gw := gateway.New(
		policy.NewDefaultRegistry(policy.Thresholds{
			PayoutApprovalAmount: cfg.Policy.PayoutApprovalThreshold,
			RefundApprovalAmount: cfg.Policy.RefundApprovalThreshold,
			BulkSuspendCount:     cfg.Policy.BulkSuspendThreshold,
		}),
		approvals,
		recorder,
		buildExecutors(sessions),
		gateway.WithLogger(log),
		gateway.WithMetrics(gatewaymetrics.New()),
		gateway.WithSessionSource(sessions),
		gateway.WithIdempotencyGuard(guard),
	)
	coordinator := bulk.NewCoordinator(gw, bulk.WithLogger(log))

	tokens := jwttoken.NewService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer)

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:        log,
		TokenVerifier: tokens,
		Gateway:       gatewayhandler.New(gw, coordinator, log),
		Approvals:     approvalhandler.New(approvals, log),
		Audit:         audithandler.New(recorder, log),
		Impersonation: impersonationhandler.New(sessions, log),
		Ready: func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if db != nil {
				if err := db.PingContext(checkCtx); err != nil {
					return err
				}
			}
			if redisClient != nil {
				if err := redisClient.Health(checkCtx); err != nil {
					return err
				}
			}
			return nil
		},
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting warden", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if mirror != nil {
		group.Go(func() error {
			return mirror.Run(groupCtx)
		})
	}

	group.Go(func() error {
		ticker := time.NewTicker(cfg.Approval.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				expired, err := approvals.SweepExpired(groupCtx)
				if err != nil {
					log.Error("approval expiry sweep failed", "error", err)
					continue
				}
				if expired > 0 {
					log.Info("approval expiry sweep", "expired", expired)
				}
			}
		}
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// buildExecutors registers the capability for each gated action type. The
// marketplace's own services own the mutations; these executors are the seam
// where their clients plug in. Until a downstream client is wired, each one
// records the parameters it would have acted on, so the approval and audit
// flow is fully exercised end to end.
func buildExecutors(sessions *impersonation.Manager) *gateway.ExecutorRegistry {
	registry := gateway.NewExecutorRegistry()

	snapshot := func(fields ...string) gateway.Executor {
		return gateway.ExecutorFunc(func(_ context.Context, descriptor id.ActionDescriptor) (map[string]any, error) {
			changes := make(map[string]any, len(fields))
			for _, field := range fields {
				if value, ok := descriptor.Payload[field]; ok {
					changes[field] = value
				}
			}
			return changes, nil
		})
	}

	registry.Register(id.ActionPayoutBatchCreate, snapshot(policy.FieldTotalAmount, policy.FieldCurrency))
	registry.Register(id.ActionRefundIssue, snapshot(policy.FieldTotalAmount, policy.FieldCurrency))
	registry.Register(id.ActionUserSuspend, snapshot(policy.FieldTargetCount))
	registry.Register(id.ActionUserDelete, snapshot(policy.FieldTargetCount))
	registry.Register(id.ActionFeatureFlagToggle, snapshot(policy.FieldFlagName, policy.FieldFlagValue))

	// Impersonation is the one built-in action warden itself executes: an
	// approved escalated impersonation opens the session directly.
	registry.Register(id.ActionImpersonateUser, gateway.ExecutorFunc(
		func(ctx context.Context, descriptor id.ActionDescriptor) (map[string]any, error) {
			rawTarget, _ := descriptor.Payload[policy.FieldTargetUser].(string)
			targetUserID, err := id.ParseUserID(rawTarget)
			if err != nil {
				return nil, err
			}
			rawAdmin, _ := descriptor.Payload["admin_id"].(string)
			adminID, err := id.ParseAdminID(rawAdmin)
			if err != nil {
				return nil, err
			}
			session, err := sessions.Start(ctx, adminID, targetUserID, descriptor.Reason)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"session_id":     session.ID.String(),
				"target_user_id": targetUserID.String(),
				"expires_at":     session.ExpiresAt,
			}, nil
		}))

	return registry
}
