package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tradewind-erp/tradewind/internal/app"
	"github.com/tradewind-erp/tradewind/internal/approvals"
	"github.com/tradewind-erp/tradewind/internal/ledger"
	"github.com/tradewind-erp/tradewind/internal/masterdata"
	"github.com/tradewind-erp/tradewind/internal/masterdata/branches"
	"github.com/tradewind-erp/tradewind/internal/masterdata/products"
	"github.com/tradewind-erp/tradewind/internal/observability"
	"github.com/tradewind-erp/tradewind/internal/platform/cache"
	"github.com/tradewind-erp/tradewind/internal/platform/db"
	"github.com/tradewind-erp/tradewind/internal/rbac"
	"github.com/tradewind-erp/tradewind/internal/shared"
	"github.com/tradewind-erp/tradewind/internal/transfers"
	"github.com/tradewind-erp/tradewind/jobs"
)

// catalogAdapter bridges master data services into the transfer pipeline.
type catalogAdapter struct {
	branches *branches.Service
	products *products.Service
}

func (c catalogAdapter) BranchActive(ctx context.Context, tenantID, branchID uuid.UUID) (bool, error) {
	return c.branches.ExistsActive(ctx, tenantID, branchID)
}

func (c catalogAdapter) ProductUnitCost(ctx context.Context, tenantID, productID uuid.UUID) (decimal.Decimal, error) {
	product, err := c.products.Get(ctx, tenantID, productID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return product.UnitCost, nil
}

// refsAdapter answers rule reference checks from master data and rbac.
type refsAdapter struct {
	branches *branches.Service
	rbac     *rbac.Service
}

func (a refsAdapter) BranchExists(ctx context.Context, tenantID, branchID uuid.UUID) (bool, error) {
	return a.branches.ExistsActive(ctx, tenantID, branchID)
}

func (a refsAdapter) RoleExists(ctx context.Context, tenantID, roleID uuid.UUID) (bool, error) {
	return a.rbac.RoleExists(ctx, tenantID, roleID)
}

func (a refsAdapter) UserExists(ctx context.Context, tenantID, userID uuid.UUID) (bool, error) {
	return a.rbac.UserExists(ctx, tenantID, userID)
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	rbacService := rbac.NewService(pool)
	rbacMiddleware := rbac.Middleware{Logger: logger}

	branchService := branches.NewService(branches.NewRepository(pool))
	productService := products.NewService(products.NewRepository(pool))
	masterDataHandler := masterdata.NewHandler(logger, branchService, productService, rbacMiddleware)

	ledgerWriter := ledger.NewWriter(metrics)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, ledgerWriter, auditLogger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, rbacMiddleware)

	ruleRepo := approvals.NewRepository(pool)
	ruleStore := approvals.NewRuleCache(redisClient, ruleRepo, 5*time.Minute)
	ruleRefs := refsAdapter{branches: branchService, rbac: rbacService}
	ruleService := approvals.NewService(ruleStore, ruleRefs, idempotencyStore, auditLogger)
	ruleEngine := approvals.NewEngine(ruleStore)
	processor := approvals.NewProcessor(approvals.NewProcessorRepo(pool), rbacService, auditLogger)
	approvalHandler := approvals.NewHandler(logger, ruleService, processor, ruleRepo, rbacMiddleware)

	transferRepo := transfers.NewRepository(pool)
	catalog := catalogAdapter{branches: branchService, products: productService}
	transferService := transfers.NewService(transferRepo, ruleEngine, ledgerWriter, catalog, idempotencyStore, auditLogger, metrics)
	transferHandler := transfers.NewHandler(logger, transferService, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobsClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		TransferHandler:   transferHandler,
		ApprovalHandler:   approvalHandler,
		LedgerHandler:     ledgerHandler,
		MasterDataHandler: masterDataHandler,
		JobHandler:        jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
