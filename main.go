package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/RetailAIUseCase/retailai-engine/pkg/audit"
	"github.com/RetailAIUseCase/retailai-engine/pkg/auth"
	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
	"github.com/RetailAIUseCase/retailai-engine/pkg/database"
	"github.com/RetailAIUseCase/retailai-engine/pkg/email"
	"github.com/RetailAIUseCase/retailai-engine/pkg/extract"
	"github.com/RetailAIUseCase/retailai-engine/pkg/handlers"
	"github.com/RetailAIUseCase/retailai-engine/pkg/llm"
	"github.com/RetailAIUseCase/retailai-engine/pkg/logging"
	"github.com/RetailAIUseCase/retailai-engine/pkg/middleware"
	"github.com/RetailAIUseCase/retailai-engine/pkg/pdf"
	"github.com/RetailAIUseCase/retailai-engine/pkg/repositories"
	"github.com/RetailAIUseCase/retailai-engine/pkg/services"
	"github.com/RetailAIUseCase/retailai-engine/pkg/storage"
	"github.com/RetailAIUseCase/retailai-engine/pkg/ws"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("retailai-engine: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg, logger); err != nil {
		return err
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:             cfg.Database.URL,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	factory := llm.NewClientFactory(cfg.LLM, cfg.Embedding, logger)
	chatClient, err := factory.CreateChatClient()
	if err != nil {
		return fmt.Errorf("create chat client: %w", err)
	}
	nlpClient, err := factory.CreateNLPClient()
	if err != nil {
		return fmt.Errorf("create nlp client: %w", err)
	}
	embedClient, err := factory.CreateEmbeddingClient()
	if err != nil {
		return fmt.Errorf("create embedding client: %w", err)
	}

	objectStore, err := newObjectStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create object storage: %w", err)
	}

	// Repositories.
	docRepo := repositories.NewDocumentRepository()
	embeddingRepo := repositories.NewEmbeddingRepository()
	conversationRepo := repositories.NewConversationRepository()
	workflowRepo := repositories.NewWorkflowRepository()
	poRepo := repositories.NewPurchaseOrderRepository()
	approvalRepo := repositories.NewApprovalRepository(db)
	queryExecutor := repositories.NewQueryExecutor()

	// Services.
	tenantCtx := services.NewTenantContextFunc(db)
	hub := ws.NewHub(logger)
	emailSender := email.NewSMTPSender(cfg.SMTP, logger)
	pdfRenderer := pdf.NewRenderer(cfg.Workflow.CompanyName)

	retrieval := services.NewRetrievalService(embeddingRepo, embedClient, cfg.Embedding, cfg.Retrieval, logger)
	intents := services.NewIntentService(nlpClient, logger)
	auditor := audit.NewSecurityAuditor(logger)
	sqlGen := services.NewSQLGenerationService(chatClient, queryExecutor, auditor, cfg.SQLEngine, logger)
	conversations := services.NewConversationService(conversationRepo, logger)
	visualization := services.NewVisualizationService()
	poNumbers := services.NewPONumberGenerator(poRepo, cfg.Workflow.SuffixCeiling, logger)
	approvals := services.NewApprovalService(approvalRepo, emailSender, objectStore, hub, cfg.Approval, cfg.Workflow, logger)
	workflows := services.NewPOWorkflowService(workflowRepo, poRepo, retrieval, sqlGen, poNumbers,
		approvals, pdfRenderer, objectStore, hub, tenantCtx, cfg.Workflow, logger)
	ingest := services.NewIngestService(docRepo, embeddingRepo, retrieval, objectStore,
		extract.NewPlainText(), tenantCtx, cfg.Embedding, logger)
	chat := services.NewChatService(conversations, intents, retrieval, sqlGen, workflows, visualization, logger)

	// HTTP surface.
	authService := auth.NewService(cfg.Auth)
	authMiddleware := auth.NewMiddleware(authService, logger)
	tenantMiddleware := handlers.TenantMiddleware(middleware.TenantScope(tenantCtx, logger))

	mux := http.NewServeMux()
	handlers.NewHealthHandler(db, Version, logger).RegisterRoutes(mux)
	handlers.NewChatHandler(chat, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewConversationsHandler(conversations, ingest, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewWorkflowsHandler(workflows, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewDocumentsHandler(docRepo, ingest, objectStore, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewApprovalsHandler(approvals, logger).RegisterRoutes(mux)
	handlers.NewWSHandler(hub, logger).RegisterRoutes(mux, authMiddleware)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      middleware.RequestLogger(logger)(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting retailai-engine",
			zap.String("addr", server.Addr),
			zap.String("version", Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown incomplete", zap.Error(err))
	}

	// Let in-flight PO workflows finish or observe abandonment before the
	// pool closes under them.
	workflows.Wait()
	hub.Close()
	return nil
}

// runMigrations applies pending schema migrations over a short-lived
// database/sql connection, as the migrate driver requires.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func newObjectStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (services.ObjectStorage, error) {
	if cfg.Storage.GCSBucket != "" {
		return storage.NewGCSStore(ctx, cfg.Storage.GCSBucket, logger)
	}
	logger.Info("Using local object storage", zap.String("dir", cfg.Storage.LocalDir))
	return storage.NewLocalStore(cfg.Storage.LocalDir, logger)
}
