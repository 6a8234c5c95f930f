// server/cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wecare-supplier-api-server/config"
	"wecare-supplier-api-server/internal/api/handlers"
	"wecare-supplier-api-server/internal/api/routes"
	"wecare-supplier-api-server/internal/auth"
	"wecare-supplier-api-server/internal/crm"
	"wecare-supplier-api-server/internal/database"
	"wecare-supplier-api-server/internal/logger"
	"wecare-supplier-api-server/internal/models"
	"wecare-supplier-api-server/internal/orders"
	"wecare-supplier-api-server/internal/s3"
	"wecare-supplier-api-server/internal/socket"
	"wecare-supplier-api-server/internal/syncqueue"
	"wecare-supplier-api-server/internal/validation"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig("./config")
	if err != nil {
		logger.New("info", "json").Fatalf("Could not load config: %v", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. Múi giờ dùng cho ngày giao, nhóm đơn và hạn xử lý
	loc, err := cfg.Workflow.LoadLocation()
	if err != nil {
		log.Fatalf("Invalid timezone: %v", err)
	}
	models.Location = loc

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. CRM client và phiên đăng nhập NCC
	crmClient := crm.NewClient(cfg.CRM, cfg.Auth, log, crm.WithLocation(loc))
	issuer := auth.NewIssuer(cfg.JWT.Secret, cfg.JWT.Expiration)
	hub := socket.NewHub(log)

	// 4. Journal đồng bộ: MongoDB nếu có cấu hình, không thì giữ trong bộ nhớ
	var (
		journal syncqueue.Journal = syncqueue.NewMemoryJournal()
		health                    = &handlers.HealthHandler{}
	)
	if cfg.Mongo.URI != "" {
		mongoClient, db, err := database.Connect(ctx, cfg.Mongo)
		if err != nil {
			log.Fatalf("Could not connect to MongoDB: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		if err := database.EnsureIndexes(ctx, db, log); err != nil {
			log.WithError(err).Warn("Could not ensure MongoDB indexes")
		}
		journal = syncqueue.NewMongoJournal(db)
		health.Journal = func(ctx context.Context) error {
			return mongoClient.Ping(ctx, readpref.Primary())
		}
		log.WithField("db", cfg.Mongo.DBName).Info("Using MongoDB sync journal")
	} else {
		log.Warn("mongo.uri is empty, pending CRM writes will not survive a restart")
	}

	// 5. Lưu biên nhận quyết định lên S3 (tùy chọn)
	var queueOpts []syncqueue.Option
	if cfg.S3.Bucket != "" {
		uploader, err := s3.NewUploader(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("Could not create S3 uploader: %v", err)
		}
		queueOpts = append(queueOpts, syncqueue.WithArchiver(s3.NewReceiptArchiver(uploader)))
	}

	// 6. Sổ đơn theo NCC, hàng đợi đồng bộ và workflow xác nhận/từ chối
	policy := validation.Policy{
		CapToOriginal: cfg.Workflow.CapToOriginal,
		MaxQuantity:   cfg.Workflow.MaxQuantity,
		MaxLeadDays:   cfg.Workflow.MaxLeadDays,
		Location:      loc,
	}
	windows := orders.DefaultWindows()
	if cfg.Workflow.PendingWindow > 0 {
		windows.Pending = cfg.Workflow.PendingWindow
	}
	if cfg.Workflow.UrgentWindow > 0 {
		windows.Urgent = cfg.Workflow.UrgentWindow
	}

	registry := orders.NewRegistry(crmClient, hub, policy, windows, log)
	registry.UseJobs(journal)
	queue := syncqueue.NewQueue(cfg.Sync, crmClient, journal, registry, hub, log, queueOpts...)
	if n, err := queue.Recover(ctx); err != nil {
		log.WithError(err).Error("Could not recover pending CRM writes")
	} else if n > 0 {
		log.WithField("jobs", n).Info("Recovered pending CRM writes")
	}
	workflow := orders.NewWorkflow(registry, queue, hub, log)

	// 7. Truyền tất cả các thành phần cần thiết vào router
	router := routes.SetupRouter(routes.Deps{
		Config:    cfg,
		Suppliers: crmClient,
		Issuer:    issuer,
		Registry:  registry,
		Workflow:  workflow,
		Hub:       hub,
		Health:    health,
		Log:       log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Start server
	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to run server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	// Job chưa gửi vẫn nằm trong journal và được Recover ở lần chạy sau.
	queue.Close()
	log.Info("Server exited")
}
