package main

import (
	"context"
	"log"
	"os"
	"time"

	"nevexpert/internal/api"
	"nevexpert/internal/chat"
	"nevexpert/internal/checkout"
	"nevexpert/internal/config"
	"nevexpert/internal/expert"
	"nevexpert/internal/redis"
	"nevexpert/internal/staging"
	"nevexpert/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("NEVEXPERT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("NEVEXPERT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	provider := cfg.BasicConfig.Provider
	requestTimeout := time.Duration(cfg.BasicConfig.RequestTimeout) * time.Second
	adapter, err := expert.New(provider, cfg.Providers[provider], requestTimeout)
	if err != nil {
		log.Fatalf("init model adapter: %v", err)
	}

	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()
	stagingSvc := staging.NewService(db)
	cleanInterval := time.Duration(cfg.BasicConfig.UploadCleanEvery) * time.Minute
	stagingSvc.StartCleaner(cleanCtx, cleanInterval)

	uploadTTL := time.Duration(cfg.BasicConfig.UploadTTL) * time.Minute
	if uploadTTL <= 0 {
		uploadTTL = staging.DefaultUploadTTL
	}
	uploadBase := cfg.BasicConfig.UploadBaseDir
	if uploadBase == "" {
		uploadBase = "./data/uploads"
	}

	checkoutSvc := checkout.NewService(&checkout.SimulatedProvider{Delay: 3 * time.Second}, rdb)
	registry := chat.NewRegistry(adapter)
	handlers := api.NewHandler(registry, stagingSvc, checkoutSvc, uploadBase, uploadTTL)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
