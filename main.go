package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/willsandim/SIGTAP/internal/api"
	"github.com/willsandim/SIGTAP/internal/config"
	"github.com/willsandim/SIGTAP/internal/gemini"
	"github.com/willsandim/SIGTAP/internal/redis"
	"github.com/willsandim/SIGTAP/internal/service/chat"
	"github.com/willsandim/SIGTAP/internal/storage"
	"github.com/willsandim/SIGTAP/internal/worker"
	"github.com/willsandim/SIGTAP/web"
)

func main() {
	cfg, err := config.Load(os.Getenv("SIGTAP_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("SIGTAP_DB")
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

	// Redis is optional. Without it the answer cache is disabled and every
	// consultation hits the model.
	redisClient, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, answer cache disabled: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	geminiClient, err := gemini.NewClient(ctx, cfg.Gemini)
	if err != nil {
		log.Fatalf("init gemini client: %v", err)
	}
	titleModel, err := gemini.NewTitleModel(ctx, geminiClient, cfg.Gemini.TitleModel)
	if err != nil {
		log.Fatalf("init title model: %v", err)
	}

	svc := chat.NewService(db, titleModel, cfg.BasicConfig.HistoryLimit)
	if days := cfg.BasicConfig.SessionRetentionDays; days > 0 {
		svc.StartSessionCleaner(ctx, chat.DefaultCleanupInterval, time.Duration(days)*24*time.Hour)
	}

	manager := worker.NewManager(svc, geminiClient, redisClient, worker.ManagerConfig{
		AskRatePerMinute: cfg.BasicConfig.AskRatePerMinute,
		AnswerCacheTTL:   time.Duration(cfg.BasicConfig.AnswerCacheTTLMinutes) * time.Minute,
	})

	router := gin.Default()
	api.NewHandler(svc, manager).RegisterRoutes(router)
	router.StaticFS("/app", web.FileSystem())
	router.GET("/", func(c *gin.Context) {
		c.Redirect(302, "/app/")
	})

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	log.Printf("sigtap assistant listening on %s (db=%s)", addr, dbType)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
