package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"archagent/internal/api"
	"archagent/internal/backend"
	"archagent/internal/config"
	redisx "archagent/internal/redis"
	"archagent/internal/service/conversation"
	"archagent/internal/storage"
)

func main() {
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	cfgPath := os.Getenv("ARCHAGENT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("ARCHAGENT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	indicatorDelay := time.Duration(cfg.BasicConfig.SaveIndicatorDelayMS) * time.Millisecond
	store := storage.New(db, indicatorDelay)

	if cfg.Redis.Host != "" {
		rdb, err := redisx.NewClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		mirrorTTL := time.Duration(cfg.Redis.MirrorTTLMinutes) * time.Minute
		store = store.WithMirror(rdb, mirrorTTL)
	}

	backendClient := backend.NewClient(cfg.Backend.BaseURL)
	pacing := time.Duration(cfg.BasicConfig.PacingDelayMS) * time.Millisecond
	chatService := conversation.NewService(store, backendClient, pacing)

	handlers := api.NewHandler(chatService, store, backendClient)

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
