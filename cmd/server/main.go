package main

import (
	"flag"
	"log"

	"strawberrytrace/internal/ai"
	"strawberrytrace/internal/config"
	"strawberrytrace/internal/server"
	"strawberrytrace/internal/store"
)

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("No config file loaded (%v), using defaults", err)
		cfg = config.Default()
	}

	// Initialize database
	db, err := store.NewSQLiteDB(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	// Initialize AI service
	aiService := ai.NewService(ai.NewConfigStore(cfg.AI.ConfigPath))

	// Initialize and start server
	srv := server.New(db, aiService, cfg.Images.Dir, cfg.Images.PhotoDir, cfg.Images.QRDir, cfg.Server.Debug)
	if err := srv.Start(cfg.Server.Port, cfg.Server.StaticDir); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
