package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"loa-board/internal/api"
	"loa-board/internal/config"
	"loa-board/internal/game"
	"loa-board/internal/proposal"
	"loa-board/internal/storage/sqlite"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  LOA BOARD - MATCH AUTHORITY")
	log.Println("🎮 ================================")

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	serverCfg := appConfig.Server
	rules := appConfig.Rules
	storageCfg := appConfig.Storage

	api.SetAllowedOrigins(serverCfg.AllowedOrigins)
	log.Printf("🎮 Rules: %dx%d board, %d units per team, scan requires capture: %v",
		rules.BoardWidth, rules.BoardHeight, rules.MaxUnitsPerTeam, rules.ForwardScanRequiresCapture)

	// Match journal (optional)
	var (
		store        *sqlite.Store
		recorder     *sqlite.Recorder
		journal      game.Journal
		reader       api.JournalReader
		journalStats func() map[string]any
	)
	if storageCfg.DBPath != "" {
		store, err = sqlite.Open(storageCfg.DBPath)
		if err != nil {
			log.Fatalf("❌ Failed to open match journal: %v", err)
		}
		recorder = sqlite.NewRecorder(store)
		recorder.Start()
		journal = recorder
		reader = store
		journalStats = recorder.Stats
		log.Printf("💾 Match journal: %s", storageCfg.DBPath)
	} else {
		log.Println("⚠️ DB_PATH=off - match journal disabled")
	}

	engine := game.NewEngine(game.EngineConfig{
		Rules:   rules,
		Journal: journal,
	})
	engine.OnCommands(api.ObserveCommands)

	if storageCfg.EventLogPath != "" {
		if err := engine.StartEventLog(storageCfg.EventLogPath); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
		} else {
			log.Printf("📝 Event log: %s", storageCfg.EventLogPath)
		}
	}

	// Proposals from HTTP and WebSocket share one queue
	handler := proposal.NewHandlerWithLimits(engine, proposal.DefaultRateLimitConfig)
	queueCfg := proposal.DefaultQueueConfig()
	queueCfg.Observer = api.ObserveProposal
	queue := proposal.NewQueue(handler, queueCfg)
	queue.Start()

	seats := api.NewSeatManager(serverCfg.SeatSecret)
	api.BindSeats(seats, engine)

	if serverCfg.AdminToken != "" {
		log.Println("🔐 Admin routes enabled")
	} else {
		log.Println("⚠️ ADMIN_TOKEN not set - admin routes disabled")
	}

	server := api.NewServer(api.ServerConfig{
		Engine:      engine,
		Proposals:   queue,
		Seats:       seats,
		Journal:      reader,
		JournalStats: journalStats,
		AdminToken:   serverCfg.AdminToken,
		CORSOrigins:  serverCfg.AllowedOrigins,
	})

	if !serverCfg.DisableDebug {
		if err := api.StartDebugServer(api.DefaultObservabilityConfig()); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	// Start API server in goroutine
	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		log.Printf("🌐 API server on http://localhost%s", addr)
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Periodic stats
	statsDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-statsDone:
				return
			case <-ticker.C:
				snap := engine.GetSnapshot()
				api.UpdateMatchGauges(snap)
				stats := queue.Stats()
				log.Printf("📊 Match %s seq=%d turn=%d | queue processed=%d dropped=%d | ws clients=%d",
					snap.MatchID, snap.Sequence, snap.Turn.Index,
					stats.Processed, stats.Dropped, server.Hub().ClientCount())
				if recorder != nil {
					log.Printf("💾 Journal: %v", recorder.Stats())
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	close(statsDone)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Stop(ctx)
	queue.Stop()
	handler.Stop()
	if recorder != nil {
		recorder.Stop()
	}
	if err := store.Close(); err != nil {
		log.Printf("⚠️ Journal close: %v", err)
	}
	engine.StopEventLog()
	log.Println("👋 Goodbye!")
}
