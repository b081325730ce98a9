package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"loa-board/internal/client"
	"loa-board/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	}

	cfg, err := config.MirrorFromEnv()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	if len(os.Args) > 1 {
		cfg.URL = os.Args[1]
	}

	log.Println("👀 ================================")
	log.Println("👀  LOA BOARD - MIRROR")
	log.Println("👀 ================================")

	listener := client.NewListener(client.Config{
		URL:    cfg.URL,
		Origin: cfg.Origin,
		Token:  cfg.Token,
	})
	listener.OnResult = func(id, event string, data json.RawMessage) {
		log.Printf("📨 %s %s: %s", event, id, data)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := listener.Connect(ctx); err != nil {
		log.Printf("⚠️ Initial connect failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- listener.Run(ctx)
	}()

	for snap := range listener.Updates {
		status := fmt.Sprintf("turn %d: %s to move", snap.Turn.Index, snap.Turn.Current)
		if !snap.Turn.Started {
			status = "waiting for players"
		}
		if snap.Ended {
			status = fmt.Sprintf("%s wins", snap.Winner)
		}
		fmt.Printf("\n== match %s | seq %d | %s\n%s", snap.MatchID, snap.Sequence, status, listener.Mirror().BoardString())
	}

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("❌ Mirror stopped: %v", err)
	}
	log.Println("👋 Goodbye!")
}
