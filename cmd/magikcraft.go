package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"magikcraft/internal/caldarium"
	"magikcraft/internal/config"
	"magikcraft/internal/lobby"
	"magikcraft/internal/memory"
	"magikcraft/internal/scheduler"
	"magikcraft/internal/transport"
	"magikcraft/internal/world"
)

var addr = flag.String("addr", "", "http service address, overrides MAGIK_ADDR")
var recipesPath = flag.String("recipes", "", "caldarium recipe book path, overrides MAGIK_RECIPES_PATH")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Load config error: ", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *recipesPath != "" {
		cfg.RecipesPath = *recipesPath
	}
	if err := config.SetupLogging(cfg); err != nil {
		log.Fatal("Setup logging error: ", err)
	}

	policy, err := scheduler.ParseEmptyRunPolicy(cfg.EmptyRunPolicy)
	if err != nil {
		log.Fatal("Empty run policy error: ", err)
	}

	version, err := os.ReadFile("version")
	if err != nil {
		log.WithError(err).Debug("Cannot read file 'version'")
		version = []byte("dev")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	book, err := caldarium.Open(cfg.RecipesPath)
	if err != nil {
		log.Fatal("Open recipe book error: ", err)
	}
	defer book.Close()
	if _, err := book.Seed(ctx, caldarium.DefaultRecipes); err != nil {
		log.Fatal("Seed recipe book error: ", err)
	}

	sched := scheduler.New(scheduler.SystemClock, policy)

	var lobbyInstance *lobby.Lobby
	gameWorld := world.NewWorld(
		world.Config{
			PluginName:   cfg.ServerName,
			Version:      string(bytes.TrimSpace(version)),
			Name:         cfg.WorldName,
			OpenPlatform: cfg.OpenPlatform,
		},
		book,
		scheduler.SystemClock,
		func(event interface{}) { lobbyInstance.BroadcastEvent(event) },
		func(player string, event interface{}) bool { return lobbyInstance.SendToPlayer(player, event) },
	)
	lobbyInstance = lobby.NewLobby(gameWorld, sched, memory.NewStore(), memory.NewRegistry(), cfg.MaxScriptBytes)

	go lobbyInstance.Run(ctx)
	go gameWorld.StartMainLoop(ctx)
	go func() {
		if err := sched.Run(ctx, cfg.TickPeriod); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Scheduler stopped")
		}
	}()

	// scripts travel JSON-escaped inside a command
	maxMessageSize := int64(cfg.MaxScriptBytes)*2 + 1024

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		transport.ServeWebSocketRequest(lobbyInstance, maxMessageSize, w, r)
	})
	server := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("Listening http://%s", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("ListenAndServe: ", err)
	}
}
