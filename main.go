package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/sirupsen/logrus"

	"github.com/statroom/statroom/internal/auth"
	"github.com/statroom/statroom/internal/database"
	"github.com/statroom/statroom/internal/engine"
	"github.com/statroom/statroom/internal/events"
	"github.com/statroom/statroom/internal/handlers"
	"github.com/statroom/statroom/internal/middleware"
	"github.com/statroom/statroom/internal/registry"
	"github.com/statroom/statroom/internal/store"
	"github.com/statroom/statroom/internal/sweeper"
)

func main() {
	logger := logrus.New()
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Room store: Postgres when configured, otherwise in-memory. A broken
	// Postgres config is fatal; the process must not serve without a
	// working store.
	var roomStore store.Store
	if os.Getenv("PG_HOST") != "" {
		database.ConnectDB()
		defer database.DB.Close()
		roomStore = store.NewPostgresStore(database.DB)
	} else {
		logger.Warn("PG_HOST not set, using in-memory room store")
		roomStore = store.NewMemoryStore()
	}

	// Room event queue is advisory; run without it if Redis is absent.
	var publisher *events.Publisher
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		var err error
		publisher, err = events.Connect(addr, getEnvInt("REDIS_DB", 0), os.Getenv("EVENT_QUEUE_NAME"), logger)
		if err != nil {
			logger.Warnf("room event queue disabled: %v", err)
		} else {
			defer publisher.Close()
		}
	}

	auth.Init()

	reg := registry.NewRegistry()
	eng := engine.New(roomStore, reg, publisher, logger)

	roomAPI := &handlers.RoomAPI{Engine: eng, Log: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/", handlers.PingHandler)
	mux.HandleFunc("/user/create", handlers.CreateUserHandler)
	mux.HandleFunc("/user/login", handlers.LoginHandler)
	mux.HandleFunc("/api/rooms", roomAPI.CreateRoomHandler)
	mux.HandleFunc("/api/rooms/", roomAPI.RoomHandler)
	mux.Handle("/ws", handlers.TrackerWSHandler(logger, eng, reg))

	server := &http.Server{
		Handler:      middleware.LogMiddleware(logger)(mux),
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sw := sweeper.New(
		roomStore,
		getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
		getEnvDuration("ROOM_TTL", time.Hour),
		logger,
	)
	go sw.Run(sweepCtx)

	port := os.Getenv("TRACKER_SERVICE_PORT")
	if port == "" {
		port = "4000"
	}
	l, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		logger.Fatalf("failed to listen: %v", err)
	}
	logger.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
