package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/b2500meter/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
)

const SERVICE_NAME = "b2500-meter"

type Server struct {
	bind        string
	port        uint
	httpLog     bool
	version     string
	rootContext *actor.RootContext
	masterActor *actor.PID
	gatherer    prometheus.Gatherer
}

func NewServer(cfg config.HealthConfig, version string, rootContext *actor.RootContext, masterActor *actor.PID, gatherer prometheus.Gatherer) *http.Server {
	NewServer := &Server{
		bind:        cfg.Bind,
		port:        cfg.Port,
		httpLog:     cfg.HttpLog,
		version:     version,
		rootContext: rootContext,
		masterActor: masterActor,
		gatherer:    gatherer,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", NewServer.bind, NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
