// Dequeue scheduled jobs and deliver them downstream.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/rs/zerolog/log"

	"github.com/Pingpayio/ping-subscription-service/config"
	"github.com/Pingpayio/ping-subscription-service/dequeuer"
	"github.com/Pingpayio/ping-subscription-service/services"
	"github.com/Pingpayio/ping-subscription-service/setup"
)

func checkError(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("Could not start dequeuer")
	}
}

func main() {
	config.SetupLogger()

	dbConns, err := config.GetInt("PG_WORKER_POOL_SIZE")
	if err != nil {
		log.Info().Err(err).Msg("Error getting database pool size, defaulting to 20")
		dbConns = 20
	}

	err = setup.DB(setup.DefaultConnection, dbConns)
	checkError(err)

	go setup.MeasureActiveQueries(1 * time.Second)
	go setup.MeasureQueueDepth(5 * time.Second)

	// We may make a lot of requests to the same downstream host.
	httpConns, err := config.GetInt("HTTP_MAX_IDLE_CONNS")
	if err == nil {
		config.SetMaxIdleConnsPerHost(httpConns)
	} else {
		config.SetMaxIdleConnsPerHost(100)
	}

	metrics.Namespace = "subscription_scheduler.dequeuer"
	metrics.Start("worker")

	jp := services.NewJobProcessor()

	// Every minute, check for in-progress entries that haven't been touched
	// for 7 minutes, and run them through the failure handler.
	go services.WatchStuckEntries(jp, 1*time.Minute, 7*time.Minute)

	concurrency, err := config.GetInt("DEQUEUER_CONCURRENCY")
	if err != nil {
		concurrency = dequeuer.DefaultConcurrency
	}
	pool, err := dequeuer.CreatePool(jp, concurrency)
	checkError(err)

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigterm
	log.Info().Str("signal", sig.String()).Msg("Caught signal, shutting down")
	if err := pool.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Error shutting down pool")
	}
	log.Info().Msg("Pool shut down, quitting")
}
