// Run the subscription scheduler API server.
//
// All of the project defaults are used. Credentials for the single basic-auth
// user come from PING_API_USER and PING_API_PASSWORD.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/gorilla/handlers"
	"github.com/rs/zerolog/log"

	"github.com/Pingpayio/ping-subscription-service/config"
	"github.com/Pingpayio/ping-subscription-service/server"
	"github.com/Pingpayio/ping-subscription-service/setup"
)

func configure() (http.Handler, error) {
	dbConns, err := config.GetInt("PG_SERVER_POOL_SIZE")
	if err != nil {
		log.Info().Err(err).Msg("Error getting database pool size, defaulting to 10")
		dbConns = 10
	}

	if err = setup.DB(setup.DefaultConnection, dbConns); err != nil {
		return nil, err
	}

	metrics.Namespace = "subscription_scheduler.server"
	metrics.Start("web")

	go setup.MeasureActiveQueries(5 * time.Second)

	user := os.Getenv("PING_API_USER")
	password := os.Getenv("PING_API_PASSWORD")
	if user == "" || password == "" {
		// Keep the default from the project README so local development works
		// out of the box. Change this user in production.
		user, password = "test", "hymanrickover"
		log.Info().Msg("PING_API_USER/PING_API_PASSWORD not set, using development credentials")
	}
	server.AddUser(user, password)
	return server.Get(server.DefaultAuthorizer), nil
}

func main() {
	config.SetupLogger()

	s, err := configure()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not configure server")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}
	log.Info().Str("port", port).Msg("Listening")
	err = http.ListenAndServe(fmt.Sprintf(":%s", port), handlers.LoggingHandler(os.Stdout, s))
	log.Fatal().Err(err).Msg("Server shut down")
}
