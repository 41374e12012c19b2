// Transcript viewer: consumes the fragment and interaction topics and relays
// them to browsers over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ai-speech-intelligence-service/internal/observability/logging"
	"ai-speech-intelligence-service/internal/viewer"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	fragmentTopic := flag.String("fragment-topic", "interaction.transcript.fragment", "Fragment topic")
	interactionTopic := flag.String("interaction-topic", "interaction.completed", "Completed interaction topic")
	group := flag.String("group", "transcript-viewer", "Kafka consumer group")
	port := flag.String("port", "8090", "HTTP port")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console", Service: "transcript-viewer"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokerList := strings.Split(*brokers, ",")
	hub := viewer.NewHub()
	for _, topic := range []string{*fragmentTopic, *interactionTopic} {
		go viewer.Consume(ctx, viewer.NewReader(brokerList, topic, *group), hub, topic)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", viewer.Page)
	mux.Handle("/ws", hub)
	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", *port).Strs("brokers", brokerList).Msg("Transcript viewer started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("HTTP serve failed")
		os.Exit(1)
	}
}
