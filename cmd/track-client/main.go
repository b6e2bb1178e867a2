package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/driftline/behavior-analytics/internal/tracking"
	"github.com/driftline/behavior-analytics/pkg/task"
	"go.uber.org/zap"
)

// Replays a realistic browsing session against a running ingestion
// endpoint: a slow read with pauses, a frustrated rage burst, section
// dwells and a mid-depth exit.
func main() {
	endpoint := flag.String("endpoint", "http://localhost:8080/v1/events", "ingestion endpoint")
	tokenPath := flag.String("token-file", ".track-token", "anonymized token cache file")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	tasks, err := task.NewRunner(8, logger)
	if err != nil {
		log.Fatalf("Failed to create task runner: %v", err)
	}
	defer tasks.Close()

	emitter := tracking.NewHTTPEmitter(*endpoint, logger)
	emitter.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

	client, err := tracking.NewClient(tracking.Config{
		Host: "driftline.dev",
	}, tracking.Deps{
		Emitter:    emitter,
		TokenStore: &tracking.FileStore{Path: *tokenPath},
		Tasks:      tasks,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("Failed to create tracking client: %v", err)
	}
	defer client.Close()

	if err := client.Start(context.Background(), "/pricing", "https://www.google.com/search"); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	fmt.Printf("Session started: %s\n\n", client.SessionID())

	const pageHeight, viewportHeight = 4000.0, 900.0

	fmt.Println("Reading down the page")
	for _, top := range []float64{200, 500, 900, 1400} {
		client.OnScroll(top, pageHeight, viewportHeight)
		time.Sleep(400 * time.Millisecond)
	}

	fmt.Println("Dwelling on the features section")
	client.SectionEnter("features")
	time.Sleep(2 * time.Second)
	client.SectionLeave("features")

	fmt.Println("Pausing to read, then resuming")
	time.Sleep(4 * time.Second)
	client.OnScroll(2200, pageHeight, viewportHeight)

	fmt.Println("Rage scrolling")
	tops := []float64{2400, 2000, 2500, 2100, 2600, 2200}
	for _, top := range tops {
		client.OnScroll(top, pageHeight, viewportHeight)
		time.Sleep(150 * time.Millisecond)
	}

	fmt.Println("Showing contact intent")
	client.ContactIntent()

	fmt.Println("Navigating to /docs and leaving quickly")
	client.Navigate("/docs")
	client.OnScroll(100, pageHeight, viewportHeight)
	time.Sleep(time.Second)

	client.OnHide()

	// Give the background emissions time to drain before the pool closes.
	time.Sleep(2 * time.Second)
	fmt.Println("\nSession replay complete")
}
