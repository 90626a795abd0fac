package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/query"
)

func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' to query via HTTP API, 'direct' to query ClickHouse directly.")
	apiAddr := flag.String("api", "http://localhost:8080", "Base URL of the ns-engine HTTP API.")
	classifierMode := flag.String("classifier", "", "Only count decisions made by this classifier mode (optional).")
	flowKey := flag.String("key", "", "Trace this flow key instead of summarizing.")
	since := flag.Duration("since", time.Hour, "Summarize decisions made within this long before now.")

	chHost := flag.String("ch-host", "localhost", "ClickHouse host (direct mode).")
	chPort := flag.Int("ch-port", 9000, "ClickHouse native port (direct mode).")
	chUser := flag.String("ch-user", "default", "ClickHouse user (direct mode).")
	chPassword := flag.String("ch-password", "", "ClickHouse password (direct mode).")
	flag.Parse()

	log.Printf("Running in '%s' mode.", *mode)

	req := query.SummaryRequest{Since: time.Now().UTC().Add(-*since), Mode: *classifierMode}
	switch *mode {
	case "api":
		queryViaAPI(*apiAddr, req, *flowKey)
	case "direct":
		cfg := config.ClickHouseConfig{Host: *chHost, Port: *chPort, Database: "default", Username: *chUser, Password: *chPassword}
		directQueryClickHouse(cfg, req, *flowKey)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
}

func queryViaAPI(base string, req query.SummaryRequest, flowKey string) {
	params := url.Values{}
	endpoint := "/api/v1/decisions/summary"
	if flowKey != "" {
		endpoint = "/api/v1/decisions/trace"
		params.Set("key", flowKey)
	} else {
		params.Set("since", req.Since.Format(time.RFC3339))
		if req.Mode != "" {
			params.Set("mode", req.Mode)
		}
	}
	apiURL := base + endpoint + "?" + params.Encode()

	log.Printf("Sending request to %s", apiURL)
	resp, err := http.Get(apiURL)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}
	log.Println("---")
	fmt.Println(prettyJSON.String())
}

func directQueryClickHouse(cfg config.ClickHouseConfig, req query.SummaryRequest, flowKey string) {
	q, err := query.NewClickHouseQuerier(cfg)
	if err != nil {
		log.Fatalf("Error connecting to ClickHouse: %v", err)
	}
	defer q.Close()
	log.Println("Successfully connected to ClickHouse.")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if flowKey != "" {
		trace, err := q.TraceFlow(ctx, flowKey)
		if err != nil {
			log.Fatalf("Error tracing flow: %v", err)
		}
		fmt.Printf("Flow: %s\n", trace.FlowKey)
		fmt.Printf("  Seen: %s .. %s\n", trace.FirstSeen.Format(time.RFC3339), trace.LastSeen.Format(time.RFC3339))
		fmt.Printf("  Decisions: %d\n", trace.Decisions)
		fmt.Printf("  Latest: %s (priority %d)\n", trace.Latest, trace.Priority)
		for class, n := range trace.Classes {
			fmt.Printf("    %-16s %d\n", class, n)
		}
		return
	}

	summaries, err := q.SummarizeDecisions(ctx, req)
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}

	log.Println("--- Decision Summary (Direct) ---")
	if len(summaries) == 0 {
		log.Println("No data found for the specified criteria.")
		return
	}
	for _, s := range summaries {
		fmt.Printf("Class: %s\n", s.Class)
		fmt.Printf("  Decisions: %d\n", s.Decisions)
		fmt.Printf("  Flows: %d\n", s.Flows)
		fmt.Printf("  AvgConfidence: %.3f\n", s.AvgConfidence)
		fmt.Printf("  AvgPriority: %.1f\n", s.AvgPriority)
		fmt.Println("---------------------")
	}
}
