//go:build load
// +build load

// Load generator for the substrate HTTP surface. Points at a running
// server and hammers POST /execute with local system_info envelopes,
// which exercise the full codec and dispatch path without spawning
// PTYs or dialing hosts.
//
// Run with:
//
//	go run -tags=load ./tests/load -addr localhost:8700 -requests 5000 -workers 20
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
)

var (
	addr     = flag.String("addr", "localhost:8700", "HTTP server address")
	requests = flag.Int("requests", 1000, "Total number of requests")
	workers  = flag.Int("workers", 10, "Number of concurrent workers")
	endpoint = flag.String("endpoint", "execute", "Target endpoint: execute or health")
)

type result struct {
	duration time.Duration
	err      error
}

func main() {
	flag.Parse()

	log.Printf("Starting HTTP load test")
	log.Printf("Target: %s", *addr)
	log.Printf("Endpoint: /%s", *endpoint)
	log.Printf("Requests: %d", *requests)
	log.Printf("Workers: %d", *workers)

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: *workers,
		},
	}

	envelope, err := sonic.Marshal(map[string]interface{}{
		"version":   "1.0",
		"command":   map[string]interface{}{"type": "system_info"},
		"execution": map[string]interface{}{"mode": "local"},
	})
	if err != nil {
		log.Fatalf("Failed to build envelope: %v", err)
	}

	results := runLoadTest(client, envelope, *requests, *workers)

	analyzeResults(results)
}

func runLoadTest(client *http.Client, envelope []byte, totalRequests, workers int) []result {
	results := make([]result, 0, totalRequests)
	var mu sync.Mutex

	var completed atomic.Int32
	start := time.Now()

	var wg sync.WaitGroup
	requestsChan := make(chan int, totalRequests)

	// Populate requests channel
	for i := 0; i < totalRequests; i++ {
		requestsChan <- i
	}
	close(requestsChan)

	// Start workers
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for range requestsChan {
				res := executeRequest(client, envelope)

				mu.Lock()
				results = append(results, res)
				mu.Unlock()

				count := completed.Add(1)
				if count%100 == 0 {
					elapsed := time.Since(start)
					rps := float64(count) / elapsed.Seconds()
					log.Printf("Progress: %d/%d requests (%.2f req/sec)",
						count, totalRequests, rps)
				}
			}
		}()
	}

	wg.Wait()

	return results
}

func executeRequest(client *http.Client, envelope []byte) result {
	start := time.Now()

	var (
		resp *http.Response
		err  error
	)
	switch *endpoint {
	case "health":
		resp, err = client.Get("http://" + *addr + "/health")
	default:
		resp, err = client.Post("http://"+*addr+"/execute", "application/json", bytes.NewReader(envelope))
	}
	if err == nil {
		// Drain so the connection is reusable.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
	}

	return result{
		duration: time.Since(start),
		err:      err,
	}
}

func analyzeResults(results []result) {
	if len(results) == 0 {
		log.Println("No results to analyze")
		return
	}

	var (
		totalDuration time.Duration
		successCount  int
		errorCount    int
		durations     []time.Duration
	)

	for _, r := range results {
		totalDuration += r.duration
		if r.err == nil {
			successCount++
		} else {
			errorCount++
		}
		durations = append(durations, r.duration)
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	total := len(results)
	avgDuration := totalDuration / time.Duration(total)
	p50 := durations[total*50/100]
	p95 := durations[total*95/100]
	p99 := durations[total*99/100]
	maxDuration := durations[total-1]

	fmt.Println("\n========================================")
	fmt.Println("Load Test Results")
	fmt.Println("========================================")
	fmt.Printf("Total Requests:    %d\n", total)
	fmt.Printf("Successful:        %d (%.2f%%)\n", successCount, float64(successCount)/float64(total)*100)
	fmt.Printf("Failed:            %d (%.2f%%)\n", errorCount, float64(errorCount)/float64(total)*100)
	fmt.Println("----------------------------------------")
	fmt.Printf("Average Latency:   %v\n", avgDuration)
	fmt.Printf("P50 Latency:       %v\n", p50)
	fmt.Printf("P95 Latency:       %v\n", p95)
	fmt.Printf("P99 Latency:       %v\n", p99)
	fmt.Printf("Max Latency:       %v\n", maxDuration)
	fmt.Println("========================================")
}
