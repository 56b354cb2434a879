package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the load generator settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	got402        uint64 // Challenges issued
	gotAccepted   uint64 // Record syncs accepted
	got422        uint64 // Rejected payloads
	failOther     uint64
)

// classify buckets a response status into its counter. Record syncs
// answer 201 on acceptance, challenge reads 200.
func classify(status int) *uint64 {
	switch status {
	case 402:
		return &got402
	case 200, 201:
		return &gotAccepted
	case 422:
		return &got422
	default:
		return &failOther
	}
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "challenge", "Workload type: challenge | records")
}

func main() {
	flag.Parse()
	log.Printf("Starting load run: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		var resp *http.Response
		var err error
		if workload == "records" {
			resp, err = syncRecord(client)
		} else {
			resp, err = fetchChallenge(client)
		}
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		atomic.AddUint64(classify(resp.StatusCode), 1)
		resp.Body.Close()
	}
}

// fetchChallenge hits the gated resource with no proof header, which
// exercises the challenge path without touching the ledger.
func fetchChallenge(client *http.Client) (*http.Response, error) {
	id := rand.Intn(100) + 1
	amount := rand.Intn(20) + 1
	url := fmt.Sprintf("%s/api/v1/resource/load-%d?amount=%d", targetURL, id, amount)
	return client.Get(url)
}

// syncRecord posts a synthetic confirmed transfer to the record sync
// endpoint, the write path a fleet of wallet clients would generate.
func syncRecord(client *http.Client) (*http.Response, error) {
	payload := map[string]interface{}{
		"id": uuid.NewString(),
		"intent": map[string]interface{}{
			"sender":    "LoadGen1111111111111111111111111111111111111",
			"recipient": fmt.Sprintf("Recipient%d", rand.Intn(1000)+1),
			"amount":    "5",
			"asset":     "USDC",
		},
		"signature": uuid.NewString(),
		"status":    "confirmed",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequest("POST", targetURL+"/api/v1/records", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	challenges := atomic.LoadUint64(&got402)
	accepted := atomic.LoadUint64(&gotAccepted)
	rejected := atomic.LoadUint64(&got422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":       workload,
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_rps": tps,
		"challenges_402": challenges,
		"accepted":       accepted,
		"rejected_422":   rejected,
		"errors":         fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
