package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type request struct {
	method string
	path   string
	body   string
}

// nextRequest picks a demo shop request, including some that miss or are invalid.
func nextRequest(rng *rand.Rand) request {
	switch rng.IntN(7) {
	case 0:
		return request{method: http.MethodGet, path: "/api/users"}
	case 1:
		return request{method: http.MethodGet, path: fmt.Sprintf("/api/users/%d", rng.IntN(6)+1)}
	case 2:
		return request{method: http.MethodGet, path: "/api/orders"}
	case 3:
		return request{method: http.MethodGet, path: fmt.Sprintf("/api/orders/%d", rng.IntN(4)+1)}
	case 4:
		return request{method: http.MethodGet, path: "/api/products"}
	case 5:
		return request{method: http.MethodPost, path: "/api/orders", body: fmt.Sprintf(`{"product":"Phone","quantity":%d}`, rng.IntN(5)+1)}
	default:
		return request{method: http.MethodPost, path: "/api/orders", body: `{"product":"Bag"}`}
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:5000", "Base URL of the demo API")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 200, "Requests per second limit")
	flag.Parse()

	log.Printf("Starting load test on %s", *baseURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d", *concurrency, *duration, *rps)

	var (
		wg         sync.WaitGroup
		errorCount atomic.Int64
		statusMu   sync.Mutex
		statuses   = map[int]int64{}
	)
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), *concurrency)

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{
				Timeout: 5 * time.Second,
			}
			rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				r := nextRequest(rng)
				var body io.Reader
				if r.body != "" {
					body = bytes.NewBufferString(r.body)
				}
				req, err := http.NewRequestWithContext(ctx, r.method, *baseURL+r.path, body)
				if err != nil {
					continue // Should not happen
				}
				req.Header.Set("X-Request-ID", uuid.NewString())
				if r.body != "" {
					req.Header.Set("Content-Type", "application/json")
				}

				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errorCount.Add(1)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				statusMu.Lock()
				statuses[resp.StatusCode]++
				statusMu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	var totalRequests int64
	codes := make([]int, 0, len(statuses))
	for code, n := range statuses {
		codes = append(codes, code)
		totalRequests += n
	}
	sort.Ints(codes)
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Responses: %d", totalRequests)
	for _, code := range codes {
		log.Printf("  %d: %d", code, statuses[code])
	}
	log.Printf("Transport Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}
