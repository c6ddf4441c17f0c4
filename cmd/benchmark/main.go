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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	password    string
)

// Metrics
var (
	totalRequests uint64
	successOK     uint64 // Completed operations
	fail409       uint64 // Conflicts (ownership, concurrent modification, wish collisions)
	fail422       uint64 // Business rejections (stock, funds)
	failOther     uint64
)

var itemNames = []string{"Widget", "Gadget", "Sprocket", "Gizmo", "Doohickey"}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&password, "password", "password123", "Password of the seeded traders")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, i+1, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// worker logs a seeded trader in over the websocket (the session must stay
// live for the REST surface to accept its calls) and hammers sell/buy/wish.
func worker(wg *sync.WaitGroup, id int, start time.Time) {
	defer wg.Done()

	trader := fmt.Sprintf("trader-%04d", id)
	conn, err := dialSession(trader)
	if err != nil {
		log.Printf("worker %d: session setup failed: %v", id, err)
		return
	}
	defer conn.Close()
	go func() {
		// Drain notifications so ping/pong keeps being processed.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		name, price := generateItem()
		var endpoint string
		payload := map[string]interface{}{"trader": trader, "quantity": int64(1)}

		switch r := rand.Float32(); {
		case r < 0.5:
			endpoint = "/sell"
			payload["name"], payload["price"] = name, price
		case r < 0.9:
			endpoint = "/buy"
			payload["name"], payload["price"] = name, price
		default:
			endpoint = "/wish"
			payload["name"], payload["max_price"] = name, price
		}

		body, _ := json.Marshal(payload)
		resp, err := client.Post(targetURL+"/api/v1"+endpoint, "application/json", bytes.NewBuffer(body))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200, 201:
			atomic.AddUint64(&successOK, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func dialSession(trader string) (*websocket.Conn, error) {
	wsURL := strings.Replace(targetURL, "http", "ws", 1) + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}

	login := map[string]string{"op": "login", "trader": trader, "password": password}
	if err := conn.WriteJSON(login); err != nil {
		conn.Close()
		return nil, err
	}

	var welcome struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, err
	}
	if welcome.Status != "ok" {
		conn.Close()
		return nil, fmt.Errorf("handshake rejected: %s", welcome.Error)
	}
	return conn, nil
}

func generateItem() (string, float64) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic hits one listing key
		if rand.Float32() < 0.90 {
			return itemNames[0], 10.0
		}
	}

	// Uniform Random
	name := itemNames[rand.Intn(len(itemNames))]
	price := float64(rand.Intn(20)+1) * 5.0
	return name, price
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&successOK)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	conflictRate := float64(f409) / float64(total) * 100

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"success":           ok,
		"conflicts":         f409,
		"conflict_rate_pct": conflictRate,
		"rejections":        f422,
		"errors":            fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
