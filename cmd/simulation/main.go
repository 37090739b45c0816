package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/webhook"
)

const (
	minOrders     = 15
	maxOrders     = 150
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var (
	symbols    = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META"}
	sides      = []string{"BUY", "SELL"}
	strategies = []string{"alpha-momentum", "mean-revert", "pairs-tech"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the execution API
type simulationClient struct {
	baseURL       string
	authToken     string
	webhookSecret []byte
	client        *http.Client

	mu    sync.Mutex
	stats map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		secret = "webhook-secret-key"
	}

	sc := &simulationClient{
		baseURL:       serverAddress,
		webhookSecret: []byte(secret),
		client:        client,
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"create":  {name: "Create Order"},
			"twap":    {name: "Create TWAP Order"},
			"get":     {name: "Get Order"},
			"replace": {name: "Replace Order"},
			"webhook": {name: "Webhook Event"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stats[route].addDuration(time.Since(start))
	if failed {
		sc.stats[route].failures++
	}
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("auth", start, failed) }()

	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		apiKey = "local-dev-key"
	}
	apiSecret := os.Getenv("API_SECRET")
	if apiSecret == "" {
		apiSecret = "local-dev-secret"
	}
	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		failed = true
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		failed = true
		return "", err
	}

	return result.Data.Token, nil
}

// createOrder submits a new order and returns the assigned client order id.
func (sc *simulationClient) createOrder(order *types.OrderRequest) (string, error) {
	route := "create"
	if order.ExecutionStyle == types.ExecutionStyleTWAP {
		route = "twap"
	}
	start := time.Now()
	failed := false
	defer func() { sc.record(route, start, failed) }()

	body, err := json.Marshal(order)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Create order response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return "", fmt.Errorf("create order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Order struct {
				ClientOrderID string `json:"client_order_id"`
			} `json:"order"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		failed = true
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if result.Data.Order.ClientOrderID == "" {
		failed = true
		return "", fmt.Errorf("no client order ID in response: %s", string(respBody))
	}

	return result.Data.Order.ClientOrderID, nil
}

// getOrder retrieves the current state of an order
func (sc *simulationClient) getOrder(clientOrderID string) (*types.Order, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("get", start, failed) }()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/orders/%s", sc.baseURL, clientOrderID),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		failed = true
		return nil, fmt.Errorf("get order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool        `json:"success"`
		Data    types.Order `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		failed = true
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// replaceOrder requests a cancel/replace for an order
func (sc *simulationClient) replaceOrder(clientOrderID string, newQty float64) error {
	start := time.Now()
	failed := false
	defer func() { sc.record("replace", start, failed) }()

	payload := types.ReplaceRequest{
		Changes:        types.OrderChanges{Quantity: &newQty},
		IdempotencyKey: uuid.New().String(),
		Reason:         "simulation resize",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders/%s/replace", sc.baseURL, clientOrderID),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	log.Debug().Str("response", string(respBody)).Msg("Replace order response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return fmt.Errorf("replace order failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// pushFillEvent delivers a signed webhook event marking the order filled,
// exercising the push-side reconciliation path.
func (sc *simulationClient) pushFillEvent(order *types.Order) error {
	start := time.Now()
	failed := false
	defer func() { sc.record("webhook", start, failed) }()

	brokerOrderID := ""
	if order.BrokerOrderID != nil {
		brokerOrderID = *order.BrokerOrderID
	}

	event := webhook.Event{
		EventID:        uuid.New().String(),
		ClientOrderID:  order.ClientOrderID,
		BrokerOrderID:  brokerOrderID,
		Status:         types.StatusFilled,
		FilledQuantity: order.Quantity,
		AvgFillPrice:   50 + rand.Float64()*450,
		Timestamp:      time.Now().UTC(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/webhooks/orders", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(sc.webhookSecret, body))

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		failed = true
		return fmt.Errorf("webhook event failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// randomOrderRequest generates a plausible order. Roughly one in five is a
// TWAP parent so the slice scheduler sees steady traffic.
func randomOrderRequest() *types.OrderRequest {
	req := &types.OrderRequest{
		Symbol:     symbols[rand.Intn(len(symbols))],
		Side:       sides[rand.Intn(len(sides))],
		Quantity:   float64(rand.Intn(96)+5) * 10,
		OrderType:  types.OrderTypeMarket,
		StrategyID: strategies[rand.Intn(len(strategies))],
	}

	if rand.Intn(2) == 0 {
		price := 50 + rand.Float64()*450
		req.OrderType = types.OrderTypeLimit
		req.LimitPrice = &price
	}

	if rand.Intn(5) == 0 {
		req.ExecutionStyle = types.ExecutionStyleTWAP
		req.SliceCount = rand.Intn(4) + 2
		req.SliceIntervalMS = int64(rand.Intn(4000) + 1000)
	}

	return req
}

// runWorker drives one stream of simulated order flow
func runWorker(id int, sc *simulationClient, jobs <-chan int, wg *sync.WaitGroup) {
	defer wg.Done()

	for range jobs {
		req := randomOrderRequest()

		clientOrderID, err := sc.createOrder(req)
		if err != nil {
			log.Error().Err(err).Int("worker", id).Msg("create order failed")
			continue
		}

		order, err := sc.getOrder(clientOrderID)
		if err != nil {
			log.Error().Err(err).Int("worker", id).Msg("get order failed")
			continue
		}

		// TWAP parents are worked by the scheduler; leave them be.
		if order.ExecutionStyle == types.ExecutionStyleTWAP {
			continue
		}

		switch rand.Intn(4) {
		case 0:
			if err := sc.replaceOrder(clientOrderID, order.Quantity*2); err != nil {
				log.Warn().Err(err).Int("worker", id).Msg("replace failed")
			}
		case 1, 2:
			if err := sc.pushFillEvent(order); err != nil {
				log.Warn().Err(err).Int("worker", id).Msg("webhook fill failed")
			}
		}

		// Re-read so the final state shows up in debug logs.
		if _, err := sc.getOrder(clientOrderID); err != nil {
			log.Warn().Err(err).Int("worker", id).Msg("final get failed")
		}
	}
}

// printStats renders the per-route latency table
func (sc *simulationClient) printStats() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	fmt.Println("\nRoute statistics:")
	for _, rs := range sc.stats {
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("  %-18s calls=%-4d failures=%-3d min=%s max=%s mean=%s median=%s p95=%s p99=%s\n",
			rs.name, rs.totalCalls, rs.failures, min, max, mean, median, p95, p99)
	}
}

// main runs a randomized load simulation against a locally running server
func main() {
	rand.Seed(time.Now().UnixNano())

	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	numOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("orders", numOrders).Int("workers", numWorkers).Msg("Starting simulation")

	jobs := make(chan int, numOrders)
	var wg sync.WaitGroup
	for w := 1; w <= numWorkers; w++ {
		wg.Add(1)
		go runWorker(w, sc, jobs, &wg)
	}

	for i := 0; i < numOrders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	log.Info().Msg("Simulation complete")
	sc.printStats()
}
