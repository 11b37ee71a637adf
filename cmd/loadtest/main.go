// Команда loadtest нагружает HTTP API витрины сценариями просмотра каталога,
// наполнения корзины и оформления заказа и печатает сводку задержек.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const idempotencyHeader = "Idempotency-Key"

type loadMode string

const (
	modeBrowse   loadMode = "browse"
	modeCart     loadMode = "cart"
	modeCheckout loadMode = "checkout"
)

type config struct {
	baseURL     string
	cityDomain  string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	productID   int64
	quantity    int
	tokens      []string
	address     string
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var (
		cfg       config
		modeValue string
		tokens    string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "base-url", "http://localhost:8000", "storefront API base URL")
	fs.StringVar(&cfg.cityDomain, "city-domain", "", "city_domain query parameter (empty: Host header)")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeBrowse), "load mode: browse | cart | checkout")
	fs.Int64Var(&cfg.productID, "product-id", 1, "product used by cart and checkout scenarios")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity added to the cart per scenario")
	fs.StringVar(&tokens, "tokens", "", "comma-separated bearer tokens; workers use them round-robin")
	fs.StringVar(&cfg.address, "address", "Load test street, 1", "delivery address for checkout")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})
	for _, token := range strings.Split(tokens, ",") {
		if token = strings.TrimSpace(token); token != "" {
			cfg.tokens = append(cfg.tokens, token)
		}
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("base-url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.productID <= 0:
		return cfg, errors.New("product-id must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.mode != modeBrowse && len(cfg.tokens) == 0:
		return cfg, fmt.Errorf("mode %s requires -tokens", cfg.mode)
	case cfg.mode == modeCheckout && strings.TrimSpace(cfg.address) == "":
		return cfg, errors.New("address is required for checkout")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeBrowse, modeCart, modeCheckout:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := run(cfg, &http.Client{Timeout: cfg.timeout})

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run выполняет сценарии пулом воркеров и собирает отчёт.
func run(cfg config, client *http.Client) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		lt := &loadClient{http: client, cfg: cfg, col: col, token: tokenFor(cfg.tokens, workerID)}
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = lt.runScenario(id, runID)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func tokenFor(tokens []string, worker int) string {
	if len(tokens) == 0 {
		return ""
	}
	return tokens[worker%len(tokens)]
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type loadClient struct {
	http  *http.Client
	cfg   config
	col   *collector
	token string
}

type cartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type orderBody struct {
	Address string `json:"address"`
}

func (c *loadClient) runScenario(index int, runID string) (err error) {
	start := time.Now()
	defer func() {
		label := "ok"
		if err != nil {
			label = "failed"
		}
		c.col.record(scenarioMetric, time.Since(start), label, err == nil)
	}()

	page := index%5 + 1
	if err := c.call("list_products", http.MethodGet, c.url("/products", url.Values{"page": {fmt.Sprint(page)}}), nil, "", http.StatusOK); err != nil {
		return err
	}
	if c.cfg.mode == modeBrowse {
		return c.call("similar_products", http.MethodGet, c.url(fmt.Sprintf("/products/%d/similar", c.cfg.productID), nil), nil, "", http.StatusOK)
	}

	items := []cartItem{{ProductID: c.cfg.productID, Quantity: c.cfg.quantity}}
	if err := c.call("add_to_cart", http.MethodPost, c.url("/cart", nil), items, "", http.StatusCreated); err != nil {
		return err
	}
	if c.cfg.mode == modeCart {
		return c.call("cart_count", http.MethodGet, c.url("/cart-count", nil), nil, "", http.StatusOK)
	}

	key := fmt.Sprintf("lt-order-%s-%d", runID, index)
	return c.call("place_order", http.MethodPost, c.url("/orders", nil), orderBody{Address: c.cfg.address}, key, http.StatusCreated)
}

func (c *loadClient) url(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if c.cfg.cityDomain != "" {
		query.Set("city_domain", c.cfg.cityDomain)
	}
	if len(query) == 0 {
		return c.cfg.baseURL + path
	}
	return c.cfg.baseURL + path + "?" + query.Encode()
}

// call выполняет запрос и учитывает его под именем name.
func (c *loadClient) call(name, method, target string, body any, idempotencyKey string, want int) error {
	start := time.Now()
	status, err := c.do(method, target, body, idempotencyKey)
	ok := err == nil && status == want
	c.col.record(name, time.Since(start), statusLabel(status), ok)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: unexpected status %d", name, status)
	}
	return nil
}

func (c *loadClient) do(method, target string, body any, idempotencyKey string) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
