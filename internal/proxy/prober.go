package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shaiso/rpaflow/internal/domain"
)

// Default configuration values.
const (
	defaultProbeInterval = time.Minute
	defaultProbeTimeout  = 10 * time.Second
)

// ProbeFunc выполняет проверочный запрос через прокси
// и возвращает наблюдаемую задержку.
type ProbeFunc func(ctx context.Context, px domain.Proxy) (time.Duration, error)

// Prober периодически пробует нездоровые прокси с истёкшим cooldown
// и возвращает в строй те, что ответили на probe.
type Prober struct {
	pool     *Pool
	probe    ProbeFunc
	interval time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ProberConfig — конфигурация Prober.
type ProberConfig struct {
	// Pool — пул, чьи прокси проверяются.
	Pool *Pool

	// Probe — проверочный запрос (default: HTTPProbe).
	Probe ProbeFunc

	// Interval — период между циклами probe (default: 1m).
	Interval time.Duration

	// ProbeURL — целевой URL для HTTP-probe по умолчанию.
	ProbeURL string

	// Logger (опционально).
	Logger *slog.Logger
}

// NewProber создаёт Prober.
func NewProber(cfg ProberConfig) *Prober {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	probe := cfg.Probe
	if probe == nil {
		probe = HTTPProbe(cfg.ProbeURL, defaultProbeTimeout)
	}

	return &Prober{
		pool:     cfg.Pool,
		probe:    probe,
		interval: interval,
		logger:   logger,
	}
}

// Start запускает цикл probe в фоновой горутине.
func (pr *Prober) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	pr.cancelFunc = cancel

	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		pr.loop(ctx)
	}()

	pr.logger.Info("proxy prober started", "interval", pr.interval)
}

// Stop останавливает Prober и дожидается завершения горутины.
func (pr *Prober) Stop() {
	if pr.cancelFunc != nil {
		pr.cancelFunc()
	}
	pr.wg.Wait()
	pr.logger.Info("proxy prober stopped")
}

// loop — цикл probe.
func (pr *Prober) loop(ctx context.Context) {
	ticker := time.NewTicker(pr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pr.Tick(ctx)
		}
	}
}

// Tick выполняет один цикл probe над всеми кандидатами.
// Экспортирован, чтобы оркестратор мог форсировать проверку.
func (pr *Prober) Tick(ctx context.Context) {
	for _, px := range pr.pool.probeCandidates() {
		if ctx.Err() != nil {
			return
		}

		latency, err := pr.probe(ctx, px)
		if err != nil {
			pr.logger.Debug("proxy probe failed",
				"proxy", px.Key(), "error", err)
			pr.pool.extendCooldown(px.Key())
			continue
		}
		pr.pool.markRestored(px.Key(), latency)
	}
}

// HTTPProbe возвращает ProbeFunc, выполняющий GET probeURL через прокси.
func HTTPProbe(probeURL string, timeout time.Duration) ProbeFunc {
	return func(ctx context.Context, px domain.Proxy) (time.Duration, error) {
		proxyURL, err := url.Parse(px.URL())
		if err != nil {
			return 0, fmt.Errorf("parse proxy url: %w", err)
		}

		client := &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
		if err != nil {
			return 0, fmt.Errorf("build probe request: %w", err)
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("probe request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return 0, fmt.Errorf("probe status %d", resp.StatusCode)
		}
		return time.Since(start), nil
	}
}
