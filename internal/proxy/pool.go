package proxy

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/rpaflow/internal/domain"
	"github.com/shaiso/rpaflow/internal/telemetry"
)

// EventSink получает переходы здоровья прокси.
// Публикация — fire-and-forget: ошибки остаются на стороне sink.
type EventSink interface {
	ProxyEvent(ctx context.Context, px domain.Proxy)
}

// emaAlpha — коэффициент экспоненциального сглаживания статистики.
const emaAlpha = 0.3

// member — прокси вместе со служебным состоянием здоровья.
type member struct {
	proxy *domain.Proxy

	consecutiveFails int

	// cooldownUntil — до этого момента нездоровый прокси не пробуется.
	cooldownUntil time.Time
}

// Config — конфигурация пула.
type Config struct {
	// Enabled — использовать ли прокси вообще.
	// При false Acquire всегда возвращает (nil, nil).
	Enabled bool

	// Mandatory — обязательность прокси: при пустом или полностью
	// нездоровом пуле Acquire возвращает ErrNoHealthyProxy.
	Mandatory bool

	// FailThreshold — число подряд идущих ошибок, после которого
	// прокси помечается нездоровым.
	FailThreshold int

	// Cooldown — пауза перед probe-попыткой нездорового прокси.
	Cooldown time.Duration

	// Strategy — стратегия ротации.
	Strategy Strategy

	// Events — публикация переходов здоровья (опционально).
	Events EventSink

	// Logger (опционально).
	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time

	// Rand — источник случайности (для тестов).
	Rand randSource
}

// Pool — разделяемый пул прокси с учётом здоровья и статистики.
type Pool struct {
	mu sync.Mutex

	// members — прокси по ключу host:port.
	members map[string]*member

	// order — стабильный порядок для round-robin.
	order []string

	// lastUsed — прокси предыдущей попытки каждого task.
	lastUsed map[uuid.UUID]string

	rrIndex int

	enabled       bool
	mandatory     bool
	failThreshold int
	cooldown      time.Duration
	strategy      Strategy

	events EventSink
	logger *slog.Logger
	now    func() time.Time
	rand   randSource
}

// New создаёт пул прокси.
func New(cfg Config) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	threshold := cfg.FailThreshold
	if threshold <= 0 {
		threshold = 3
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyWeighted
	}

	return &Pool{
		members:       make(map[string]*member),
		lastUsed:      make(map[uuid.UUID]string),
		enabled:       cfg.Enabled,
		mandatory:     cfg.Mandatory,
		failThreshold: threshold,
		cooldown:      cfg.Cooldown,
		strategy:      strategy,
		events:        cfg.Events,
		logger:        logger,
		now:           now,
		rand:          rnd,
	}
}

// Add добавляет прокси в пул. Дубликаты по host:port игнорируются.
func (p *Pool) Add(px domain.Proxy) {
	key := px.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.members[key]; exists {
		return
	}
	px.IsHealthy = true
	p.members[key] = &member{proxy: &px}
	p.order = append(p.order, key)
	telemetry.HealthyProxies.Set(float64(p.healthyCountLocked()))
}

// RestoreStats применяет сохранённый снапшот статистики к известному
// прокси. Неизвестные host:port игнорируются: снапшот прошлого процесса
// может содержать прокси, убранные из прокси-листа.
func (p *Pool) RestoreStats(px domain.Proxy) {
	key := px.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[key]
	if !ok {
		return
	}
	m.proxy.IsHealthy = px.IsHealthy
	m.proxy.ResponseTime = px.ResponseTime
	m.proxy.SuccessRate = px.SuccessRate
	m.proxy.TotalRequests = px.TotalRequests
	telemetry.HealthyProxies.Set(float64(p.healthyCountLocked()))
}

// LoadFile загружает прокси из файла, по одному на строку.
// Пустые строки и строки-комментарии (#) пропускаются,
// невалидные строки логируются и не прерывают загрузку.
func (p *Pool) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open proxy file: %w", err)
	}
	defer f.Close()

	loaded := 0
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		px, err := domain.ParseProxy(scanner.Text())
		if err != nil {
			p.logger.Warn("skipping invalid proxy line",
				"file", path, "line", line, "error", err)
			continue
		}
		if px == nil {
			continue
		}
		p.Add(*px)
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("read proxy file: %w", err)
	}

	p.logger.Info("proxies loaded", "file", path, "count", loaded)
	return loaded, nil
}

// Acquire выбирает прокси для попытки task.
//
// Прокси предыдущей попытки того же task исключается из кандидатов,
// если остаётся хотя бы один другой здоровый прокси. Возвращает
// (nil, nil), когда прокси выключены или необязательны и недоступны.
func (p *Pool) Acquire(taskID uuid.UUID) (*domain.Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return nil, nil
	}

	healthy := p.healthyLocked()
	if len(healthy) == 0 {
		if p.mandatory {
			return nil, ErrNoHealthyProxy
		}
		return nil, nil
	}

	candidates := healthy
	if prev, ok := p.lastUsed[taskID]; ok && len(healthy) > 1 {
		filtered := make([]*member, 0, len(healthy)-1)
		for _, m := range healthy {
			if m.proxy.Key() != prev {
				filtered = append(filtered, m)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	m := p.selectLocked(candidates)
	p.lastUsed[taskID] = m.proxy.Key()

	snapshot := *m.proxy
	return &snapshot, nil
}

// healthyLocked возвращает здоровых member-ов в порядке добавления.
func (p *Pool) healthyLocked() []*member {
	result := make([]*member, 0, len(p.members))
	for _, key := range p.order {
		if m := p.members[key]; m.proxy.IsHealthy {
			result = append(result, m)
		}
	}
	return result
}

func (p *Pool) healthyCountLocked() int {
	n := 0
	for _, m := range p.members {
		if m.proxy.IsHealthy {
			n++
		}
	}
	return n
}

// Report обновляет статистику прокси по исходу попытки.
//
// Успех сбрасывает consecutive failures; после failThreshold подряд
// идущих ошибок прокси помечается нездоровым и уходит в cooldown.
// Переход здоровья и обновление статистики атомарны: прокси не может
// быть выбран между ними.
func (p *Pool) Report(key string, success bool, latency time.Duration) error {
	p.mu.Lock()

	m, ok := p.members[key]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProxy, key)
	}

	px := m.proxy
	px.TotalRequests++

	outcome := 0.0
	if success {
		outcome = 100.0
	}
	if px.TotalRequests == 1 {
		px.SuccessRate = outcome
	} else {
		px.SuccessRate = emaAlpha*outcome + (1-emaAlpha)*px.SuccessRate
	}

	if success {
		sec := latency.Seconds()
		if px.ResponseTime == 0 {
			px.ResponseTime = sec
		} else {
			px.ResponseTime = emaAlpha*sec + (1-emaAlpha)*px.ResponseTime
		}
		m.consecutiveFails = 0
		p.mu.Unlock()
		return nil
	}

	m.consecutiveFails++
	var transition *domain.Proxy
	if px.IsHealthy && m.consecutiveFails >= p.failThreshold {
		px.IsHealthy = false
		m.cooldownUntil = p.now().Add(p.cooldown)
		telemetry.ProxyHealthTransitions.WithLabelValues("unhealthy").Inc()
		telemetry.HealthyProxies.Set(float64(p.healthyCountLocked()))
		p.logger.Warn("proxy marked unhealthy",
			"proxy", key,
			"consecutive_fails", m.consecutiveFails,
			"cooldown_until", m.cooldownUntil,
		)
		snap := *px
		transition = &snap
	}
	p.mu.Unlock()

	if transition != nil {
		p.notify(*transition)
	}
	return nil
}

// Release забывает привязку task к последнему прокси.
// Вызывается при терминальном завершении task.
func (p *Pool) Release(taskID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.lastUsed, taskID)
}

// probeCandidates возвращает снапшоты нездоровых прокси,
// у которых истёк cooldown.
func (p *Pool) probeCandidates() []domain.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var due []domain.Proxy
	for _, key := range p.order {
		m := p.members[key]
		if !m.proxy.IsHealthy && !now.Before(m.cooldownUntil) {
			due = append(due, *m.proxy)
		}
	}
	return due
}

// markRestored возвращает прокси в строй после успешного probe.
func (p *Pool) markRestored(key string, latency time.Duration) {
	p.mu.Lock()

	m, ok := p.members[key]
	if !ok || m.proxy.IsHealthy {
		p.mu.Unlock()
		return
	}

	m.proxy.IsHealthy = true
	m.consecutiveFails = 0
	sec := latency.Seconds()
	if m.proxy.ResponseTime == 0 {
		m.proxy.ResponseTime = sec
	} else {
		m.proxy.ResponseTime = emaAlpha*sec + (1-emaAlpha)*m.proxy.ResponseTime
	}

	telemetry.ProxyHealthTransitions.WithLabelValues("healthy").Inc()
	telemetry.HealthyProxies.Set(float64(p.healthyCountLocked()))
	p.logger.Info("proxy restored", "proxy", key)

	snap := *m.proxy
	p.mu.Unlock()

	p.notify(snap)
}

// notify отправляет переход здоровья во внешний sink.
// Вызывается без мьютекса: публикация может блокироваться.
func (p *Pool) notify(px domain.Proxy) {
	if p.events == nil {
		return
	}
	p.events.ProxyEvent(context.Background(), px)
}

// extendCooldown откладывает следующий probe после неудачной проверки.
func (p *Pool) extendCooldown(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.members[key]; ok && !m.proxy.IsHealthy {
		m.cooldownUntil = p.now().Add(p.cooldown)
	}
}

// Enabled сообщает, используются ли прокси.
func (p *Pool) Enabled() bool {
	return p.enabled
}

// Size возвращает общее число прокси в пуле.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

// HealthyCount возвращает число здоровых прокси.
func (p *Pool) HealthyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthyCountLocked()
}

// Snapshot возвращает копии всех прокси, отсортированные по ключу.
func (p *Pool) Snapshot() []domain.Proxy {
	p.mu.Lock()
	result := make([]domain.Proxy, 0, len(p.members))
	for _, m := range p.members {
		result = append(result, *m.proxy)
	}
	p.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key() < result[j].Key()
	})
	return result
}
