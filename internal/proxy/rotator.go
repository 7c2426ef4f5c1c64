package proxy

import (
	"fmt"
	"math/rand"

	"github.com/shaiso/rpaflow/internal/domain"
)

// Strategy — стратегия ротации прокси.
type Strategy string

const (
	// StrategyRoundRobin — по кругу в порядке добавления.
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyRandom — равновероятный случайный выбор.
	StrategyRandom Strategy = "random"

	// StrategyLeastUsed — прокси с наименьшим числом запросов.
	StrategyLeastUsed Strategy = "least_used"

	// StrategyFastest — прокси с минимальной EMA-задержкой.
	StrategyFastest Strategy = "fastest"

	// StrategyWeighted — взвешенный случайный выбор,
	// вес = success_rate / (1 + response_time).
	StrategyWeighted Strategy = "weighted"
)

// ParseStrategy валидирует строковое имя стратегии.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRoundRobin, StrategyRandom, StrategyLeastUsed, StrategyFastest, StrategyWeighted:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// defaultWeight — вес прокси без статистики: нейтральный шанс,
// чтобы новые прокси получали трафик.
const defaultWeight = 50.0

// selectLocked выбирает прокси из candidates по текущей стратегии.
// Вызывается под мьютексом пула; candidates непустой.
func (p *Pool) selectLocked(candidates []*member) *member {
	switch p.strategy {
	case StrategyRandom:
		return candidates[p.rand.Intn(len(candidates))]

	case StrategyLeastUsed:
		best := candidates[0]
		for _, m := range candidates[1:] {
			if m.proxy.TotalRequests < best.proxy.TotalRequests {
				best = m
			}
		}
		return best

	case StrategyFastest:
		var best *member
		for _, m := range candidates {
			if m.proxy.TotalRequests == 0 {
				continue
			}
			if best == nil || m.proxy.ResponseTime < best.proxy.ResponseTime {
				best = m
			}
		}
		if best == nil {
			// Нет данных о задержках — падаем в случайный выбор
			return candidates[p.rand.Intn(len(candidates))]
		}
		return best

	case StrategyWeighted:
		return p.selectWeightedLocked(candidates)

	default: // StrategyRoundRobin
		m := candidates[p.rrIndex%len(candidates)]
		p.rrIndex++
		return m
	}
}

// selectWeightedLocked — взвешенный случайный выбор.
func (p *Pool) selectWeightedLocked(candidates []*member) *member {
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, m := range candidates {
		weights[i] = memberWeight(m.proxy)
		total += weights[i]
	}

	r := p.rand.Float64() * total
	cumulative := 0.0
	for i, m := range candidates {
		cumulative += weights[i]
		if r <= cumulative {
			return m
		}
	}
	return candidates[len(candidates)-1]
}

// memberWeight вычисляет вес прокси для взвешенного выбора.
func memberWeight(px *domain.Proxy) float64 {
	if px.TotalRequests == 0 {
		return defaultWeight
	}
	rate := px.SuccessRate
	if rate < 1 {
		rate = 1
	}
	return rate / (1 + px.ResponseTime)
}

// randSource — интерфейс генератора для выбора; *rand.Rand подходит.
type randSource interface {
	Intn(n int) int
	Float64() float64
}

var _ randSource = (*rand.Rand)(nil)
