package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/rpaflow/internal/domain"
)

// ProxyRepo — репозиторий снапшотов статистики прокси.
type ProxyRepo struct {
	pool *pgxpool.Pool
}

// NewProxyRepo создаёт новый ProxyRepo.
func NewProxyRepo(pool *pgxpool.Pool) *ProxyRepo {
	return &ProxyRepo{pool: pool}
}

// SaveAll сохраняет снапшот всех прокси одним batch-ом.
func (r *ProxyRepo) SaveAll(ctx context.Context, proxies []domain.Proxy) error {
	if len(proxies) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO proxies (address, port, protocol, country, is_healthy,
		                     response_time, success_rate, total_requests, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (address, port) DO UPDATE
		SET is_healthy = EXCLUDED.is_healthy,
		    response_time = EXCLUDED.response_time,
		    success_rate = EXCLUDED.success_rate,
		    total_requests = EXCLUDED.total_requests,
		    updated_at = now()
	`
	for _, px := range proxies {
		batch.Queue(query,
			px.Address,
			px.Port,
			px.Protocol,
			px.Country,
			px.IsHealthy,
			px.ResponseTime,
			px.SuccessRate,
			px.TotalRequests,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range proxies {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("save proxy snapshot: %w", err)
		}
	}
	return nil
}

// ListAll возвращает все сохранённые прокси со статистикой.
func (r *ProxyRepo) ListAll(ctx context.Context) ([]domain.Proxy, error) {
	query := `
		SELECT address, port, protocol, country, is_healthy,
		       response_time, success_rate, total_requests
		FROM proxies
		ORDER BY address, port
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var proxies []domain.Proxy
	for rows.Next() {
		var px domain.Proxy
		if err := rows.Scan(
			&px.Address,
			&px.Port,
			&px.Protocol,
			&px.Country,
			&px.IsHealthy,
			&px.ResponseTime,
			&px.SuccessRate,
			&px.TotalRequests,
		); err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		proxies = append(proxies, px)
	}
	return proxies, rows.Err()
}
