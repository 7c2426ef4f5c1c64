package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/rpaflow/internal/domain"
)

// Store объединяет репозитории в durable-хранилище, каким его
// потребляет ядро оркестрации.
type Store struct {
	Tasks   *TaskRepo
	Proxies *ProxyRepo
}

// NewStore создаёт Store поверх пула соединений.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Tasks:   NewTaskRepo(pool),
		Proxies: NewProxyRepo(pool),
	}
}

// Save сохраняет снапшот task.
func (s *Store) Save(ctx context.Context, task domain.Task) error {
	return s.Tasks.Save(ctx, task)
}

// Load возвращает сохранённый task по ID.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	task, err := s.Tasks.GetByID(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	return *task, nil
}

// ListResumable возвращает незавершённые tasks прошлого процесса.
func (s *Store) ListResumable(ctx context.Context) ([]domain.Task, error) {
	return s.Tasks.ListResumable(ctx)
}

// SaveProxies сохраняет снапшот статистики прокси.
func (s *Store) SaveProxies(ctx context.Context, proxies []domain.Proxy) error {
	return s.Proxies.SaveAll(ctx, proxies)
}
