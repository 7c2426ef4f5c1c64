package worker

import (
	"context"

	"github.com/shaiso/rpaflow/internal/domain"
)

// Result — результат успешной попытки исполнения.
type Result struct {
	// ItemsScraped — количество извлечённых элементов.
	ItemsScraped int

	// ArtifactRef — ссылка на сохранённый артефакт
	// (скриншот, дамп страницы), если есть.
	ArtifactRef string
}

// Executor исполняет одну попытку task.
//
// Для пула это непрозрачная, потенциально медленная операция —
// браузерная автоматизация или HTTP-скрейпинг. Executor обязан
// уважать ctx (таймаут попытки и кооперативная отмена); пул при этом
// переживает исполнителей, игнорирующих ctx: их поздний результат
// отбрасывается.
//
// proxy равен nil, когда прокси выключены или необязательны
// и недоступны; в этом случае попытка идёт напрямую.
type Executor interface {
	Execute(ctx context.Context, task domain.Task, proxy *domain.Proxy) (Result, error)
}

// ExecutorFunc — адаптер функции под интерфейс Executor.
type ExecutorFunc func(ctx context.Context, task domain.Task, proxy *domain.Proxy) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, task domain.Task, proxy *domain.Proxy) (Result, error) {
	return f(ctx, task, proxy)
}

// TaskStore — durable-хранилище task-ов.
// Пул вызывает Save на диспетчеризации и терминальных переходах,
// не дожидаясь синхронной durability: ошибка Save логируется,
// но не меняет судьбу task.
type TaskStore interface {
	Save(ctx context.Context, task domain.Task) error
}

// EventSink — fire-and-forget публикация событий жизненного цикла task.
type EventSink interface {
	TaskEvent(ctx context.Context, kind string, task domain.Task)
}
