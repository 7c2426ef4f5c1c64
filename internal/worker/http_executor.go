package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shaiso/rpaflow/internal/domain"
)

const defaultUserAgent = "rpaflow/1.0"

// maxBodyBytes — предел чтения тела ответа.
const maxBodyBytes = 4 << 20

// HTTPExecutor — executor по умолчанию: выполняет GET target_url
// через назначенный прокси и классифицирует исход.
//
// Это минимальный исполнитель для smoke-прогонов и task-ов, которым
// достаточно факта доступности страницы. Извлечение данных из DOM —
// работа внешнего браузерного исполнителя, подключаемого вместо него.
//
// Классификация:
//   - 403, 407, 429 — blocked
//   - сетевые ошибки и таймауты — network / timeout
//   - пустое тело — invalid_page
type HTTPExecutor struct{}

// Execute выполняет HTTP-запрос попытки.
func (e *HTTPExecutor) Execute(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
	transport := &http.Transport{}
	if px != nil {
		proxyURL, err := url.Parse(px.URL())
		if err != nil {
			return Result{}, NewExecError(KindNetwork, fmt.Errorf("parse proxy url: %w", err))
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.TargetURL, nil)
	if err != nil {
		return Result{}, NewExecError(KindNetwork, fmt.Errorf("build request: %w", err))
	}

	ua := task.Config.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	for key, val := range task.Config.Headers {
		req.Header.Set(key, val)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, NewExecError(Classify(err), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusProxyAuthRequired, http.StatusTooManyRequests:
		return Result{}, NewExecError(KindBlocked, fmt.Errorf("target responded %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return Result{}, NewExecError(KindInvalidPage, fmt.Errorf("target responded %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, NewExecError(Classify(err), fmt.Errorf("read body: %w", err))
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return Result{}, NewExecError(KindInvalidPage, fmt.Errorf("empty response body"))
	}

	return Result{ItemsScraped: 1}, nil
}
