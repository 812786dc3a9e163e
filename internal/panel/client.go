// Package panel реализует клиент provisioning-панели: единственную
// точку исходящих вызовов к её REST API. Клиент ограничивает число
// попыток, разделяет временные и постоянные ошибки и переиспользует
// соединения между вызовами.
package panel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/starlight-labs/starshop/internal/config"
	"github.com/starlight-labs/starshop/internal/lib/sl"
)

// Статусы, после которых вызов повторяется.
var retryableStatusCodes = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client — клиент REST API панели.
type Client struct {
	apiURL      string
	token       string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	backoffBase time.Duration
	log         *slog.Logger
}

// NewClient создаёт клиент панели. Отключённая проверка TLS-сертификата —
// явный выбор оператора, о котором клиент громко предупреждает в логе.
func NewClient(cfg config.Panel, log *slog.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.TLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		log.Warn("panel TLS certificate verification is DISABLED by config")
	}

	return &Client{
		apiURL: strings.TrimRight(cfg.PanelURL, "/") + "/api",
		token:  cfg.PanelToken,
		httpClient: &http.Client{
			Timeout:   cfg.CallTimeout,
			Transport: transport,
		},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), int(cfg.RateLimitRPS)+1),
		maxAttempts: cfg.MaxAttempts,
		backoffBase: 600 * time.Millisecond,
		log:         log,
	}
}

// Ping проверяет доступность панели. Вызывается на старте процесса:
// недоступная панель — фатальная ошибка конфигурации.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListNodes(ctx)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do выполняет вызов с ограниченным числом попыток и экспоненциальным
// backoff с джиттером. Таймаут классифицируется как временная ошибка
// и никогда не считается гарантированным провалом на стороне панели.
func (c *Client) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	start := time.Now()
	payload, err := c.doAttempts(ctx, method, endpoint, body)
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		requestsTotal.WithLabelValues(method, "ok").Inc()
	case IsTransient(err):
		requestsTotal.WithLabelValues(method, string(ClassTransient)).Inc()
	default:
		requestsTotal.WithLabelValues(method, string(ClassPermanent)).Inc()
	}
	return payload, err
}

func (c *Client) doAttempts(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var lastErr *Error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Class: ClassTransient, Method: method, Endpoint: endpoint, Message: err.Error()}
		}

		req, err := c.newRequest(ctx, method, endpoint, body)
		if err != nil {
			return nil, &Error{Class: ClassPermanent, Method: method, Endpoint: endpoint, Message: err.Error()}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &Error{Class: ClassTransient, Method: method, Endpoint: endpoint, Message: err.Error()}
			c.log.Warn("panel call failed",
				slog.String("method", method), slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt), sl.Err(err))
			c.sleepBackoff(ctx, attempt)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = &Error{Class: ClassTransient, Method: method, Endpoint: endpoint, Message: readErr.Error()}
			c.sleepBackoff(ctx, attempt)
			continue
		}

		if retryableStatusCodes[resp.StatusCode] {
			lastErr = &Error{Class: ClassTransient, StatusCode: resp.StatusCode,
				Method: method, Endpoint: endpoint, Message: resp.Status}
			c.log.Warn("panel returned retryable status",
				slog.String("method", method), slog.String("endpoint", endpoint),
				slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt))
			c.sleepBackoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrNotFound)
		}
		if resp.StatusCode >= 400 {
			msg := resp.Status
			if len(respBody) > 0 {
				msg = truncate(string(respBody), 300)
			}
			return nil, &Error{Class: ClassPermanent, StatusCode: resp.StatusCode,
				Method: method, Endpoint: endpoint, Message: msg}
		}

		return extractPayload(respBody), nil
	}

	return nil, lastErr
}

// sleepBackoff ждёт перед следующей попыткой: база растёт экспоненциально,
// джиттер размывает синхронные повторы конкурентных вызовов.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) {
	backoff := c.backoffBase * time.Duration(1<<(attempt-1))
	backoff += time.Duration(rand.Int63n(int64(c.backoffBase)))
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
}

// extractPayload снимает конверт ответа: панели разных версий
// заворачивают полезную нагрузку в "response" либо "data".
func extractPayload(body []byte) []byte {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return body
	}
	if inner, ok := envelope["response"]; ok {
		return inner
	}
	if inner, ok := envelope["data"]; ok {
		return inner
	}
	return body
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// CreateUser создаёт аккаунт на панели.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	payload, err := c.do(ctx, http.MethodPost, "/users", req)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, &Error{Class: ClassPermanent, Method: http.MethodPost, Endpoint: "/users", Message: err.Error()}
	}
	return &user, nil
}

// UpdateUser частично обновляет аккаунт на панели.
func (c *Client) UpdateUser(ctx context.Context, req UpdateUserRequest) (*User, error) {
	payload, err := c.do(ctx, http.MethodPatch, "/users", req)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, &Error{Class: ClassPermanent, Method: http.MethodPatch, Endpoint: "/users", Message: err.Error()}
	}
	return &user, nil
}

// DeleteUser удаляет аккаунт на панели.
func (c *Client) DeleteUser(ctx context.Context, uuid string) error {
	_, err := c.do(ctx, http.MethodDelete, "/users/"+uuid, nil)
	return err
}

// GetUser возвращает аккаунт по внешнему идентификатору.
func (c *Client) GetUser(ctx context.Context, uuid string) (*User, error) {
	payload, err := c.do(ctx, http.MethodGet, "/users/"+uuid, nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, &Error{Class: ClassPermanent, Method: http.MethodGet, Endpoint: "/users/" + uuid, Message: err.Error()}
	}
	return &user, nil
}

// GetUserByUsername ищет аккаунт по имени. Используется проверкой
// идемпотентности доставки: по детерминированному имени видно, что
// предыдущая попытка уже успела на стороне панели.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	payload, err := c.do(ctx, http.MethodGet, "/users/by-username/"+username, nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, &Error{Class: ClassPermanent, Method: http.MethodGet,
			Endpoint: "/users/by-username/" + username, Message: err.Error()}
	}
	return &user, nil
}

// ResetUserTraffic сбрасывает накопленный трафик аккаунта.
func (c *Client) ResetUserTraffic(ctx context.Context, uuid string) error {
	_, err := c.do(ctx, http.MethodPost, "/users/"+uuid+"/actions/reset-traffic", nil)
	return err
}

// ListNodes возвращает список узлов панели с их состоянием.
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	payload, err := c.do(ctx, http.MethodGet, "/nodes", nil)
	if err != nil {
		return nil, err
	}
	var nodes []Node
	if err := json.Unmarshal(payload, &nodes); err != nil {
		return nil, &Error{Class: ClassPermanent, Method: http.MethodGet, Endpoint: "/nodes", Message: err.Error()}
	}
	return nodes, nil
}

// GetUserRequestHistory возвращает журнал обращений к подписке аккаунта.
func (c *Client) GetUserRequestHistory(ctx context.Context, uuid string) ([]RequestLogItem, error) {
	endpoint := "/users/" + uuid + "/subscription-request-history"
	payload, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var items []RequestLogItem
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, &Error{Class: ClassPermanent, Method: http.MethodGet, Endpoint: endpoint, Message: err.Error()}
	}
	return items, nil
}
