// Package backend реализует очередь исходящих HTTP-запросов к бэкенду
// и очередь асинхронных ответов для оркестратора.
package backend

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	// MaxResponseBody ограничивает размер сохраняемого тела ответа.
	// Превышение усекается, а не считается ошибкой.
	MaxResponseBody = 1024

	queueCapacity  = 6
	defaultTimeout = 10 * time.Second
)

// RequestKind помечает назначение запроса. Метка возвращается в ответе,
// чтобы оркестратор сопоставлял ответы с состоянием, которое их запросило.
type RequestKind int

const (
	KindValidateToken RequestKind = iota + 1
	KindUpdateQuantities
	KindConfirmDelivery
)

// String возвращает текстовое представление назначения запроса.
func (k RequestKind) String() string {
	switch k {
	case KindValidateToken:
		return "VALIDATE_TOKEN"
	case KindUpdateQuantities:
		return "UPDATE_QUANTITIES"
	case KindConfirmDelivery:
		return "CONFIRM_DELIVERY"
	default:
		return "UNKNOWN"
	}
}

// Request описывает исходящий POST-запрос с JSON-телом.
type Request struct {
	Kind RequestKind
	URL  string
	Body string
}

// Response описывает ответ бэкенда. Нулевой StatusCode означает
// транспортную ошибку или таймаут и обрабатывается как не-200.
type Response struct {
	Kind       RequestKind
	StatusCode int
	Body       string
}

// Client — рабочая задача HTTP-обмена: потребляет очередь запросов,
// выполняет их и складывает ответы в очередь для оркестратора.
type Client struct {
	httpClient   *retryablehttp.Client
	requests     chan Request
	responses    chan Response
	networkReady func() bool
	logger       *zap.Logger
}

// NewClient создаёт HTTP-клиент бэкенда. networkReady опрашивается перед
// каждым запросом: при недоступной сети запрос не выполняется, а в очередь
// ответов кладётся ответ с нулевым статусом.
func NewClient(timeout time.Duration, networkReady func() bool, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil

	return &Client{
		httpClient:   rc,
		requests:     make(chan Request, queueCapacity),
		responses:    make(chan Response, queueCapacity),
		networkReady: networkReady,
		logger:       logger,
	}
}

// Enqueue пытается поставить запрос в очередь без блокировки.
// Возвращает false при заполненной очереди.
func (c *Client) Enqueue(req Request) bool {
	select {
	case c.requests <- req:
		return true
	default:
		c.logger.Warn("backend request queue full, request dropped",
			zap.String("kind", req.Kind.String()))
		return false
	}
}

// TryResponse возвращает очередной ответ без ожидания, если он есть.
func (c *Client) TryResponse() (Response, bool) {
	select {
	case resp := <-c.responses:
		return resp, true
	default:
		return Response{}, false
	}
}

// Run запускает цикл обработки очереди запросов до отмены контекста.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.requests:
			resp := c.execute(ctx, req)
			c.pushResponse(resp)
		}
	}
}

func (c *Client) execute(ctx context.Context, req Request) Response {
	if c.networkReady != nil && !c.networkReady() {
		c.logger.Warn("backend request skipped: network not ready",
			zap.String("kind", req.Kind.String()))
		return Response{Kind: req.Kind}
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, req.URL, []byte(req.Body))
	if err != nil {
		c.logger.Error("create backend request", zap.Error(err))
		return Response{Kind: req.Kind}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "vending-controller/1.0")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("backend request failed",
			zap.String("kind", req.Kind.String()), zap.Error(err))
		return Response{Kind: req.Kind}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, MaxResponseBody))
	if err != nil {
		c.logger.Error("read backend response", zap.Error(err))
		return Response{Kind: req.Kind, StatusCode: httpResp.StatusCode}
	}

	c.logger.Info("backend response",
		zap.String("kind", req.Kind.String()),
		zap.Int("status", httpResp.StatusCode),
		zap.Int("bytes", len(body)))

	return Response{
		Kind:       req.Kind,
		StatusCode: httpResp.StatusCode,
		Body:       string(body),
	}
}

func (c *Client) pushResponse(resp Response) {
	select {
	case c.responses <- resp:
	default:
		c.logger.Warn("backend response queue full, response dropped",
			zap.String("kind", resp.Kind.String()))
	}
}
