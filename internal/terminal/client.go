package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrEmptyResponse возвращается, когда терминал ответил 2xx, но тело не содержит
// SaleToPOIResponse. Вызывающий трактует это как отказ с отдельной причиной,
// повторная отправка не выполняется
var ErrEmptyResponse = errors.New("empty terminal response")

// syncTimeout — верхняя граница одного синхронного обмена. Платёж на физическом
// терминале включает взаимодействие с покупателем, поэтому таймаут большой
const syncTimeout = 150 * time.Second

// Client — синхронный HTTP клиент облачного endpoint-а Terminal API.
// Один запрос — один блокирующий обмен; терминал обрабатывает одну
// транзакцию за раз
type Client struct {
	logger   *zap.Logger
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewClient создаёт новый Client для указанного endpoint-а
func NewClient(logger *zap.Logger, endpoint, apiKey string) *Client {
	return &Client{
		logger:   logger,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: syncTimeout,
		},
	}
}

// Sync отправляет SaleToPOIRequest и блокируется до ответа терминала.
// Возвращает разобранный SaleToPOIResponse, ErrEmptyResponse при пустом теле
// или ошибку транспорта/статуса. Отмена через ctx поддерживается — на ней
// строится клиентский Abort
func (c *Client) Sync(ctx context.Context, req Request) (*SaleToPOIResponse, error) {
	raw, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var envelope ResponseEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode terminal response: %w", err)
	}
	if envelope.SaleToPOIResponse == nil {
		return nil, ErrEmptyResponse
	}
	return envelope.SaleToPOIResponse, nil
}

// SyncRaw отправляет SaleToPOIRequest и возвращает тело ответа как есть.
// Используется для Abort, где вызывающему отдаётся сырой ответ терминала
func (c *Client) SyncRaw(ctx context.Context, req Request) (json.RawMessage, error) {
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req Request) (json.RawMessage, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal terminal request: %w", err)
	}

	url := c.endpoint + "/sync"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create terminal request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	header := req.SaleToPOIRequest.MessageHeader
	c.logger.Debug("terminal sync request",
		zap.String("category", header.MessageCategory),
		zap.String("service_id", header.ServiceID),
		zap.String("poi_id", header.POIID),
	)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("terminal request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read terminal response: %w", err)
	}

	c.logger.Debug("terminal sync response",
		zap.String("category", header.MessageCategory),
		zap.String("service_id", header.ServiceID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("terminal API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyResponse
	}
	return body, nil
}
