// Package bitrix — клиент REST-вебхуков Bitrix24 для лидов.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultTimeout = 15 * time.Second
	listBatchSize  = 50
	dateLayout     = "2006-01-02T15:04:05"
)

// ErrAssigneeNotFound — Bitrix24 не вернул пользователя с заданным email.
var ErrAssigneeNotFound = errors.New("bitrix assignee not found")

// Config содержит базовые URL вебхуков; к каждому добавляется имя метода.
type Config struct {
	UserGetURL    string
	LeadAddURL    string
	LeadUpdateURL string
	LeadDeleteURL string
	LeadGetURL    string
	LeadListURL   string
	Timeout       time.Duration
}

// Response — тело и HTTP-статус ответа Bitrix24.
type Response struct {
	Body   map[string]any
	Status int
}

// OK сообщает об успехе: 2xx и 3xx.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 400
}

// Client вызывает методы crm.lead.* и user.get.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Entry
}

// NewClient создаёт клиента Bitrix24.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient, logger: log.WithField("component", "bitrix")}
}

// AssigneeID возвращает ID пользователя портала по email.
func (c *Client) AssigneeID(ctx context.Context, email string) (string, error) {
	resp, err := c.post(ctx, c.cfg.UserGetURL, "user.get.json", url.Values{"EMAIL": {email}}, nil)
	if err != nil {
		return "", err
	}
	users, _ := resp.Body["result"].([]any)
	if len(users) == 0 {
		return "", ErrAssigneeNotFound
	}
	user, _ := users[0].(map[string]any)
	switch id := user["ID"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return strconv.FormatInt(int64(id), 10), nil
	}
	return "", ErrAssigneeNotFound
}

// AddLead вызывает crm.lead.add.
func (c *Client) AddLead(ctx context.Context, lead Lead) (Response, error) {
	return c.post(ctx, c.cfg.LeadAddURL, "crm.lead.add.json", nil, lead)
}

// UpdateLead вызывает crm.lead.update.
func (c *Client) UpdateLead(ctx context.Context, id int64, fields map[string]any) (Response, error) {
	return c.post(ctx, c.cfg.LeadUpdateURL, "crm.lead.update.json", nil, map[string]any{"id": id, "fields": fields})
}

// DeleteLead вызывает crm.lead.delete.
func (c *Client) DeleteLead(ctx context.Context, id int64) (Response, error) {
	return c.post(ctx, c.cfg.LeadDeleteURL, "crm.lead.delete.json", nil, map[string]any{"id": id})
}

// GetLead вызывает crm.lead.get.
func (c *Client) GetLead(ctx context.Context, id int64) (Response, error) {
	return c.get(ctx, c.cfg.LeadGetURL, "crm.lead.get.json", url.Values{"id": {strconv.FormatInt(id, 10)}})
}

// ListLeads выбирает лиды, созданные в [from, to], постранично по 50.
// Ошибочная страница логируется, выборка прекращается на ней.
func (c *Client) ListLeads(ctx context.Context, from, to time.Time) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("filter[>=DATE_CREATE]", from.Format(dateLayout))
	if !to.IsZero() {
		params.Set("filter[<=DATE_CREATE]", to.Format(dateLayout))
	}

	leads := make([]map[string]any, 0)
	for start := 0; ; start += listBatchSize {
		params.Set("start", strconv.Itoa(start))
		resp, err := c.get(ctx, c.cfg.LeadListURL, "crm.lead.list.json", params)
		if err != nil {
			return leads, err
		}
		if _, failed := resp.Body["error"]; failed || !resp.OK() {
			c.logger.WithFields(log.Fields{"status": resp.Status, "start": start}).Error("bitrix lead list request failed")
			return leads, nil
		}

		batch, _ := resp.Body["result"].([]any)
		for _, item := range batch {
			if lead, ok := item.(map[string]any); ok {
				leads = append(leads, lead)
			}
		}
		if len(batch) < listBatchSize {
			return leads, nil
		}
	}
}

func (c *Client) get(ctx context.Context, base, method string, params url.Values) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(base, method, params), nil)
	if err != nil {
		return Response{}, fmt.Errorf("build %s request: %w", method, err)
	}
	return c.do(req, method)
}

func (c *Client) post(ctx context.Context, base, method string, params url.Values, body any) (Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("encode %s body: %w", method, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(base, method, params), reader)
	if err != nil {
		return Response{}, fmt.Errorf("build %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, method)
}

// do выполняет запрос. Ошибка возвращается только при сбое транспорта;
// неуспешный статус отдаётся в Response вместе с телом.
func (c *Client) do(req *http.Request, method string) (Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("bitrix %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	out := Response{Status: resp.StatusCode, Body: map[string]any{}}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return out, fmt.Errorf("read bitrix %s response: %w", method, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out.Body); err != nil {
			c.logger.WithError(err).WithField("method", method).Warn("bitrix response is not a JSON object")
		}
	}
	if !out.OK() {
		c.logger.WithFields(log.Fields{"method": method, "status": out.Status}).Error("bitrix request failed")
	}
	return out, nil
}

func endpoint(base, method string, params url.Values) string {
	u := strings.TrimSuffix(base, "/") + "/" + method
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}
