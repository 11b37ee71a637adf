package crm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/crm/bitrix"
)

// ErrCircuitOpen возвращается без обращения к CRM, пока breaker открыт.
var ErrCircuitOpen = errors.New("crm circuit breaker is open")

// CircuitState — состояние breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker размыкается после maxFailures подряд неудачных вызовов и пропускает
// пробный вызов по истечении resetTimeout.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
}

// NewCircuitBreaker создаёт breaker. maxFailures <= 0 трактуется как 1.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        CircuitClosed,
		logger:       log.WithField("component", "crm-breaker"),
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет fn, если breaker не открыт.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	if err := cb.before(operation); err != nil {
		return err
	}
	err := fn()
	cb.after(operation, err)
	return err
}

func (cb *CircuitBreaker) before(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	case CircuitHalfOpen:
		// Пробный вызов уже выполняется.
		return ErrCircuitOpen
	}
	return nil
}

func (cb *CircuitBreaker) after(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithFields(log.Fields{"operation": operation, "failures": cb.failures}).Warn("circuit breaker opened")
			}
			cb.state = CircuitOpen
		}
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.state = CircuitClosed
	cb.failures = 0
}

// errUnavailable отмечает ответ CRM 5xx как сбой для breaker.
var errUnavailable = errors.New("crm responded with server error")

// GuardedClient пропускает вызовы LeadClient через CircuitBreaker. Транспортные ошибки
// и ответы 5xx считаются сбоями; ответы 4xx отдаются вызывающему как есть.
type GuardedClient struct {
	next    LeadClient
	breaker *CircuitBreaker
}

// NewGuardedClient оборачивает клиента CRM.
func NewGuardedClient(next LeadClient, breaker *CircuitBreaker) *GuardedClient {
	return &GuardedClient{next: next, breaker: breaker}
}

func (g *GuardedClient) call(operation string, fn func() (bitrix.Response, error)) (bitrix.Response, error) {
	var resp bitrix.Response
	err := g.breaker.Execute(operation, func() error {
		var err error
		resp, err = fn()
		if err == nil && resp.Status >= http.StatusInternalServerError {
			return errUnavailable
		}
		return err
	})
	if errors.Is(err, errUnavailable) {
		return resp, nil
	}
	return resp, err
}

// AssigneeID ищет ответственного по email.
func (g *GuardedClient) AssigneeID(ctx context.Context, email string) (string, error) {
	var id string
	err := g.breaker.Execute("user.get", func() error {
		var err error
		id, err = g.next.AssigneeID(ctx, email)
		if errors.Is(err, bitrix.ErrAssigneeNotFound) {
			return nil
		}
		return err
	})
	if err == nil && id == "" {
		return "", bitrix.ErrAssigneeNotFound
	}
	return id, err
}

// AddLead создаёт лид.
func (g *GuardedClient) AddLead(ctx context.Context, lead bitrix.Lead) (bitrix.Response, error) {
	return g.call("lead.add", func() (bitrix.Response, error) { return g.next.AddLead(ctx, lead) })
}

// UpdateLead меняет поля лида.
func (g *GuardedClient) UpdateLead(ctx context.Context, id int64, fields map[string]any) (bitrix.Response, error) {
	return g.call("lead.update", func() (bitrix.Response, error) { return g.next.UpdateLead(ctx, id, fields) })
}

// DeleteLead удаляет лид.
func (g *GuardedClient) DeleteLead(ctx context.Context, id int64) (bitrix.Response, error) {
	return g.call("lead.delete", func() (bitrix.Response, error) { return g.next.DeleteLead(ctx, id) })
}

// GetLead читает лид.
func (g *GuardedClient) GetLead(ctx context.Context, id int64) (bitrix.Response, error) {
	return g.call("lead.get", func() (bitrix.Response, error) { return g.next.GetLead(ctx, id) })
}

// ListLeads выгружает лиды за период.
func (g *GuardedClient) ListLeads(ctx context.Context, from, to time.Time) ([]map[string]any, error) {
	var leads []map[string]any
	err := g.breaker.Execute("lead.list", func() error {
		var err error
		leads, err = g.next.ListLeads(ctx, from, to)
		return err
	})
	return leads, err
}

var _ LeadClient = (*GuardedClient)(nil)
