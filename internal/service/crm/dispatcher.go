// Package crm доставляет заказы во внешнюю CRM в виде лидов.
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/crm/bitrix"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

// LeadClient — операции CRM над лидами.
type LeadClient interface {
	AssigneeID(ctx context.Context, email string) (string, error)
	AddLead(ctx context.Context, lead bitrix.Lead) (bitrix.Response, error)
	UpdateLead(ctx context.Context, id int64, fields map[string]any) (bitrix.Response, error)
	DeleteLead(ctx context.Context, id int64) (bitrix.Response, error)
	GetLead(ctx context.Context, id int64) (bitrix.Response, error)
	ListLeads(ctx context.Context, from, to time.Time) ([]map[string]any, error)
}

// Deps — источники данных для сборки лида.
type Deps struct {
	Orders   domain.OrderRepository
	Users    domain.UserRepository
	Cities   domain.CityRepository
	Catalog  domain.CatalogRepository
	Timeline domain.TimelineRepository
	Metrics  *metrics.StorefrontMetrics
}

// Dispatcher доставляет заказы в CRM.
type Dispatcher struct {
	deps          Deps
	client        LeadClient
	assigneeEmail string
	logger        *log.Entry
}

// NewDispatcher создаёт диспетчер; assigneeEmail — email ответственного по умолчанию.
func NewDispatcher(client LeadClient, deps Deps, assigneeEmail string) *Dispatcher {
	return &Dispatcher{
		deps:          deps,
		client:        client,
		assigneeEmail: assigneeEmail,
		logger:        log.WithField("component", "crm-dispatcher"),
	}
}

// Publish принимает задачу crm.order_created из очереди outbox.
func (d *Dispatcher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	var job domain.CRMOrderJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		d.logger.WithError(err).WithField("message_id", msg.ID).Error("malformed CRM job dropped")
		return nil
	}
	return d.Deliver(ctx, job)
}

// Deliver создаёт лид для заказа. Ошибка возвращается только для повторяемых сбоев
// (транспорт, неуспешный статус CRM); отсутствующий заказ логируется и пропускается.
func (d *Dispatcher) Deliver(ctx context.Context, job domain.CRMOrderJob) (err error) {
	ctx, span := tracing.Start(ctx, "crm.deliver",
		attribute.Int64("order_id", job.OrderID),
		attribute.String("city_domain", job.Domain),
	)
	defer func() { tracing.End(span, err) }()

	logger := d.logger.WithFields(log.Fields{"order_id": job.OrderID, "city_domain": job.Domain})

	delivered, err := d.alreadyDelivered(ctx, job.OrderID)
	if err != nil {
		return err
	}
	if delivered {
		logger.Info("order lead already created, repeated job skipped")
		return nil
	}

	lead, err := d.composeLead(ctx, job)
	if domain.IsNotFound(err) {
		logger.WithError(err).Error("CRM job skipped: order data missing")
		return nil
	}
	if err != nil {
		return err
	}

	resp, err := d.client.AddLead(ctx, lead)
	if err == nil && !resp.OK() {
		err = fmt.Errorf("%w: crm.lead.add status %d", domain.ErrSendFailed, resp.Status)
	}
	d.deps.Metrics.RecordCRMDelivery("lead.add", err == nil)
	if err != nil {
		logger.WithError(err).WithField("response", resp.Body).Error("order lead creation failed")
		d.timeline(ctx, job.OrderID, domain.TimelineCRMFailed, err.Error())
		return err
	}

	logger.WithField("lead", resp.Body["result"]).Info("order lead created")
	d.timeline(ctx, job.OrderID, domain.TimelineCRMLeadCreated, "")
	return nil
}

// alreadyDelivered сообщает, что лид заказа уже создан предыдущей доставкой.
func (d *Dispatcher) alreadyDelivered(ctx context.Context, orderID int64) (bool, error) {
	if d.deps.Timeline == nil {
		return false, nil
	}
	events, err := d.deps.Timeline.List(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("load order timeline: %w", err)
	}
	for _, e := range events {
		if e.Type == domain.TimelineCRMLeadCreated {
			return true, nil
		}
	}
	return false, nil
}

func (d *Dispatcher) composeLead(ctx context.Context, job domain.CRMOrderJob) (bitrix.Lead, error) {
	order, err := d.deps.Orders.Get(ctx, job.OrderID)
	if err != nil {
		return bitrix.Lead{}, fmt.Errorf("load order: %w", err)
	}

	var customer domain.User
	if order.UserID != 0 {
		customer, err = d.deps.Users.GetUser(ctx, order.UserID)
		if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
			return bitrix.Lead{}, fmt.Errorf("load customer: %w", err)
		}
	}

	cityName := ""
	if city, err := d.deps.Cities.GetCityByDomain(ctx, job.Domain); err == nil {
		cityName = city.Name
	} else if !errors.Is(err, domain.ErrCityNotFound) {
		return bitrix.Lead{}, fmt.Errorf("load city: %w", err)
	}

	ids := make([]int64, 0, len(order.Lines))
	for _, l := range order.Lines {
		ids = append(ids, l.ProductID)
	}
	products, err := d.deps.Catalog.GetProducts(ctx, ids)
	if err != nil {
		return bitrix.Lead{}, fmt.Errorf("load products: %w", err)
	}

	assignee := ""
	if d.assigneeEmail != "" {
		assignee, err = d.client.AssigneeID(ctx, d.assigneeEmail)
		if err != nil {
			d.logger.WithError(err).Warn("lead assignee lookup failed")
			assignee = ""
		}
	}

	return BuildLead(order, customer, cityName, products, job.Domain, assignee), nil
}

// BuildLead собирает лид заказа. Имя берётся из профиля покупателя, если заполнены
// имя и фамилия, иначе из данных получателя; телефон — из профиля или получателя.
func BuildLead(order domain.Order, customer domain.User, cityName string, products map[int64]domain.Product, cityDomain, assigneeID string) bitrix.Lead {
	first, last := order.Receiver.FirstName, order.Receiver.LastName
	if customer.FirstName != "" && customer.LastName != "" {
		first, last = customer.FirstName, customer.LastName
	}
	name := strings.TrimSpace(first + " " + last)

	phone := customer.Phone
	if phone == "" {
		phone = order.Receiver.Phone
	}

	return bitrix.NewLead(bitrix.LeadFields{
		Title:        fmt.Sprintf("%s Заказ от %s", phone, name),
		OriginID:     strconv.FormatInt(order.ID, 10),
		Name:         first,
		LastName:     last,
		AssignedByID: assigneeID,
		Address:      order.Address,
		Opportunity:  order.Total.InexactFloat64(),
		Phone:        bitrix.WorkField(phone),
		Web:          bitrix.WorkField(cityDomain),
		City:         cityName,
		Comments:     LeadComment(order.Lines, products),
	})
}

// LeadComment перечисляет позиции заказа по блоку на строку.
func LeadComment(lines []domain.OrderLine, products map[int64]domain.Product) string {
	blocks := make([]string, 0, len(lines))
	for _, l := range lines {
		title := products[l.ProductID].Title
		if title == "" {
			title = "Товар #" + strconv.FormatInt(l.ProductID, 10)
		}
		blocks = append(blocks, fmt.Sprintf("%s\n\tКоличество: %d\n\tЦена: %s", title, l.Quantity, l.Price.StringFixed(2)))
	}
	return strings.Join(blocks, "\n")
}

func (d *Dispatcher) timeline(ctx context.Context, orderID int64, kind, reason string) {
	if d.deps.Timeline == nil {
		return
	}
	if err := d.deps.Timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		Type:     kind,
		Reason:   reason,
		Occurred: time.Now().UTC(),
	}); err != nil {
		d.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append CRM timeline event")
		return
	}
	d.deps.Metrics.RecordTimelineEvent()
}

// UpdateLead меняет поля лида; неуспешный статус не считается ошибкой вызова.
func (d *Dispatcher) UpdateLead(ctx context.Context, id int64, fields map[string]any) (bitrix.Response, error) {
	resp, err := d.client.UpdateLead(ctx, id, fields)
	d.deps.Metrics.RecordCRMDelivery("lead.update", err == nil && resp.OK())
	return resp, err
}

// DeleteLead удаляет лид.
func (d *Dispatcher) DeleteLead(ctx context.Context, id int64) (bitrix.Response, error) {
	resp, err := d.client.DeleteLead(ctx, id)
	d.deps.Metrics.RecordCRMDelivery("lead.delete", err == nil && resp.OK())
	return resp, err
}

// GetLead читает лид.
func (d *Dispatcher) GetLead(ctx context.Context, id int64) (bitrix.Response, error) {
	resp, err := d.client.GetLead(ctx, id)
	d.deps.Metrics.RecordCRMDelivery("lead.get", err == nil && resp.OK())
	return resp, err
}

// ListLeadsByPeriod возвращает лиды, созданные за последнее окно window (по умолчанию 4 недели).
func (d *Dispatcher) ListLeadsByPeriod(ctx context.Context, window time.Duration) ([]map[string]any, error) {
	if window <= 0 {
		window = 4 * 7 * 24 * time.Hour
	}
	now := time.Now()
	leads, err := d.client.ListLeads(ctx, now.Add(-window), now)
	d.deps.Metrics.RecordCRMDelivery("lead.list", err == nil)
	return leads, err
}

// StatusWebhook обновляет статус заказа по вебхуку CRM (поля id и status).
func StatusWebhook(orders domain.OrderRepository) bitrix.WebhookHandler {
	return bitrix.WebhookHandlerFunc(func(ctx context.Context, form url.Values) error {
		id, err := strconv.ParseInt(form.Get("id"), 10, 64)
		if err != nil {
			return domain.NewValidationError("id", "ожидается числовой идентификатор заказа")
		}
		status := domain.OrderStatus(strings.ToUpper(form.Get("status")))
		if !status.Valid() {
			return domain.NewValidationError("status", "недопустимый статус заказа")
		}
		return orders.UpdateStatus(ctx, id, status)
	})
}
