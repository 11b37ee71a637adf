package domain

import "time"

// Типы событий в истории заказа.
const (
	TimelineOrderPlaced    = "order.placed"
	TimelineCRMLeadCreated = "crm.lead_created"
	TimelineCRMFailed      = "crm.failed"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  int64
	Type     string
	Reason   string
	Occurred time.Time
}
