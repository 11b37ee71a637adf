package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

type productView struct {
	ID          int64   `json:"id"`
	Article     string  `json:"article"`
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	Description string  `json:"description,omitempty"`
	CategoryID  int64   `json:"category"`
	BrandID     int64   `json:"brand,omitempty"`
	Image       string  `json:"image,omitempty"`
	Thumbnail   string  `json:"thumbnail,omitempty"`
	InStock     bool    `json:"in_stock"`
	Popular     bool    `json:"is_popular"`
	New         bool    `json:"is_new"`
	Priority    int     `json:"priority"`
	Price       *string `json:"price"`
	OldPrice    *string `json:"old_price"`
	Orderable   bool    `json:"orderable"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func newProductView(p pricing.Priced) productView {
	v := productView{
		ID:          p.Product.ID,
		Article:     p.Product.Article,
		Title:       p.Product.Title,
		Slug:        p.Product.Slug,
		Description: p.Product.Description,
		CategoryID:  p.Product.CategoryID,
		BrandID:     p.Product.BrandID,
		Image:       p.Product.Image,
		Thumbnail:   p.Product.Thumbnail,
		InStock:     p.Product.InStock,
		Popular:     p.Product.Popular,
		New:         p.Product.New,
		Priority:    p.Product.Priority,
		Orderable:   p.Orderable,
	}
	if p.HasPrice {
		current := money(p.Quote.Current)
		v.Price = &current
		if p.Quote.Previous.Valid {
			previous := money(p.Quote.Previous.Decimal)
			v.OldPrice = &previous
		}
	}
	return v
}

func newProductViews(items []pricing.Priced) []productView {
	views := make([]productView, 0, len(items))
	for _, item := range items {
		views = append(views, newProductView(item))
	}
	return views
}

type cartLineView struct {
	ID        int64        `json:"id"`
	ProductID int64        `json:"product_id"`
	Quantity  int          `json:"quantity"`
	Product   *productView `json:"product,omitempty"`
	Total     *string      `json:"total,omitempty"`
}

func newCartLine(line domain.CartLine) cartLineView {
	return cartLineView{ID: line.ID, ProductID: line.ProductID, Quantity: line.Quantity}
}

func newCartLineView(lv cart.LineView) cartLineView {
	v := newCartLine(lv.Line)
	product := newProductView(lv.Priced)
	v.Product = &product
	if lv.HasPrice {
		total := money(lv.Quote.Current.Mul(decimal.NewFromInt(int64(lv.Line.Quantity))))
		v.Total = &total
	}
	return v
}

type orderLineView struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	Total     string `json:"total"`
}

type orderView struct {
	ID                int64           `json:"id"`
	UserID            int64           `json:"user_id"`
	Status            string          `json:"status"`
	Address           string          `json:"address"`
	DeliveryType      string          `json:"delivery_type"`
	ReceiverFirstName string          `json:"receiver_first_name,omitempty"`
	ReceiverLastName  string          `json:"receiver_last_name,omitempty"`
	ReceiverPhone     string          `json:"receiver_phone,omitempty"`
	ReceiverEmail     string          `json:"receiver_email,omitempty"`
	CityDomain        string          `json:"city_domain"`
	Total             string          `json:"total"`
	Lines             []orderLineView `json:"items"`
	CreatedAt         time.Time       `json:"created_at"`
}

func newOrderView(o domain.Order) orderView {
	v := orderView{
		ID:                o.ID,
		UserID:            o.UserID,
		Status:            string(o.Status),
		Address:           o.Address,
		DeliveryType:      string(o.DeliveryType),
		ReceiverFirstName: o.Receiver.FirstName,
		ReceiverLastName:  o.Receiver.LastName,
		ReceiverPhone:     o.Receiver.Phone,
		ReceiverEmail:     o.Receiver.Email,
		CityDomain:        o.CityDomain,
		Total:             money(o.Total),
		Lines:             make([]orderLineView, 0, len(o.Lines)),
		CreatedAt:         o.CreatedAt,
	}
	for _, line := range o.Lines {
		v.Lines = append(v.Lines, orderLineView{
			ID:        line.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     money(line.Price),
			Total:     money(line.Total()),
		})
	}
	return v
}

type timelineView struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

type importSettingView struct {
	ID                         int64                        `json:"id"`
	Name                       string                       `json:"name" validate:"required"`
	Slug                       string                       `json:"slug"`
	Fields                     map[string]map[string]string `json:"fields" validate:"required"`
	PathToImages               string                       `json:"path_to_images"`
	ItemsNotInFileAction       string                       `json:"items_not_in_file_action" validate:"omitempty,oneof=DEACTIVATE DELETE SET_NOT_IN_STOCK IGNORE"`
	InactiveItemsAction        string                       `json:"inactive_items_action" validate:"omitempty,oneof=LEAVE ACTIVATE"`
	RelationMode               string                       `json:"relation_mode" validate:"omitempty,oneof=set add"`
	RemoveExistingPriceIfEmpty bool                         `json:"remove_existing_price_if_empty"`
	CreatedAt                  *time.Time                   `json:"created_at,omitempty"`
}

func newImportSettingView(s domain.ImportSetting) importSettingView {
	v := importSettingView{
		ID:                         s.ID,
		Name:                       s.Name,
		Slug:                       s.Slug,
		Fields:                     s.Fields,
		PathToImages:               s.PathToImages,
		ItemsNotInFileAction:       string(s.ItemsNotInFileAction),
		InactiveItemsAction:        string(s.InactiveItemsAction),
		RelationMode:               string(s.RelationMode),
		RemoveExistingPriceIfEmpty: s.RemoveExistingPriceIfEmpty,
	}
	if !s.CreatedAt.IsZero() {
		created := s.CreatedAt
		v.CreatedAt = &created
	}
	return v
}

func (v importSettingView) setting() domain.ImportSetting {
	return domain.ImportSetting{
		ID:                         v.ID,
		Name:                       v.Name,
		Slug:                       v.Slug,
		Fields:                     v.Fields,
		PathToImages:               v.PathToImages,
		ItemsNotInFileAction:       domain.NotInFileAction(v.ItemsNotInFileAction),
		InactiveItemsAction:        domain.InactiveItemsAction(v.InactiveItemsAction),
		RelationMode:               domain.RelationMode(v.RelationMode),
		RemoveExistingPriceIfEmpty: v.RemoveExistingPriceIfEmpty,
	}
}

type importTaskView struct {
	ID        int64      `json:"id"`
	File      string     `json:"file"`
	UserID    int64      `json:"user_id"`
	Status    string     `json:"status"`
	SettingID int64      `json:"import_settings"`
	Comment   string     `json:"comment"`
	CreatedAt time.Time  `json:"created_at"`
	EndAt     *time.Time `json:"end_at"`
}

func newImportTaskView(t domain.ImportTask) importTaskView {
	return importTaskView{
		ID:        t.ID,
		File:      t.FilePath,
		UserID:    t.UserID,
		Status:    string(t.Status),
		SettingID: t.SettingID,
		Comment:   t.Comment(),
		CreatedAt: t.CreatedAt,
		EndAt:     t.EndAt,
	}
}
