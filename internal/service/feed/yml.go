package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Постоянные значения предложения YML.
const (
	Currency        = "RUB"
	SalesNotes      = "Минимальная партия заказа - 1 шт."
	CountryOfOrigin = "Россия"
	DefaultVendor   = "Бренд"
)

type ymlCatalog struct {
	XMLName xml.Name `xml:"yml_catalog"`
	Date    string   `xml:"date,attr"`
	Shop    ymlShop  `xml:"shop"`
}

type ymlShop struct {
	Name       string        `xml:"name"`
	Company    string        `xml:"company"`
	URL        string        `xml:"url"`
	Categories []ymlCategory `xml:"categories>category"`
	Offers     []ymlOffer    `xml:"offers>offer"`
}

type ymlCategory struct {
	ID       int64  `xml:"id,attr"`
	ParentID int64  `xml:"parentId,attr,omitempty"`
	Name     string `xml:",chardata"`
}

type ymlOffer struct {
	ID                   int64  `xml:"id,attr"`
	Available            bool   `xml:"available,attr"`
	Name                 string `xml:"name"`
	URL                  string `xml:"url"`
	Price                string `xml:"price"`
	OldPrice             string `xml:"oldprice,omitempty"`
	CurrencyID           string `xml:"currencyId"`
	CategoryID           int64  `xml:"categoryId"`
	Picture              string `xml:"picture,omitempty"`
	Vendor               string `xml:"vendor"`
	VendorCode           string `xml:"vendorCode,omitempty"`
	Description          string `xml:"description"`
	SalesNotes           string `xml:"sales_notes"`
	CountryOfOrigin      string `xml:"country_of_origin"`
	Barcode              string `xml:"barcode,omitempty"`
	Weight               string `xml:"weight,omitempty"`
	ManufacturerWarranty bool   `xml:"manufacturer_warranty"`
	Pickup               bool   `xml:"pickup"`
	Store                bool   `xml:"store"`
	Delivery             bool   `xml:"delivery"`
}

// Shop — реквизиты магазина в шапке фида.
type Shop struct {
	Name    string
	Company string
	URL     string
}

// Offer — товар с ценой группы городов, попадающий в фид.
type Offer struct {
	Product domain.Product
	Price   domain.Price
	Vendor  string
	URL     string
	Picture string
}

// RenderYML собирает документ yml_catalog.
func RenderYML(shop Shop, date time.Time, categories []domain.Category, offers []Offer) ([]byte, error) {
	doc := ymlCatalog{
		Date: date.Format("2006-01-02"),
		Shop: ymlShop{
			Name:       shop.Name,
			Company:    shop.Company,
			URL:        shop.URL,
			Categories: make([]ymlCategory, 0, len(categories)),
			Offers:     make([]ymlOffer, 0, len(offers)),
		},
	}
	for _, c := range categories {
		doc.Shop.Categories = append(doc.Shop.Categories, ymlCategory{ID: c.ID, ParentID: c.ParentID, Name: c.Name})
	}
	for _, o := range offers {
		doc.Shop.Offers = append(doc.Shop.Offers, offerElement(o))
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode yml: %w", err)
	}
	return buf.Bytes(), nil
}

func offerElement(o Offer) ymlOffer {
	vendor := strings.TrimSpace(o.Vendor)
	if vendor == "" {
		vendor = DefaultVendor
	}
	el := ymlOffer{
		ID:                   o.Product.ID,
		Available:            true,
		Name:                 o.Product.Title,
		URL:                  o.URL,
		Price:                o.Price.Current.StringFixed(2),
		CurrencyID:           Currency,
		CategoryID:           o.Product.CategoryID,
		Picture:              o.Picture,
		Vendor:               vendor,
		VendorCode:           o.Product.Article,
		Description:          o.Product.Description,
		SalesNotes:           SalesNotes,
		CountryOfOrigin:      CountryOfOrigin,
		Barcode:              o.Product.Barcode,
		Weight:               o.Product.Weight,
		ManufacturerWarranty: true,
		Pickup:               true,
		Store:                true,
		Delivery:             true,
	}
	if o.Price.Previous.Valid {
		el.OldPrice = o.Price.Previous.Decimal.StringFixed(2)
	}
	return el
}
