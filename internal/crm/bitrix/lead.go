package bitrix

// MultiField — значение множественного поля (телефон, сайт).
type MultiField struct {
	Value     string `json:"VALUE"`
	ValueType string `json:"VALUE_TYPE"`
}

// LeadFields — поля лида для crm.lead.add.
type LeadFields struct {
	Title        string       `json:"TITLE"`
	// OriginID — идентификатор заказа витрины; по нему CRM сопоставляет повторные доставки.
	OriginID     string       `json:"ORIGIN_ID"`
	OriginatorID string       `json:"ORIGINATOR_ID"`
	Name         string       `json:"NAME"`
	LastName     string       `json:"LAST_NAME"`
	AssignedByID string       `json:"ASSIGNED_BY_ID,omitempty"`
	Opened       string       `json:"OPENED"`
	StatusID     string       `json:"STATUS_ID"`
	Address      string       `json:"ADDRESS"`
	CurrencyID   string       `json:"CURRENCY_ID"`
	Opportunity  float64      `json:"OPPORTUNITY"`
	Phone        []MultiField `json:"PHONE"`
	Web          []MultiField `json:"WEB"`
	// City — пользовательское поле портала с названием города.
	City         string       `json:"UF_CRM_1586436329935"`
	Comments     string       `json:"COMMENTS"`
}

// Lead — тело запроса crm.lead.add.
type Lead struct {
	Fields LeadFields        `json:"fields"`
	Params map[string]string `json:"params"`
}

// Originator — ORIGINATOR_ID лидов, созданных витриной.
const Originator = "storefront"

// NewLead заполняет фиксированные поля лида заказа.
func NewLead(fields LeadFields) Lead {
	fields.Opened = "N"
	fields.StatusID = "NEW"
	fields.CurrencyID = "RUB"
	if fields.OriginID != "" {
		fields.OriginatorID = Originator
	}
	return Lead{
		Fields: fields,
		Params: map[string]string{"REGISTER_SONET_EVENT": "Y"},
	}
}

// WorkField создаёт значение множественного поля с типом WORK.
func WorkField(value string) []MultiField {
	return []MultiField{{Value: value, ValueType: "WORK"}}
}
