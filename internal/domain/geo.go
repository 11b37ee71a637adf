package domain

import (
	"strings"
	"time"
)

// GrammaticalCase — падеж, в который склоняются названия городов.
type GrammaticalCase string

const (
	CaseNomn GrammaticalCase = "nomn"
	CaseGent GrammaticalCase = "gent"
	CaseDatv GrammaticalCase = "datv"
	CaseAccs GrammaticalCase = "accs"
	CaseAblt GrammaticalCase = "ablt"
	CaseLoct GrammaticalCase = "loct"
)

// GrammaticalCases перечисляет падежи в каноническом порядке.
var GrammaticalCases = []GrammaticalCase{CaseNomn, CaseGent, CaseDatv, CaseAccs, CaseAblt, CaseLoct}

// NameCases хранит формы названия по падежам.
type NameCases map[GrammaticalCase]string

// Get возвращает форму падежа или fallback, если форма не вычислена.
func (c NameCases) Get(gc GrammaticalCase, fallback string) string {
	if v, ok := c[gc]; ok && v != "" {
		return v
	}
	return fallback
}

// Complete сообщает, что вычислены все шесть падежей.
func (c NameCases) Complete() bool {
	for _, gc := range GrammaticalCases {
		if c[gc] == "" {
			return false
		}
	}
	return true
}

// City — город витрины с уникальным доменом.
type City struct {
	ID         int64
	Name       string
	Domain     string
	Population int
	Address    string
	Phone      string
	Schedule   string
	// GroupID — группа городов; 0 означает, что город не привязан.
	GroupID   int64
	Cases     NameCases
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет обязательные поля города.
func (c City) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(c.Name) == "" {
		verr.Add("name", "обязательное поле")
	}
	if strings.TrimSpace(c.Domain) == "" {
		verr.Add("domain", "обязательное поле")
	}
	if c.Population < 0 {
		verr.Add("population", "не может быть отрицательным")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// CityGroup объединяет города, цены привязаны к группе.
type CityGroup struct {
	ID   int64
	Name string
	// MainCityID — основной город группы; 0 если не задан.
	MainCityID int64
	Cases      NameCases
	CreatedAt  time.Time
}

// NormalizeDomain приводит домен к каноническому виду для поиска.
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	return strings.TrimSuffix(domain, "/")
}
