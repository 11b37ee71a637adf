package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPriceReprice(t *testing.T) {
	p := Price{ProductID: 1, CityGroupID: 1, Current: decimal.RequireFromString("100.00")}

	p.Reprice(decimal.RequireFromString("100"))
	if p.Previous.Valid {
		t.Fatal("same value must not move into previous")
	}

	p.Reprice(decimal.RequireFromString("80.50"))
	if !p.Current.Equal(decimal.RequireFromString("80.50")) {
		t.Fatalf("current = %s", p.Current)
	}
	if !p.Previous.Valid || !p.Previous.Decimal.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("previous = %v", p.Previous)
	}
}

func TestPriceValidate(t *testing.T) {
	p := Price{ProductID: 1, CityGroupID: 2, Current: decimal.NewFromInt(-1)}
	if err := p.Validate(); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	p.Current = decimal.Zero
	if err := p.Validate(); err != nil {
		t.Fatalf("zero price must be valid: %v", err)
	}
}

func TestProductOrderableIn(t *testing.T) {
	p := Product{Active: true, UnavailableIn: []int64{5}}
	if p.OrderableIn(5) {
		t.Fatal("product blocked in city 5")
	}
	if !p.OrderableIn(6) {
		t.Fatal("product must be orderable in city 6")
	}
	p.Active = false
	if p.OrderableIn(6) {
		t.Fatal("inactive product is never orderable")
	}
}

func TestProductValidatePriority(t *testing.T) {
	tests := []struct {
		priority int
		ok       bool
	}{
		{priority: 0, ok: false},
		{priority: MinProductPriority, ok: true},
		{priority: DefaultProductPriority, ok: true},
		{priority: MaxProductPriority, ok: true},
		{priority: MaxProductPriority + 1, ok: false},
	}
	for _, tc := range tests {
		err := Product{Article: "A-1", Title: "A", Priority: tc.priority}.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("priority %d: err=%v, want ok=%v", tc.priority, err, tc.ok)
		}
	}
}

func TestCategoryImageOnlyOnRoot(t *testing.T) {
	root := Category{ID: 1, Name: "Root", Image: "root.png"}
	if err := root.Validate(); err != nil {
		t.Fatalf("root with image must be valid: %v", err)
	}
	child := Category{ID: 2, ParentID: 1, Name: "Child", Image: "child.png"}
	if err := child.Validate(); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateCartQuantity(t *testing.T) {
	for _, qty := range []int{MinCartQuantity, 10, MaxCartQuantity} {
		if err := ValidateCartQuantity(qty); err != nil {
			t.Fatalf("qty %d: %v", qty, err)
		}
	}
	for _, qty := range []int{0, -1, MaxCartQuantity + 1} {
		if err := ValidateCartQuantity(qty); !IsValidation(err) {
			t.Fatalf("qty %d: expected validation error, got %v", qty, err)
		}
	}
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{d: 119*time.Second + 900*time.Millisecond, want: "01:59"},
		{d: 120 * time.Second, want: "02:00"},
		{d: 5 * time.Second, want: "00:05"},
		{d: -time.Second, want: "00:00"},
	}
	for _, tc := range tests {
		if got := FormatRemaining(tc.d); got != tc.want {
			t.Fatalf("FormatRemaining(%s) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestCodeEntryThrottling(t *testing.T) {
	now := time.Now()
	entry := CodeEntry{Code: "1234", ExpiresAt: now.Add(time.Minute)}
	if !entry.Throttling(now) {
		t.Fatal("entry must throttle before expiry")
	}
	if entry.Throttling(now.Add(2 * time.Minute)) {
		t.Fatal("entry must not throttle after expiry")
	}
	if entry.Remaining(now.Add(2*time.Minute)) != 0 {
		t.Fatal("remaining must be clamped to zero")
	}
}

func TestNormalizeDomain(t *testing.T) {
	if got := NormalizeDomain(" HTTPS://Moskva.Example.com/ "); got != "moskva.example.com" {
		t.Fatalf("NormalizeDomain() = %q", got)
	}
}

func TestNameCases(t *testing.T) {
	cases := NameCases{CaseNomn: "Москва", CaseGent: "Москвы"}
	if cases.Complete() {
		t.Fatal("cases are incomplete")
	}
	if got := cases.Get(CaseLoct, "Москва"); got != "Москва" {
		t.Fatalf("fallback = %q", got)
	}
	if got := cases.Get(CaseGent, "Москва"); got != "Москвы" {
		t.Fatalf("gent = %q", got)
	}
}

func TestImportSettingNormalizeAndValidate(t *testing.T) {
	s := ImportSetting{Name: "Товары", Fields: map[string]map[string]string{EntityProduct: {"article": "Артикул"}}}
	s.Normalize()
	if s.PathToImages != DefaultImagesPath || s.ItemsNotInFileAction != NotInFileIgnore ||
		s.InactiveItemsAction != InactiveLeave || s.RelationMode != RelationSet {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if s.Slug == "" {
		t.Fatal("slug must be derived from name")
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.ItemsNotInFileAction = "DROP"
	if err := s.Validate(); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLookupEntityBuckets(t *testing.T) {
	d, ok := LookupEntity(" Product ")
	if !ok {
		t.Fatal("product entity must be registered")
	}
	want := map[string]FieldKind{
		"article":               FieldUnique,
		"category":              FieldRelation,
		"additional_categories": FieldMultiRelation,
		"is_active":             FieldBoolean,
		"image":                 FieldImage,
		"title":                 FieldScalar,
	}
	for name, kind := range want {
		f, ok := d.Field(name)
		if !ok {
			t.Fatalf("field %s missing", name)
		}
		if f.Bucket() != kind {
			t.Fatalf("field %s bucket = %s, want %s", name, f.Bucket(), kind)
		}
	}
	price, _ := LookupEntity(EntityPrice)
	if f, _ := price.Field("price"); f.Bucket() != FieldDecimal {
		t.Fatalf("price bucket = %s", f.Bucket())
	}
	if _, ok := LookupEntity("warehouse"); ok {
		t.Fatal("unknown entity must not resolve")
	}
}

func TestParseOwnerKind(t *testing.T) {
	if k, ok := ParseOwnerKind("Brand"); !ok || k != OwnerBrand {
		t.Fatalf("ParseOwnerKind(Brand) = %v, %v", k, ok)
	}
	if _, ok := ParseOwnerKind("review"); ok {
		t.Fatal("review is not a metadata owner")
	}
}
