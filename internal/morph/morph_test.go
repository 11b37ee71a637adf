package morph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want [6]string
	}{
		{"Москва", [6]string{"Москва", "Москвы", "Москве", "Москву", "Москвой", "Москве"}},
		{"Калуга", [6]string{"Калуга", "Калуги", "Калуге", "Калугу", "Калугой", "Калуге"}},
		{"Новгород", [6]string{"Новгород", "Новгорода", "Новгороду", "Новгород", "Новгородом", "Новгороде"}},
		{"Тверь", [6]string{"Тверь", "Твери", "Твери", "Тверь", "Тверью", "Твери"}},
		{"Ярославль", [6]string{"Ярославль", "Ярославля", "Ярославлю", "Ярославль", "Ярославлем", "Ярославле"}},
		{"Иваново", [6]string{"Иваново", "Иванова", "Иванову", "Иваново", "Ивановом", "Иванове"}},
		{"Евпатория", [6]string{"Евпатория", "Евпатории", "Евпатории", "Евпаторию", "Евпаторией", "Евпатории"}},
		{"Нижний Новгород", [6]string{
			"Нижний Новгород", "Нижнего Новгорода", "Нижнему Новгороду",
			"Нижний Новгород", "Нижним Новгородом", "Нижнем Новгороде",
		}},
		{"Великий Устюг", [6]string{
			"Великий Устюг", "Великого Устюга", "Великому Устюгу",
			"Великий Устюг", "Великим Устюгом", "Великом Устюге",
		}},
		{"Ростов-на-Дону", [6]string{
			"Ростов-на-Дону", "Ростова-на-Дону", "Ростову-на-Дону",
			"Ростов-на-Дону", "Ростовом-на-Дону", "Ростове-на-Дону",
		}},
		{"Санкт-Петербург", [6]string{
			"Санкт-Петербург", "Санкт-Петербурга", "Санкт-Петербургу",
			"Санкт-Петербург", "Санкт-Петербургом", "Санкт-Петербурге",
		}},
		{"Сочи", [6]string{"Сочи", "Сочи", "Сочи", "Сочи", "Сочи", "Сочи"}},
		{"Moscow", [6]string{"Moscow", "Moscow", "Moscow", "Moscow", "Moscow", "Moscow"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cases := Cases(tt.name)
			for i, gc := range domain.GrammaticalCases {
				require.Equal(t, tt.want[i], cases[gc], "case %s", gc)
			}
			require.True(t, cases.Complete())
		})
	}
}

func TestCases_EmptyName(t *testing.T) {
	t.Parallel()

	cases := Cases("   ")
	require.False(t, cases.Complete())
	require.Equal(t, "", cases.Get(domain.CaseGent, ""))
}
