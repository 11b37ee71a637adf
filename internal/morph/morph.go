// Package morph склоняет названия городов и групп по шести падежам.
//
// Склонение строится по окончаниям и покрывает типичные русские топонимы:
// существительные на согласную, -а/-я, -ь, среднего рода на -ово/-ево/-ино,
// прилагательные (Нижний, Великие) и составные названия через дефис.
// Нераспознанные и нерусские названия не склоняются.
package morph

import (
	"strings"
	"unicode"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// forms — окончания gent, datv, accs, ablt, loct, которые заменяют cut последних рун.
type forms struct {
	cut  int
	ends [5]string
}

var (
	hardAdjective     = forms{cut: 2, ends: [5]string{"ого", "ому", "ый", "ым", "ом"}}
	softAdjective     = forms{cut: 2, ends: [5]string{"его", "ему", "ий", "им", "ем"}}
	velarAdjective    = forms{cut: 2, ends: [5]string{"ого", "ому", "ий", "им", "ом"}}
	stressedAdjective = forms{cut: 2, ends: [5]string{"ого", "ому", "ой", "ым", "ом"}}
	feminineAdjective = forms{cut: 2, ends: [5]string{"ой", "ой", "ую", "ой", "ой"}}
	softFemAdjective  = forms{cut: 2, ends: [5]string{"ей", "ей", "юю", "ей", "ей"}}
	neuterAdjective   = forms{cut: 2, ends: [5]string{"ого", "ому", "ое", "ым", "ом"}}
	pluralAdjective   = forms{cut: 2, ends: [5]string{"ых", "ым", "ые", "ыми", "ых"}}
	softPluralAdj     = forms{cut: 2, ends: [5]string{"их", "им", "ие", "ими", "их"}}

	feminineA      = forms{cut: 1, ends: [5]string{"ы", "е", "у", "ой", "е"}}
	feminineAVelar = forms{cut: 1, ends: [5]string{"и", "е", "у", "ой", "е"}}
	feminineASib   = forms{cut: 1, ends: [5]string{"и", "е", "у", "ей", "е"}}
	feminineYa     = forms{cut: 1, ends: [5]string{"и", "е", "ю", "ей", "е"}}
	feminineIya    = forms{cut: 1, ends: [5]string{"и", "и", "ю", "ей", "и"}}
	feminineSoft   = forms{cut: 1, ends: [5]string{"и", "и", "ь", "ью", "и"}}
	masculineSoft  = forms{cut: 1, ends: [5]string{"я", "ю", "ь", "ем", "е"}}
	masculineJ     = forms{cut: 1, ends: [5]string{"я", "ю", "й", "ем", "е"}}
	masculineHard  = forms{cut: 0, ends: [5]string{"а", "у", "", "ом", "е"}}
	masculineSib   = forms{cut: 0, ends: [5]string{"а", "у", "", "ем", "е"}}
	neuterO        = forms{cut: 1, ends: [5]string{"а", "у", "о", "ом", "е"}}
)

// Cases возвращает формы названия по всем падежам. Именительный совпадает с исходным названием.
func Cases(name string) domain.NameCases {
	name = strings.TrimSpace(name)
	cases := make(domain.NameCases, len(domain.GrammaticalCases))
	cases[domain.CaseNomn] = name
	if name == "" {
		for _, gc := range domain.GrammaticalCases {
			cases[gc] = ""
		}
		return cases
	}

	words := strings.Fields(name)
	inflected := make([][5]string, len(words))
	for i, w := range words {
		inflected[i] = inflectCompound(w, i == len(words)-1)
	}

	for ci, gc := range domain.GrammaticalCases[1:] {
		parts := make([]string, len(words))
		for i := range words {
			parts[i] = inflected[i][ci]
		}
		cases[gc] = strings.Join(parts, " ")
	}
	return cases
}

// inflectCompound склоняет слово с дефисами: Ростов-на-Дону меняет первую часть, Санкт-Петербург — последнюю.
func inflectCompound(word string, last bool) [5]string {
	parts := strings.Split(word, "-")
	if len(parts) == 1 {
		return inflectWord(word, last)
	}

	target := len(parts) - 1
	for _, p := range parts[1:] {
		switch strings.ToLower(p) {
		case "на", "в", "под", "над":
			target = 0
		}
	}

	var out [5]string
	inflected := inflectWord(parts[target], last)
	for ci := range out {
		cp := append([]string(nil), parts...)
		cp[target] = inflected[ci]
		out[ci] = strings.Join(cp, "-")
	}
	return out
}

func inflectWord(word string, last bool) [5]string {
	f, ok := pickForms(strings.ToLower(word), last)
	if !ok {
		return [5]string{word, word, word, word, word}
	}

	runes := []rune(word)
	stem := string(runes[:len(runes)-f.cut])
	upper := isUpper(runes)

	var out [5]string
	for i, end := range f.ends {
		if upper {
			end = strings.ToUpper(end)
		}
		out[i] = stem + end
	}
	return out
}

func pickForms(w string, last bool) (forms, bool) {
	runes := []rune(w)
	if len(runes) < 2 || !cyrillic(runes) {
		return forms{}, false
	}
	end1 := string(runes[len(runes)-1:])
	end2 := string(runes[len(runes)-2:])
	prev := runes[len(runes)-2]

	switch end2 {
	case "ый":
		return hardAdjective, true
	case "ой":
		return stressedAdjective, true
	case "ий":
		if velar(lastBefore(runes, 2)) {
			return velarAdjective, true
		}
		return softAdjective, true
	case "ая":
		return feminineAdjective, true
	case "яя":
		return softFemAdjective, true
	case "ое":
		return neuterAdjective, true
	case "ые":
		return pluralAdjective, true
	case "ие":
		if !last {
			return softPluralAdj, true
		}
	case "ия":
		return feminineIya, true
	}

	if strings.HasSuffix(w, "ово") || strings.HasSuffix(w, "ево") ||
		strings.HasSuffix(w, "ино") || strings.HasSuffix(w, "ыно") {
		return neuterO, true
	}

	switch end1 {
	case "а":
		switch {
		case velar(prev):
			return feminineAVelar, true
		case sibilant(prev):
			return feminineASib, true
		default:
			return feminineA, true
		}
	case "я":
		return feminineYa, true
	case "ь":
		if prev == 'л' && len(runes) > 2 && runes[len(runes)-3] == 'в' {
			return masculineSoft, true
		}
		return feminineSoft, true
	case "й":
		return masculineJ, true
	}

	last1 := runes[len(runes)-1]
	if consonant(last1) {
		if sibilant(last1) || last1 == 'ц' {
			return masculineSib, true
		}
		return masculineHard, true
	}
	return forms{}, false
}

func lastBefore(runes []rune, n int) rune {
	if len(runes) <= n {
		return 0
	}
	return runes[len(runes)-n-1]
}

func velar(r rune) bool { return r == 'г' || r == 'к' || r == 'х' }

func sibilant(r rune) bool { return r == 'ж' || r == 'ш' || r == 'ч' || r == 'щ' }

func consonant(r rune) bool {
	return strings.ContainsRune("бвгджзклмнпрстфхцчшщ", r)
}

func cyrillic(runes []rune) bool {
	for _, r := range runes {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Cyrillic, r) {
			return false
		}
	}
	return true
}

func isUpper(runes []rune) bool {
	letters := 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters > 1
}
