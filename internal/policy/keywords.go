package policy

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// keyword lists use a trailing "*" for prefix (stem) matches; other entries
// must equal a whole word.
var (
	creationWords = []string{
		"create", "creates", "creating", "generate*", "make", "build", "new",
		"созд*", "сдела*", "сформир*", "сгенер*", "нов*",
	}
	additionWords = []string{
		"add", "adds", "added", "adding", "insert*", "append*", "fill*", "attach*",
		"добав*", "встав*", "заполн*", "прикреп*", "внес*",
	}
	modifyWords = []string{
		"update*", "chang*", "modif*", "set", "edit*", "renam*", "replac*", "fix*",
		"delet*", "remov*", "adjust*", "increas*", "decreas*", "raise", "lower",
		"измен*", "обнов*", "помен*", "исправ*", "удал*", "убер*", "убра*", "замен*",
		"установ*", "поставь*", "увелич*", "уменьш*", "поправ*",
	}
	researchWords = []string{
		"find", "search*", "look", "lookup", "compare*", "price*", "research*", "check*", "verify*",
		"найд*", "найти", "поищ*", "поиск*", "сравн*", "цен*", "провер*", "узна*",
	}
	bulkWords = []string{
		"all", "every", "each", "entire", "bulk", "batch", "whole", "mass",
		"все", "всех", "всем", "весь", "всю", "каждый", "кажд*", "массов*", "целиком",
	}
	unfinishedPhrases = []string{
		"should i", "shall i", "do you want", "would you like", "let me know if",
		"please confirm", "can you confirm", "do you need", "want me to",
		"хотите", "нужно ли", "продолжить?", "подтвердите", "уточните", "сообщите, если",
		"если хотите", "могу ли я",
	}
	stallingOpeners = []string{
		"i will", "i'll", "let me", "one moment", "please wait", "i am going to", "i'm going to",
		"сейчас", "я сделаю", "давайте я", "минуту", "одну минуту", "секунду", "я сейчас",
	}
)

// fold case-folds text and collapses whitespace.
func fold(text string) string {
	return strings.Join(strings.Fields(cases.Fold().String(text)), " ")
}

func words(folded string) []string {
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// countMatches returns how many distinct keywords occur among ws.
func countMatches(ws []string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if matchesAny(ws, kw) {
			n++
		}
	}
	return n
}

func matchesAny(ws []string, kw string) bool {
	prefix := strings.HasSuffix(kw, "*")
	stem := strings.TrimSuffix(kw, "*")
	for _, w := range ws {
		if w == stem || (prefix && strings.HasPrefix(w, stem)) {
			return true
		}
	}
	return false
}

func containsPhrase(folded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(folded, p) {
			return true
		}
	}
	return false
}

func hasOpener(folded string, openers []string) bool {
	for _, o := range openers {
		if strings.HasPrefix(folded, o) {
			return true
		}
	}
	return false
}
