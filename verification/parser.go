package verification

import (
	"regexp"
	"strings"
)

// DocLayout is the heuristic classification of an OCR'd identity document.
type DocLayout string

const (
	LayoutRG      DocLayout = "RG"
	LayoutCNH     DocLayout = "CNH"
	LayoutUnknown DocLayout = "UNKNOWN"
)

// Parsed is the deterministic result of parsing raw OCR text. Given the same
// text it is always identical, so OcrResult rows are reproducible.
type Parsed struct {
	Layout          DocLayout
	Fields          map[string]string
	MatchedKeywords []string
	Confidence      float64
}

// Keyword sets that distinguish the two identity-document layouts issued in
// Brazil. Matching is done on folded text.
var layoutKeywords = map[DocLayout][]string{
	LayoutCNH: {
		"CARTEIRA NACIONAL DE HABILITACAO",
		"PERMISSAO PARA DIRIGIR",
		"1A HABILITACAO",
		"CAT",
		"ACC",
		"DETRAN",
	},
	LayoutRG: {
		"CARTEIRA DE IDENTIDADE",
		"REGISTRO GERAL",
		"SECRETARIA DE SEGURANCA PUBLICA",
		"INSTITUTO DE IDENTIFICACAO",
		"DOC IDENTIDADE",
	},
}

var (
	cpfPattern  = regexp.MustCompile(`\b(\d{3}\.?\d{3}\.?\d{3}-?\d{2})\b`)
	namePattern = regexp.MustCompile(`^NOME[:\s]+([A-Z][A-Z ]{2,})$`)
	datePattern = regexp.MustCompile(`\b(\d{2}/\d{2}/\d{4})\b`)
)

// matchesKeyword matches multi-word phrases as substrings of the folded text
// and single-word keywords as whole tokens only, so short abbreviations like
// CAT or ACC never fire inside unrelated words.
func matchesKeyword(folded string, words map[string]bool, kw string) bool {
	if strings.ContainsRune(kw, ' ') {
		return strings.Contains(folded, kw)
	}
	return words[kw]
}

// Parse classifies the document layout by keyword matching and extracts the
// typed fields both layouts share. Purely deterministic: no provider calls.
func Parse(rawText string) Parsed {
	folded := Fold(rawText)

	words := map[string]bool{}
	for _, w := range strings.Fields(folded) {
		words[w] = true
	}

	best := Parsed{Layout: LayoutUnknown, Fields: map[string]string{}}
	for layout, keywords := range layoutKeywords {
		var matched []string
		for _, kw := range keywords {
			if matchesKeyword(folded, words, kw) {
				matched = append(matched, kw)
			}
		}
		confidence := float64(len(matched)) / float64(len(keywords))
		if confidence > best.Confidence || (confidence == best.Confidence && len(matched) > len(best.MatchedKeywords)) {
			if len(matched) > 0 {
				best.Layout = layout
				best.MatchedKeywords = matched
				best.Confidence = confidence
			}
		}
	}

	// Fold flattens whitespace, so the NOME line is matched per raw line.
	for _, line := range strings.Split(rawText, "\n") {
		if m := namePattern.FindStringSubmatch(Fold(line)); m != nil {
			best.Fields["name"] = strings.TrimSpace(m[1])
			break
		}
	}
	if m := cpfPattern.FindStringSubmatch(rawText); m != nil {
		best.Fields["cpf"] = m[1]
	}
	if m := datePattern.FindStringSubmatch(rawText); m != nil {
		best.Fields["birth_date"] = m[1]
	}

	return best
}
