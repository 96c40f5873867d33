package s1_analytics

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wonny/finpipe/internal/contracts"
)

var (
	wordRe    = regexp.MustCompile(`[a-z0-9][a-z0-9'-]*`)
	cashtagRe = regexp.MustCompile(`\$([A-Za-z]{1,6}(?:\.[A-Za-z]{1,2})?)\b`)
	tickerRe  = regexp.MustCompile(`\b[A-Z]{1,6}\b`)
)

// Lexicon scores text by weighted keyword hits
// ⭐ SSOT: 뉴스 감성 점수 계산은 여기서만
type Lexicon struct {
	terms []lexTerm
}

type lexTerm struct {
	words  []string
	weight decimal.Decimal // negative for bearish terms
}

// NewLexicon builds a lexicon. Terms may span several words.
func NewLexicon(bullish, bearish map[string]float64) *Lexicon {
	l := &Lexicon{}
	add := func(terms map[string]float64, sign int64) {
		for term, w := range terms {
			words := wordRe.FindAllString(strings.ToLower(term), -1)
			if len(words) == 0 {
				continue
			}
			l.terms = append(l.terms, lexTerm{
				words:  words,
				weight: decimal.NewFromFloat(w).Mul(decimal.NewFromInt(sign)),
			})
		}
	}
	add(bullish, 1)
	add(bearish, -1)

	sort.Slice(l.terms, func(i, j int) bool {
		return strings.Join(l.terms[i].words, " ") < strings.Join(l.terms[j].words, " ")
	})
	return l
}

// Score sums bullish weights minus bearish weights over every hit in text
func (l *Lexicon) Score(text string) decimal.Decimal {
	tokens := wordRe.FindAllString(strings.ToLower(text), -1)
	score := decimal.Zero
	for _, t := range l.terms {
		if hits := countSequence(tokens, t.words); hits > 0 {
			score = score.Add(t.weight.Mul(decimal.NewFromInt(int64(hits))))
		}
	}
	return score
}

// Label maps a score onto a sentiment; zero (including a tie) is NEUTRAL
func Label(score decimal.Decimal) contracts.SentimentLabel {
	switch score.Sign() {
	case 1:
		return contracts.SentimentBullish
	case -1:
		return contracts.SentimentBearish
	default:
		return contracts.SentimentNeutral
	}
}

func countSequence(tokens, words []string) int {
	count := 0
	for i := 0; i+len(words) <= len(tokens); i++ {
		match := true
		for j, w := range words {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			count++
		}
	}
	return count
}

// matchKeywords returns the keywords contained in text, case-insensitively.
// Containment is by substring, so "loss" also tags "losses".
func matchKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			found = append(found, k)
		}
	}
	return found
}

// newsSymbol picks the row key of a headline: the record's own symbol, then
// a cashtag, then a tracked ticker appearing as a bare word, else market.
func newsSymbol(rec contracts.RawRecord, headline string, tracked map[string]bool, market string) string {
	if s := strings.ToUpper(strings.TrimSpace(rec.Symbol)); s != "" {
		return s
	}
	if m := cashtagRe.FindStringSubmatch(headline); m != nil {
		return strings.ToUpper(m[1])
	}
	for _, word := range tickerRe.FindAllString(headline, -1) {
		if tracked[word] {
			return word
		}
	}
	return market
}
