package extract

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/textnorm"
)

// maxDescriptionRunes caps extracted descriptions.
const maxDescriptionRunes = 200

// Fields are the values pulled out of a matched email.
type Fields struct {
	Amount      decimal.Decimal
	Description string
	// AmountLabel is the label that produced the amount, empty for the
	// currency-marker fallback.
	AmountLabel string
	// DescriptionLabel is empty when the subject was used.
	DescriptionLabel string
}

// Markers recognizes currency marker words around amounts. It is immutable
// once built and safe for concurrent use.
type Markers struct {
	words  []string
	suffix *regexp.Regexp
	prefix *regexp.Regexp
}

// NewMarkers compiles the marker grammar for words, longest first.
func NewMarkers(words []string) *Markers {
	m := &Markers{}
	for _, w := range words {
		if w = textnorm.Normalize(strings.TrimSpace(w)); w != "" {
			m.words = append(m.words, w)
		}
	}
	sort.SliceStable(m.words, func(i, j int) bool {
		return utf8.RuneCountInString(m.words[i]) > utf8.RuneCountInString(m.words[j])
	})

	var all, long []string
	for _, w := range m.words {
		all = append(all, regexp.QuoteMeta(w))
		if utf8.RuneCountInString(w) >= 2 {
			long = append(long, regexp.QuoteMeta(w))
		}
	}
	const number = `(\d(?:[\d.,]*\d)?)`
	if len(all) > 0 {
		m.suffix = regexp.MustCompile(`(?i)` + number + `[ \x{00A0}]?(?:` + strings.Join(all, "|") + `)`)
	}
	if len(long) > 0 {
		m.prefix = regexp.MustCompile(`(?i)(?:` + strings.Join(long, "|") + `)[ \x{00A0}]?` + number)
	}
	return m
}

// skip consumes one leading marker word of s, if any.
func (m *Markers) skip(s string) string {
	for _, w := range m.words {
		n, ok := textnorm.HasPrefixFold(s, w)
		if !ok {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(s[n:]); unicode.IsLetter(r) {
			continue
		}
		return s[n:]
	}
	return s
}

type candidate struct {
	pos   int
	token string
}

// scan returns the earliest parseable amount written next to a marker.
func (m *Markers) scan(body string) (decimal.Decimal, bool) {
	var cands []candidate
	if m.suffix != nil {
		for _, loc := range m.suffix.FindAllStringSubmatchIndex(body, -1) {
			if r, _ := utf8.DecodeRuneInString(body[loc[1]:]); unicode.IsLetter(r) {
				continue
			}
			if loc[2] > 0 {
				if r, _ := utf8.DecodeLastRuneInString(body[:loc[2]]); isDigit(r) || isSeparator(r) {
					continue
				}
			}
			cands = append(cands, candidate{pos: loc[0], token: body[loc[2]:loc[3]]})
		}
	}
	if m.prefix != nil {
		for _, loc := range m.prefix.FindAllStringSubmatchIndex(body, -1) {
			if loc[0] > 0 {
				if r, _ := utf8.DecodeLastRuneInString(body[:loc[0]]); unicode.IsLetter(r) {
					continue
				}
			}
			cands = append(cands, candidate{pos: loc[0], token: body[loc[2]:loc[3]]})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].pos < cands[j].pos })

	for _, c := range cands {
		if amount, err := ParseAmount(c.token); err == nil {
			return amount, true
		}
	}
	return decimal.Zero, false
}

// ExtractFields pulls amount and description out of an email matched by cfg.
// It returns an *api.FieldError naming the first field it could not find.
func ExtractFields(cfg *api.BankEmailConfig, email api.EmailMessage, markers *Markers) (Fields, error) {
	email = normalizeEmail(email)
	if markers == nil {
		markers = NewMarkers(nil)
	}

	var f Fields
	amount, label, ok := amountByLabels(email.Body, cfg.AmountLabels, markers)
	if !ok {
		amount, ok = markers.scan(email.Body)
	}
	if !ok {
		return Fields{}, &api.FieldError{Field: "amount"}
	}
	f.Amount, f.AmountLabel = amount, label

	if desc, label, ok := descriptionByLabels(email.Body, cfg.DescriptionLabels); ok {
		f.Description, f.DescriptionLabel = desc, label
	} else if subject := strings.TrimSpace(email.Subject); subject != "" {
		// Capped like label descriptions so stored descriptions stay bounded.
		f.Description = truncateRunes(subject, maxDescriptionRunes)
	} else {
		return Fields{}, &api.FieldError{Field: "description"}
	}
	return f, nil
}

func amountByLabels(body string, labels []string, markers *Markers) (decimal.Decimal, string, bool) {
	for _, label := range labels {
		label = textnorm.Normalize(strings.TrimSpace(label))
		if label == "" {
			continue
		}
		_, end := textnorm.IndexFold(body, label)
		if end < 0 {
			continue
		}
		rest := strings.TrimLeftFunc(body[end:], isFiller)
		rest = strings.TrimLeftFunc(markers.skip(rest), isFiller)
		token := leadingNumber(rest)
		if token == "" {
			continue
		}
		if amount, err := ParseAmount(token); err == nil {
			return amount, label, true
		}
	}
	return decimal.Zero, "", false
}

func descriptionByLabels(body string, labels []string) (string, string, bool) {
	for _, label := range labels {
		label = textnorm.Normalize(strings.TrimSpace(label))
		if label == "" {
			continue
		}
		_, end := textnorm.IndexFold(body, label)
		if end < 0 {
			continue
		}
		rest := strings.TrimLeftFunc(body[end:], func(r rune) bool {
			return unicode.IsSpace(r) || r == ':' || r == '-' || r == '–' || r == '='
		})
		if value := truncateRunes(strings.TrimSpace(untilTerminator(rest)), maxDescriptionRunes); value != "" {
			return value, label, true
		}
	}
	return "", "", false
}

// untilTerminator cuts s at the end of the line or at '.', ';' or '|'
// followed by whitespace or the end of input.
func untilTerminator(s string) string {
	for i, r := range s {
		switch r {
		case '\n', '\r':
			return s[:i]
		case '.', ';', '|':
			next, _ := utf8.DecodeRuneInString(s[i+1:])
			if i+1 == len(s) || unicode.IsSpace(next) {
				return s[:i]
			}
		}
	}
	return s
}

func isFiller(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
