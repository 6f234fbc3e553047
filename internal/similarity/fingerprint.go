package similarity

import (
	"hash/fnv"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// Fingerprint is the semantic fingerprint of a ticket: the sorted set of
// hashed word unigrams and bigrams, after normalization and stopword removal.
// Its string form is stored alongside prior analyses.
type Fingerprint []uint64

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"but": true, "by": true, "can": true, "do": true, "for": true, "from": true, "has": true,
	"have": true, "hello": true, "hi": true, "i": true, "if": true, "in": true, "is": true,
	"it": true, "its": true, "me": true, "my": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "please": true, "so": true, "that": true, "the": true,
	"thanks": true, "this": true, "to": true, "was": true, "we": true, "with": true,
	"you": true, "your": true,
}

// Tokenize lowercases text, splits on anything that is not a letter or digit
// and drops stopwords.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Compute fingerprints a ticket's subject and content
func Compute(subject, content string) Fingerprint {
	tokens := Tokenize(subject + "\n" + content)

	seen := make(map[uint64]struct{}, len(tokens)*2)
	for i, tok := range tokens {
		seen[hash(tok)] = struct{}{}
		if i > 0 {
			seen[hash(tokens[i-1]+" "+tok)] = struct{}{}
		}
	}

	fp := make(Fingerprint, 0, len(seen))
	for h := range seen {
		fp = append(fp, h)
	}
	slices.Sort(fp)
	return fp
}

// distinctTokens counts the distinct words in a ticket
func distinctTokens(subject, content string) int {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(subject + "\n" + content) {
		set[tok] = struct{}{}
	}
	return len(set)
}

func hash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// String serializes the fingerprint as space-separated hex
func (f Fingerprint) String() string {
	parts := make([]string, len(f))
	for i, h := range f {
		parts[i] = strconv.FormatUint(h, 16)
	}
	return strings.Join(parts, " ")
}

// ParseFingerprint parses the String form. Invalid entries are skipped.
func ParseFingerprint(s string) Fingerprint {
	fields := strings.Fields(s)
	fp := make(Fingerprint, 0, len(fields))
	for _, field := range fields {
		if h, err := strconv.ParseUint(field, 16, 64); err == nil {
			fp = append(fp, h)
		}
	}
	slices.Sort(fp)
	return slices.Compact(fp)
}

// Jaccard returns |a ∩ b| / |a ∪ b| for two sorted fingerprints.
// Two empty fingerprints have similarity 0.
func Jaccard(a, b Fingerprint) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var i, j, inter int
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
