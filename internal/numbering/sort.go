package numbering

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/voyagen/lineup/internal/models"
)

// Normalization controls how names are reduced to a sort key. Display names are
// never changed by it.
type Normalization struct {
	// StripNumber drops a leading number token ("101 - ESPN" sorts as "ESPN").
	StripNumber bool
	// StripPrefix drops a short uppercase prefix ("US: ESPN" sorts as "ESPN").
	StripPrefix bool
}

var (
	reLeadingNumber = regexp.MustCompile(`^\d+(?:\s*[:|.\-]\s*|\s+)`)
	reShortPrefix   = regexp.MustCompile(`^[A-Z]{2,4}\s*[:|\-]\s*`)
)

// SortKey returns the comparison key for name under n.
func SortKey(name string, n Normalization) string {
	key := strings.TrimSpace(name)
	for i := 0; i < 2; i++ {
		before := key
		if n.StripNumber {
			key = reLeadingNumber.ReplaceAllString(key, "")
		}
		if n.StripPrefix {
			key = reShortPrefix.ReplaceAllString(key, "")
		}
		if key == before {
			break
		}
	}
	return cases.Fold().String(key)
}

// SortAndRenumber orders the group by name in case-insensitive natural order and
// numbers it consecutively from start.
func SortAndRenumber(group []models.Channel, start int, norm Normalization, opts Options) ([]Assignment, error) {
	if len(group) == 0 {
		return nil, &ValidationError{Field: "group", Reason: "no channels to sort"}
	}
	if start <= 0 {
		return nil, &ValidationError{Field: "start", Reason: "must be a positive number"}
	}

	type keyed struct {
		ch  models.Channel
		key string
	}
	items := make([]keyed, 0, len(group))
	seen := map[int64]bool{}
	for _, ch := range group {
		if seen[ch.ID] {
			continue
		}
		seen[ch.ID] = true
		items = append(items, keyed{ch: ch.Clone(), key: SortKey(ch.Name, norm)})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if c := NaturalCompare(items[i].key, items[j].key); c != 0 {
			return c < 0
		}
		if items[i].ch.Name != items[j].ch.Name {
			return items[i].ch.Name < items[j].ch.Name
		}
		return items[i].ch.ID < items[j].ch.ID
	})

	var out []Assignment
	for i, it := range items {
		if a, ok := assign(it.ch, start+i, opts); ok {
			out = append(out, a)
		}
	}
	mustBeUnique("sort and renumber", group, out)
	return out, nil
}

// NaturalCompare compares a and b chunk by chunk; digit runs compare by numeric
// value, everything else byte-wise. Returns -1, 0 or 1.
func NaturalCompare(a, b string) int {
	for a != "" && b != "" {
		ca, ra := nextChunk(a)
		cb, rb := nextChunk(b)
		da, db := isDigit(ca[0]), isDigit(cb[0])
		var c int
		switch {
		case da && db:
			c = compareDigits(ca, cb)
		default:
			c = strings.Compare(ca, cb)
		}
		if c != 0 {
			return c
		}
		a, b = ra, rb
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

func nextChunk(s string) (string, string) {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

func compareDigits(a, b string) int {
	ta := strings.TrimLeft(a, "0")
	tb := strings.TrimLeft(b, "0")
	if len(ta) != len(tb) {
		if len(ta) < len(tb) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(ta, tb); c != 0 {
		return c
	}
	// Equal value: fewer leading zeros first.
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
