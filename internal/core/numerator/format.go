package numerator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// Separator joins number parts.
	Separator = "/"

	// SequenceWidth is the minimum zero-padded width of the sequence part.
	SequenceWidth = 4

	// PlaceholderMarker starts every temporary number written during a reindex.
	// Generated and explicit numbers never start with it.
	PlaceholderMarker = "~tmp~"
)

// Format builds "[PREFIX/]TYPE/FY[/SEGMENT]/NNNN".
func Format(policy Policy, docType, fiscalYear, segment string, seq int64) string {
	var b strings.Builder
	if prefix := policy.Prefix(); prefix != "" {
		b.WriteString(prefix)
		b.WriteString(Separator)
	}
	b.WriteString(docType)
	b.WriteString(Separator)
	b.WriteString(fiscalYear)
	if segment != "" {
		b.WriteString(Separator)
		b.WriteString(segment)
	}
	b.WriteString(Separator)
	b.WriteString(fmt.Sprintf("%0*d", SequenceWidth, seq))
	return b.String()
}

// FormatIn formats seq for a resolved period.
func FormatIn(policy Policy, docType string, p Period, seq int64) string {
	return Format(policy, docType, p.FiscalYear, p.Segment, seq)
}

// Placeholder returns the temporary number for a record during a reindex.
func Placeholder(recordID fmt.Stringer) string {
	return PlaceholderMarker + recordID.String()
}

// Pattern matches the numbers of one scope and extracts their sequence.
type Pattern struct {
	head       string // "[PREFIX/]TYPE/"
	fiscalYear string // empty matches any fiscal year (NEVER reset)
	segment    string
	re         *regexp.Regexp
}

// NewPattern builds the pattern of the scope the period belongs to.
func NewPattern(policy Policy, docType string, p Period) Pattern {
	head := docType + Separator
	if prefix := policy.Prefix(); prefix != "" {
		head = prefix + Separator + head
	}
	pt := Pattern{head: head, segment: p.Segment}
	if p.Bounded() {
		pt.fiscalYear = p.FiscalYear
	}
	pt.re = regexp.MustCompile(pt.Regexp())
	return pt
}

// Regexp is the anchored expression, usable both in Go and in PostgreSQL "~".
// The only capture group is the sequence.
func (pt Pattern) Regexp() string {
	var b strings.Builder
	b.WriteString("^")
	b.WriteString(regexp.QuoteMeta(pt.head))
	if pt.fiscalYear != "" {
		b.WriteString(regexp.QuoteMeta(pt.fiscalYear))
	} else {
		b.WriteString("[0-9]{4}")
	}
	if pt.segment != "" {
		b.WriteString(regexp.QuoteMeta(Separator + pt.segment))
	}
	b.WriteString(regexp.QuoteMeta(Separator))
	b.WriteString("([0-9]+)$")
	return b.String()
}

// LikePrefix is the longest literal prefix shared by all numbers of the scope,
// with LIKE wildcards escaped by backslash.
func (pt Pattern) LikePrefix() string {
	lit := pt.head
	if pt.fiscalYear != "" {
		lit += pt.fiscalYear + Separator
		if pt.segment != "" {
			lit += pt.segment + Separator
		}
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(lit)
}

// Match extracts the sequence when number belongs to the scope.
func (pt Pattern) Match(number string) (int64, bool) {
	if !strings.HasPrefix(number, pt.head) {
		return 0, false
	}
	m := pt.re.FindStringSubmatch(number)
	if m == nil {
		return 0, false
	}
	seq, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

// String returns the regular expression.
func (pt Pattern) String() string {
	return pt.Regexp()
}

// Parse extracts the trailing sequence of number if it belongs to the scope of pattern.
func Parse(number string, pattern Pattern) (int64, bool) {
	return pattern.Match(number)
}
