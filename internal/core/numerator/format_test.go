package numerator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/core/id"
)

func TestFormat(t *testing.T) {
	annual := DefaultPolicy()
	assert.Equal(t, "SV/2425/0001", Format(annual, "SV", "2425", "", 1))
	assert.Equal(t, "SV/2425/12345", Format(annual, "SV", "2425", "", 12345))

	monthly := Policy{CustomPrefix: "HQ", PrefixEnabled: true, ResetPeriod: ResetMonthly}
	assert.Equal(t, "HQ/PV/2425/May/0007", Format(monthly, "PV", "2425", "May", 7))

	disabled := Policy{CustomPrefix: "HQ", ResetPeriod: ResetAnnually}
	assert.Equal(t, "JNL/2324/0002", Format(disabled, "JNL", "2324", "", 2))
}

func TestPattern_MatchRoundTrip(t *testing.T) {
	policy := Policy{CustomPrefix: "HQ", PrefixEnabled: true, ResetPeriod: ResetQuarterly}
	p, err := Resolve(date(2024, time.August, 3), policy.ResetPeriod)
	require.NoError(t, err)

	pt := NewPattern(policy, "SV", p)
	for _, seq := range []int64{1, 42, 9999, 10000} {
		got, ok := pt.Match(FormatIn(policy, "SV", p, seq))
		require.True(t, ok)
		assert.Equal(t, seq, got)
	}
}

func TestPattern_RejectsOtherScopes(t *testing.T) {
	policy := Policy{ResetPeriod: ResetMonthly}
	may, _ := Resolve(date(2024, time.May, 10), ResetMonthly)
	pt := NewPattern(policy, "SV", may)

	for _, number := range []string{
		"SV/2425/Jun/0001",
		"SV/2526/May/0001",
		"PV/2425/May/0001",
		"HQ/SV/2425/May/0001",
		"SV/2425/May/",
		"SV/2425/May/0001x",
		"SV/2425/May/0000",
		"INV-42",
		Placeholder(id.New()),
	} {
		_, ok := pt.Match(number)
		assert.False(t, ok, number)
	}
}

func TestPattern_NeverSpansFiscalYears(t *testing.T) {
	policy := Policy{ResetPeriod: ResetNever}
	p, _ := Resolve(date(2024, time.May, 10), ResetNever)
	pt := NewPattern(policy, "CN", p)

	seq, ok := pt.Match("CN/2223/0017")
	require.True(t, ok)
	assert.Equal(t, int64(17), seq)

	_, ok = pt.Match("CN/2425/May/0001")
	assert.False(t, ok)
	assert.Equal(t, "CN/", pt.LikePrefix())
}

func TestPattern_Regexp(t *testing.T) {
	policy := Policy{ResetPeriod: ResetMonthly}
	p, _ := Resolve(date(2024, time.May, 10), ResetMonthly)
	pt := NewPattern(policy, "SV", p)

	assert.Equal(t, `^SV/2425/May/([0-9]+)$`, pt.Regexp())
	assert.Equal(t, "SV/2425/May/", pt.LikePrefix())
}

func TestPattern_LikePrefixEscapesWildcards(t *testing.T) {
	p, _ := Resolve(date(2024, time.May, 10), ResetAnnually)
	pt := NewPattern(DefaultPolicy(), "NS_CN", p)
	assert.Equal(t, `NS\_CN/2425/`, pt.LikePrefix())
}

func TestPlaceholder(t *testing.T) {
	recordID := id.MustParse("0190a4f2-0000-7000-8000-000000000001")
	assert.Equal(t, "~tmp~0190a4f2-0000-7000-8000-000000000001", Placeholder(recordID))
}

func TestScope_Key(t *testing.T) {
	s, err := NewScope("t1", "SV", date(2024, time.May, 10), ResetMonthly)
	require.NoError(t, err)
	assert.Equal(t, "t1|SV|2425|May", s.Key())

	never, err := NewScope("t1", "SV", date(2024, time.May, 10), ResetNever)
	require.NoError(t, err)
	assert.Equal(t, "t1|SV|*|", never.Key())
}

func TestRecord_Less(t *testing.T) {
	a := Record{OccurredOn: date(2024, time.May, 10), CreatedSeq: 5}
	b := Record{OccurredOn: date(2024, time.May, 10), CreatedSeq: 7}
	c := Record{OccurredOn: date(2024, time.May, 9), CreatedSeq: 9}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, c.Less(a))
}
