package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
)

var testSchema = Schema{
	"VersionId": value.KindLong,
	"Modified":  value.KindDateTime,
}

func parse(t *testing.T, text string) Node {
	t.Helper()
	n, err := NewParser(testSchema, "_Text").Parse(text)
	require.NoError(t, err)
	return n
}

func TestParseBooleanStructure(t *testing.T) {
	n := parse(t, "Name:report AND (Type:File OR Type:Folder) -Path:/Root/Trash*")
	l, ok := n.(*Logical)
	require.True(t, ok)
	require.Len(t, l.Clauses, 3)
	assert.Equal(t, Must, l.Clauses[0].Occur)
	assert.Equal(t, Must, l.Clauses[1].Occur)
	assert.Equal(t, MustNot, l.Clauses[2].Occur)

	group := l.Clauses[1].Node.(*Logical)
	assert.Equal(t, Should, group.Clauses[0].Occur)
	assert.Equal(t, Should, group.Clauses[1].Occur)
	assert.Equal(t, "+Name:report +(Type:File Type:Folder) -Path:/Root/Trash*", n.String())
}

func TestParseDefaultFieldAndOperators(t *testing.T) {
	assert.Equal(t, "_Text:annual", parse(t, "annual").String())
	assert.Equal(t, "+_Text:annual +_Text:report", parse(t, "annual report").String())
	assert.Equal(t, "_Text:annual _Text:report", parse(t, "annual OR report").String())
	assert.Equal(t, "+_Text:annual -_Text:draft", parse(t, "annual NOT draft").String())
	assert.Equal(t, "+_Text:annual -_Text:draft", parse(t, "+annual !draft").String())
	assert.Equal(t, "+_Text:a +_Text:b", parse(t, "a && b").String())
	assert.Equal(t, "+Name:a +Name:b", parse(t, "Name:(a b)").String())
}

func TestParseTypedValuesAndRanges(t *testing.T) {
	n := parse(t, "VersionId:[10 TO *}")
	r, ok := n.(*Range)
	require.True(t, ok)
	require.NotNil(t, r.Min)
	assert.Nil(t, r.Max)
	assert.Equal(t, value.Long(10), *r.Min)
	assert.True(t, r.MinInclusive)
	assert.False(t, r.MaxInclusive)

	term := parse(t, "VersionId:42").(*SimpleTerm)
	assert.Equal(t, value.Long(42), term.Value)

	date := parse(t, "Modified:2024-01-02T10:00:00Z").(*SimpleTerm)
	assert.Equal(t, value.KindDateTime, date.Value.Kind)
	assert.Equal(t, 10, date.Value.Time.Hour())

	assert.Equal(t, "Name:{a TO m]", parse(t, "Name:{a TO m]").String())
}

func TestParseModifiersAndPhrases(t *testing.T) {
	term := parse(t, "Name:reprot~1^3").(*SimpleTerm)
	require.NotNil(t, term.Fuzzy)
	require.NotNil(t, term.Boost)
	assert.Equal(t, 1.0, *term.Fuzzy)
	assert.Equal(t, 3.0, *term.Boost)

	def := parse(t, "Name:reprot~").(*SimpleTerm)
	assert.Equal(t, float64(defaultFuzzy), *def.Fuzzy)

	phrase := parse(t, `"annual rep*"~2`).(*SimpleTerm)
	assert.Equal(t, "_Text", phrase.Field)
	assert.Equal(t, `annual rep\*`, phrase.Value.Str)
	assert.False(t, HasWildcard(phrase.Value.Str))

	group := parse(t, "(a OR b)^2").(*Logical)
	assert.Equal(t, 2.0, *group.Boost)
	assert.Equal(t, "(_Text:a _Text:b)^2", group.String())
}

func TestParseEscapes(t *testing.T) {
	term := parse(t, `Name:rep\*ort*`).(*SimpleTerm)
	assert.Equal(t, `rep\*ort*`, term.Value.Str)

	spaced := parse(t, `Name:annual\ report`).(*SimpleTerm)
	assert.Equal(t, "annual report", spaced.Value.Str)

	ctrl := parse(t, `Name:a\x0ab`).(*SimpleTerm)
	assert.Equal(t, "a\nb", ctrl.Value.Str)
}

func TestParseStringRoundTrip(t *testing.T) {
	for _, text := range []string{
		"+Name:report +(Type:File Type:Folder) -Path:/Root/Trash*",
		"VersionId:[1 TO 10]",
		`Name:annual\ report~2^1.5`,
		`Name:rep\*or*`,
		"Name:a -(Type:b Type:c)",
		"(Type:File Type:Folder)^2",
	} {
		t.Run(text, func(t *testing.T) {
			first := parse(t, text)
			second := parse(t, first.String())
			assert.Equal(t, first.String(), second.String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{
		"",
		"   ",
		"Name:(a",
		"a)",
		"a OR",
		"OR a",
		"NOT",
		"Name:",
		`"open phrase`,
		"VersionId:[1 10]",
		"VersionId:[1 TO 10",
		"VersionId:abc",
		"VersionId:[x TO 10]",
		"(a OR b)~2",
		"Name:a^x",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := NewParser(testSchema, "_Text").Parse(text)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)
			var se *SyntaxError
			assert.ErrorAs(t, err, &se)
		})
	}
}
