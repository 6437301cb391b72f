package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMetadataRoundTrip(t *testing.T) {
	statuses := []Status{
		{},
		{LastActivityID: 1},
		{LastActivityID: 42, Gaps: []int64{0, 7, 41}},
		{LastActivityID: 1 << 40, Gaps: []int64{1, 2, 3}},
	}
	for _, s := range statuses {
		got := ParseStatus(s.Metadata())
		assert.True(t, s.Equal(got), "want %v, got %v", s, got)
	}
}

func TestParseStatusDefaults(t *testing.T) {
	assert.True(t, ParseStatus(nil).Equal(Status{}))
	assert.True(t, ParseStatus(map[string]string{MetaLastActivityID: "x", MetaGaps: "1,2"}).Equal(Status{}),
		"gaps cannot exceed an unreadable cursor")

	s := ParseStatus(map[string]string{MetaLastActivityID: " 9 ", MetaGaps: "5,,3,bad,5,-1,9,12"})
	assert.Equal(t, Status{LastActivityID: 9, Gaps: []int64{3, 5}}, s)
	assert.Equal(t, "3,5", s.Metadata()[MetaGaps])
}

func TestStatusIsApplied(t *testing.T) {
	s := Status{LastActivityID: 10, Gaps: []int64{4, 6}}
	assert.True(t, s.IsApplied(1))
	assert.False(t, s.IsApplied(4))
	assert.True(t, s.IsApplied(10))
	assert.False(t, s.IsApplied(11))

	c := s.Clone()
	c.Gaps[0] = 99
	assert.Equal(t, int64(4), s.Gaps[0])
}

func TestTrackerGaps(t *testing.T) {
	tr := NewTracker(Status{})
	tr.Done(3)
	assert.Equal(t, Status{LastActivityID: 3, Gaps: []int64{1, 2}}, tr.Status())
	assert.False(t, tr.IsDone(1))
	assert.True(t, tr.IsDone(3))

	tr.Done(1)
	tr.Done(5)
	assert.Equal(t, Status{LastActivityID: 5, Gaps: []int64{2, 4}}, tr.Status())

	tr.Done(2)
	tr.Done(4)
	assert.Equal(t, Status{LastActivityID: 5}, tr.Status())

	tr.Reset(Status{LastActivityID: 8, Gaps: []int64{6}})
	assert.False(t, tr.IsDone(6))
	assert.True(t, tr.IsDone(7))
}
