package activity

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Commit metadata keys holding the status inside the index.
const (
	MetaLastActivityID = "LastActivityId"
	MetaGaps           = "Gaps"
)

// Status says how far the index has applied the activity log: every id up
// to LastActivityID except those in Gaps.
type Status struct {
	LastActivityID int64   `json:"lastActivityId"`
	Gaps           []int64 `json:"gaps"`
}

// Metadata serializes s into commit user data.
func (s Status) Metadata() map[string]string {
	gaps := make([]string, len(s.Gaps))
	for i, g := range s.Gaps {
		gaps[i] = strconv.FormatInt(g, 10)
	}
	return map[string]string{
		MetaLastActivityID: strconv.FormatInt(s.LastActivityID, 10),
		MetaGaps:           strings.Join(gaps, ","),
	}
}

// ParseStatus reads a status from commit user data. Missing or malformed
// values yield zero and an empty gap list.
func ParseStatus(data map[string]string) Status {
	var s Status
	if v, ok := data[MetaLastActivityID]; ok {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && id >= 0 {
			s.LastActivityID = id
		}
	}
	for _, part := range strings.Split(data[MetaGaps], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		g, err := strconv.ParseInt(part, 10, 64)
		if err != nil || g < 0 || g >= s.LastActivityID {
			continue
		}
		s.Gaps = append(s.Gaps, g)
	}
	slices.Sort(s.Gaps)
	s.Gaps = slices.Compact(s.Gaps)
	return s
}

// IsApplied reports whether id is covered by s.
func (s Status) IsApplied(id int64) bool {
	if id > s.LastActivityID {
		return false
	}
	_, found := slices.BinarySearch(s.Gaps, id)
	return !found
}

func (s Status) Clone() Status {
	return Status{LastActivityID: s.LastActivityID, Gaps: slices.Clone(s.Gaps)}
}

func (s Status) Equal(o Status) bool {
	return s.LastActivityID == o.LastActivityID && slices.Equal(s.Gaps, o.Gaps)
}

func (s Status) String() string {
	return fmt.Sprintf("last=%d gaps=%v", s.LastActivityID, s.Gaps)
}
