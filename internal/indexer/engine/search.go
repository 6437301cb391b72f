package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
)

// ErrStopCollecting may be returned by a Collector to end a search early
// without failing it.
var ErrStopCollecting = errors.New("engine: stop collecting")

// hits maps doc number to score.
type hits map[int]float64

// Search evaluates q and feeds matches to c in ascending doc order.
func (r *Reader) Search(q Query, c Collector) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	matched, err := r.eval(q)
	if err != nil {
		return err
	}
	if err := c.SetReader(r); err != nil {
		return err
	}
	docs := make([]int, 0, len(matched))
	for doc := range matched {
		docs = append(docs, doc)
	}
	sort.Ints(docs)
	for _, doc := range docs {
		if err := c.Collect(doc, matched[doc]); err != nil {
			if errors.Is(err, ErrStopCollecting) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Count returns the number of documents matching q.
func (r *Reader) Count(q Query) (int, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	matched, err := r.eval(q)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (r *Reader) eval(q Query) (hits, error) {
	switch q := q.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil query", ErrUnsupportedQuery)
	case *TermQuery:
		return r.evalTerm(q.Term, boostOf(q.Boost)), nil
	case *PrefixQuery:
		return r.evalTerms(q.Prefix.Field, q.Prefix.Text, func(t string) bool {
			return strings.HasPrefix(t, q.Prefix.Text)
		}, true, boostOf(q.Boost)), nil
	case *WildcardQuery:
		prefix := literalPrefix(q.Pattern.Text)
		return r.evalTerms(q.Pattern.Field, prefix, func(t string) bool {
			return wildcardMatch(q.Pattern.Text, t)
		}, false, boostOf(q.Boost)), nil
	case *FuzzyQuery:
		return r.evalFuzzy(q), nil
	case *PhraseQuery:
		return r.evalPhrase(q), nil
	case *TermRangeQuery:
		return r.evalTermRange(q), nil
	case *NumericRangeQuery:
		return r.evalNumericRange(q)
	case *BooleanQuery:
		return r.evalBoolean(q)
	case *MatchNoneQuery:
		return hits{}, nil
	case *MatchAllQuery:
		out := make(hits, len(r.docs))
		for n := range r.docs {
			out[n] = boostOf(q.Boost)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedQuery, q)
}

func (r *Reader) evalTerm(t Term, boost float64) hits {
	fi, ok := r.fields[t.Field]
	if !ok {
		return hits{}
	}
	pl, ok := fi.postings[t.Text]
	if !ok {
		return hits{}
	}
	idf := computeIDF(int64(len(r.docs)), int64(len(pl.docs)))
	avg := fi.avgLength()
	out := make(hits, len(pl.docs))
	for i, doc := range pl.docs {
		out[doc] = boost * idf * computeTFNorm(float64(pl.freqs[i]), float64(fi.lengths[doc]), avg)
	}
	return out
}

// evalTerms gives every document containing a matching term a constant
// score. Terms are walked from seek; when stopOnMiss is set the walk ends at
// the first term past seek that fails match.
func (r *Reader) evalTerms(field, seek string, match func(string) bool, stopOnMiss bool, boost float64) hits {
	out := hits{}
	fi, ok := r.fields[field]
	if !ok {
		return out
	}
	start := sort.SearchStrings(fi.terms, seek)
	for _, t := range fi.terms[start:] {
		if seek != "" && !strings.HasPrefix(t, seek) {
			break
		}
		if !match(t) {
			if stopOnMiss {
				break
			}
			continue
		}
		for _, doc := range fi.postings[t].docs {
			out[doc] = boost
		}
	}
	return out
}

func (r *Reader) evalFuzzy(q *FuzzyQuery) hits {
	out := hits{}
	fi, ok := r.fields[q.Term.Field]
	if !ok {
		return out
	}
	target := []rune(q.Term.Text)
	boost := boostOf(q.Boost)
	for _, t := range fi.terms {
		d := editDistance(target, []rune(t), q.MaxEdits)
		if d > q.MaxEdits {
			continue
		}
		score := boost
		if n := len(target); n > 0 {
			score *= 1 - float64(d)/float64(n+1)
		}
		for _, doc := range fi.postings[t].docs {
			if score > out[doc] {
				out[doc] = score
			}
		}
	}
	return out
}

func (r *Reader) evalPhrase(q *PhraseQuery) hits {
	out := hits{}
	if len(q.Terms) == 0 {
		return out
	}
	if len(q.Terms) == 1 {
		return r.evalTerm(Term{Field: q.Field, Text: q.Terms[0]}, boostOf(q.Boost))
	}
	fi, ok := r.fields[q.Field]
	if !ok {
		return out
	}
	lists := make([]*postingList, len(q.Terms))
	idf := 0.0
	for i, t := range q.Terms {
		pl, ok := fi.postings[t]
		if !ok {
			return out
		}
		lists[i] = pl
		idf += computeIDF(int64(len(r.docs)), int64(len(pl.docs)))
	}
	avg := fi.avgLength()
	for i, doc := range lists[0].docs {
		positions := make([][]int, len(lists))
		positions[0] = lists[0].positions[i]
		for j := 1; j < len(lists); j++ {
			k := sort.SearchInts(lists[j].docs, doc)
			if k == len(lists[j].docs) || lists[j].docs[k] != doc {
				positions = nil
				break
			}
			positions[j] = lists[j].positions[k]
		}
		if positions == nil {
			continue
		}
		freq := phraseFreq(positions, q.Slop)
		if freq == 0 {
			continue
		}
		out[doc] = boostOf(q.Boost) * idf * computeTFNorm(float64(freq), float64(fi.lengths[doc]), avg)
	}
	return out
}

// phraseFreq counts start positions from which every following term can be
// reached in order with at most slop skipped positions in total.
func phraseFreq(positions [][]int, slop int) int {
	freq := 0
	for _, start := range positions[0] {
		prev, used, ok := start, 0, true
		for _, ps := range positions[1:] {
			k := sort.SearchInts(ps, prev+1)
			if k == len(ps) {
				ok = false
				break
			}
			used += ps[k] - prev - 1
			if used > slop {
				ok = false
				break
			}
			prev = ps[k]
		}
		if ok {
			freq++
		}
	}
	return freq
}

func (r *Reader) evalTermRange(q *TermRangeQuery) hits {
	out := hits{}
	fi, ok := r.fields[q.Field]
	if !ok {
		return out
	}
	start := 0
	if q.Lower != nil {
		start = sort.SearchStrings(fi.terms, *q.Lower)
	}
	boost := boostOf(q.Boost)
	for _, t := range fi.terms[start:] {
		if q.Lower != nil && !q.IncludeLower && t == *q.Lower {
			continue
		}
		if q.Upper != nil {
			if t > *q.Upper || (!q.IncludeUpper && t == *q.Upper) {
				break
			}
		}
		for _, doc := range fi.postings[t].docs {
			out[doc] = boost
		}
	}
	return out
}

func (r *Reader) evalNumericRange(q *NumericRangeQuery) (hits, error) {
	if !q.Kind.Numeric() {
		return nil, fmt.Errorf("%w: numeric range over %s field %q", ErrUnsupportedQuery, q.Kind, q.Field)
	}
	tr := &TermRangeQuery{
		Field:        q.Field,
		IncludeLower: q.MinInclusive,
		IncludeUpper: q.MaxInclusive,
	}
	for _, bound := range []*value.Value{q.Min, q.Max} {
		if bound != nil && bound.Kind != q.Kind {
			return nil, fmt.Errorf("%w: %s bound on %s range for field %q", ErrUnsupportedQuery, bound.Kind, q.Kind, q.Field)
		}
	}
	if q.Min != nil {
		lo := q.Min.Encode()
		tr.Lower = &lo
	}
	if q.Max != nil {
		hi := q.Max.Encode()
		tr.Upper = &hi
	}
	out := hits{}
	fi, ok := r.fields[q.Field]
	if !ok {
		return out, nil
	}
	start := 0
	if tr.Lower != nil {
		start = sort.SearchStrings(fi.terms, *tr.Lower)
	}
	boost := boostOf(q.Boost)
	for _, t := range fi.terms[start:] {
		if tr.Upper != nil && t > *tr.Upper {
			break
		}
		if !inRange(t, tr) {
			continue
		}
		// Terms of other kinds can share a field.
		if _, err := value.Decode(q.Kind, t); err != nil {
			continue
		}
		for _, doc := range fi.postings[t].docs {
			out[doc] = boost
		}
	}
	return out, nil
}

func inRange(t string, q *TermRangeQuery) bool {
	if q.Lower != nil && (t < *q.Lower || (!q.IncludeLower && t == *q.Lower)) {
		return false
	}
	if q.Upper != nil && (t > *q.Upper || (!q.IncludeUpper && t == *q.Upper)) {
		return false
	}
	return true
}

func (r *Reader) evalBoolean(q *BooleanQuery) (hits, error) {
	var must []hits
	var should []hits
	var mustNot []hits
	for _, c := range q.Clauses {
		h, err := r.eval(c.Query)
		if err != nil {
			return nil, err
		}
		switch c.Occur {
		case Must:
			must = append(must, h)
		case Should:
			should = append(should, h)
		case MustNot:
			mustNot = append(mustNot, h)
		default:
			return nil, fmt.Errorf("%w: clause occur %d", ErrUnsupportedQuery, c.Occur)
		}
	}
	out := hits{}
	switch {
	case len(must) > 0:
		for doc, score := range must[0] {
			total, ok := score, true
			for _, h := range must[1:] {
				s, found := h[doc]
				if !found {
					ok = false
					break
				}
				total += s
			}
			if ok {
				out[doc] = total
			}
		}
		for _, h := range should {
			for doc, s := range h {
				if _, ok := out[doc]; ok {
					out[doc] += s
				}
			}
		}
	case len(should) > 0:
		for _, h := range should {
			for doc, s := range h {
				out[doc] += s
			}
		}
	default:
		return out, nil
	}
	for _, h := range mustNot {
		for doc := range h {
			delete(out, doc)
		}
	}
	if boost := boostOf(q.Boost); boost != 1 {
		for doc := range out {
			out[doc] *= boost
		}
	}
	return out, nil
}

// literalPrefix is the part of a wildcard pattern before its first
// unescaped wildcard, with escapes removed.
func literalPrefix(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*', '?':
			return b.String()
		case '\\':
			if i+1 < len(pattern) {
				i++
				c = pattern[i]
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func wildcardMatch(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	r, size := utf8.DecodeRuneInString(pattern)
	switch r {
	case '*':
		rest := pattern[size:]
		for i := 0; ; {
			if wildcardMatch(rest, s[i:]) {
				return true
			}
			if i >= len(s) {
				return false
			}
			_, n := utf8.DecodeRuneInString(s[i:])
			i += n
		}
	case '?':
		if s == "" {
			return false
		}
		_, n := utf8.DecodeRuneInString(s)
		return wildcardMatch(pattern[size:], s[n:])
	case '\\':
		if size < len(pattern) {
			lit, n := utf8.DecodeRuneInString(pattern[size:])
			sr, sn := utf8.DecodeRuneInString(s)
			if s == "" || sr != lit {
				return false
			}
			return wildcardMatch(pattern[size+n:], s[sn:])
		}
	}
	sr, sn := utf8.DecodeRuneInString(s)
	if s == "" || sr != r {
		return false
	}
	return wildcardMatch(pattern[size:], s[sn:])
}

// editDistance is the Levenshtein distance between a and b, returning
// limit+1 as soon as it is known to exceed limit.
func editDistance(a, b []rune, limit int) int {
	if d := len(a) - len(b); d > limit || -d > limit {
		return limit + 1
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, cur[j])
		}
		if rowMin > limit {
			return limit + 1
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
