package engine

import (
	"fmt"
	"maps"
	"sort"
	"sync/atomic"
)

type postingList struct {
	docs      []int
	freqs     []int
	positions [][]int
}

type fieldIndex struct {
	postings map[string]*postingList
	terms    []string
	lengths  []int
	totalLen int
	docCount int
}

func (fi *fieldIndex) avgLength() float64 {
	if fi.docCount == 0 {
		return 0
	}
	return float64(fi.totalLen) / float64(fi.docCount)
}

// Reader is an immutable point-in-time view of the index. Doc numbers are
// only meaningful for the reader that produced them.
type Reader struct {
	refs       atomic.Int32
	docs       []*indexedDoc
	fields     map[string]*fieldIndex
	userData   map[string]string
	generation uint64
	version    uint64
}

func newReader(docs []*indexedDoc, userData map[string]string, gen uint64) *Reader {
	r := &Reader{
		docs:       docs,
		fields:     make(map[string]*fieldIndex),
		userData:   userData,
		generation: gen,
	}
	r.refs.Store(1)
	for n, d := range docs {
		for name, toks := range d.fields {
			fi, ok := r.fields[name]
			if !ok {
				fi = &fieldIndex{postings: make(map[string]*postingList), lengths: make([]int, len(docs))}
				r.fields[name] = fi
			}
			fi.lengths[n] = len(toks)
			fi.totalLen += len(toks)
			fi.docCount++
			for _, tok := range toks {
				pl, ok := fi.postings[tok.Term]
				if !ok {
					pl = &postingList{}
					fi.postings[tok.Term] = pl
				}
				last := len(pl.docs) - 1
				if last < 0 || pl.docs[last] != n {
					pl.docs = append(pl.docs, n)
					pl.freqs = append(pl.freqs, 0)
					pl.positions = append(pl.positions, nil)
					last++
				}
				pl.freqs[last]++
				pl.positions[last] = append(pl.positions[last], tok.Position)
			}
		}
	}
	for _, fi := range r.fields {
		fi.terms = make([]string, 0, len(fi.postings))
		for t := range fi.postings {
			fi.terms = append(fi.terms, t)
		}
		sort.Strings(fi.terms)
	}
	return r
}

// OpenReader opens the latest commit of dir without taking the write lock.
func OpenReader(dir *Directory, analyzer Analyzer) (*Reader, error) {
	if analyzer == nil {
		analyzer = StandardAnalyzer{}
	}
	c, err := dir.latestCommit()
	if err != nil {
		return nil, err
	}
	docs := make([]*indexedDoc, 0, len(c.Docs))
	for _, d := range c.Docs {
		docs = append(docs, analyzeDocument(analyzer, d))
	}
	return newReader(docs, c.UserData, c.Generation), nil
}

// IncRef adds a reference. It fails once the count has reached zero.
func (r *Reader) IncRef() error {
	if !r.TryIncRef() {
		return ErrAlreadyClosed
	}
	return nil
}

// TryIncRef adds a reference unless the reader is already closed.
func (r *Reader) TryIncRef() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// DecRef drops a reference; the last one closes the reader.
func (r *Reader) DecRef() error {
	n := r.refs.Add(-1)
	if n < 0 {
		r.refs.Store(0)
		return fmt.Errorf("reader reference count went negative: %w", ErrAlreadyClosed)
	}
	return nil
}

func (r *Reader) RefCount() int32 { return r.refs.Load() }

func (r *Reader) ensureOpen() error {
	if r.refs.Load() <= 0 {
		return ErrAlreadyClosed
	}
	return nil
}

// NumDocs is the number of live documents in the snapshot.
func (r *Reader) NumDocs() int { return len(r.docs) }

// Generation is the commit generation the writer had reached when the
// snapshot was taken.
func (r *Reader) Generation() uint64 { return r.generation }

// CommitUserData is the user data of the last commit visible to the writer
// when this reader was opened.
func (r *Reader) CommitUserData() map[string]string {
	return maps.Clone(r.userData)
}

// Document returns the stored fields of doc n.
func (r *Reader) Document(n int) (*Document, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if n < 0 || n >= len(r.docs) {
		return nil, fmt.Errorf("document %d out of range [0,%d)", n, len(r.docs))
	}
	return r.docs[n].doc.storedOnly(), nil
}

// DocFreq is the number of documents containing t.
func (r *Reader) DocFreq(t Term) int {
	fi, ok := r.fields[t.Field]
	if !ok {
		return 0
	}
	pl, ok := fi.postings[t.Text]
	if !ok {
		return 0
	}
	return len(pl.docs)
}

// Terms returns the sorted term dictionary of field.
func (r *Reader) Terms(field string) []string {
	fi, ok := r.fields[field]
	if !ok {
		return nil
	}
	return append([]string(nil), fi.terms...)
}

// Fields lists indexed field names.
func (r *Reader) Fields() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
