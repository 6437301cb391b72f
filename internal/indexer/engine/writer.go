package engine

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
)

// OpenMode selects whether a writer starts from an empty index or the
// latest commit.
type OpenMode int

const (
	ModeCreate OpenMode = iota
	ModeAppend
)

type WriterConfig struct {
	Mode     OpenMode
	Analyzer Analyzer
}

// indexedDoc is a document with its per-field tokens. It is immutable once
// built so readers can share it with the writer.
type indexedDoc struct {
	doc    *Document
	fields map[string][]Token
}

func analyzeDocument(a Analyzer, doc *Document) *indexedDoc {
	d := &indexedDoc{doc: doc, fields: make(map[string][]Token)}
	for _, f := range doc.Fields {
		if f.Index == IndexNone {
			continue
		}
		toks := d.fields[f.Name]
		pos := len(toks)
		for _, v := range f.Values {
			if f.Index == IndexAnalyzed && v.Kind == value.KindString {
				for _, t := range a.Analyze(f.Name, v.Str) {
					toks = append(toks, Token{Term: t.Term, Position: pos + t.Position})
				}
				pos = len(toks)
				continue
			}
			toks = append(toks, Token{Term: v.Encode(), Position: pos})
			pos++
		}
		d.fields[f.Name] = toks
	}
	return d
}

func (d *indexedDoc) hasTerm(t Term) bool {
	for _, tok := range d.fields[t.Field] {
		if tok.Term == t.Text {
			return true
		}
	}
	return false
}

// Writer is the single mutator of a Directory. All methods are safe for
// concurrent use.
type Writer struct {
	mu        sync.Mutex
	dir       *Directory
	analyzer  Analyzer
	docs      []*indexedDoc
	gen       uint64
	committed map[string]string
	dirty     bool
	closed    bool
	// changes counts mutations; readers remember the value they saw.
	changes uint64
}

// OpenWriter takes the directory's lock marker and loads the latest commit
// in append mode.
func OpenWriter(dir *Directory, cfg WriterConfig) (*Writer, error) {
	if cfg.Analyzer == nil {
		cfg.Analyzer = StandardAnalyzer{}
	}
	var latest *commitFile
	if cfg.Mode == ModeAppend {
		c, err := dir.latestCommit()
		if err != nil {
			return nil, err
		}
		latest = c
	}
	if err := dir.obtainLock(); err != nil {
		return nil, err
	}
	w := &Writer{
		dir:       dir,
		analyzer:  cfg.Analyzer,
		committed: map[string]string{},
	}
	if latest == nil {
		gens, err := dir.generations()
		if err != nil {
			dir.ForceUnlock()
			return nil, err
		}
		if len(gens) > 0 {
			w.gen = gens[len(gens)-1]
		}
		w.dirty = true
		return w, nil
	}
	w.gen = latest.Generation
	w.committed = latest.UserData
	if w.committed == nil {
		w.committed = map[string]string{}
	}
	w.docs = make([]*indexedDoc, 0, len(latest.Docs))
	for _, d := range latest.Docs {
		w.docs = append(w.docs, analyzeDocument(w.analyzer, d))
	}
	return w, nil
}

func (w *Writer) AddDocument(doc *Document) error {
	d := analyzeDocument(w.analyzer, doc)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrAlreadyClosed
	}
	w.docs = append(w.docs, d)
	w.dirty = true
	w.changes++
	return nil
}

// UpdateDocument deletes every document containing t, then adds doc.
func (w *Writer) UpdateDocument(t Term, doc *Document) error {
	d := analyzeDocument(w.analyzer, doc)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrAlreadyClosed
	}
	w.deleteLocked([]Term{t})
	w.docs = append(w.docs, d)
	w.dirty = true
	w.changes++
	return nil
}

// DeleteDocuments removes every document containing any of terms.
func (w *Writer) DeleteDocuments(terms ...Term) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrAlreadyClosed
	}
	if w.deleteLocked(terms) > 0 {
		w.dirty = true
		w.changes++
	}
	return nil
}

// deleteLocked builds a fresh slice so readers holding the old one are
// unaffected.
func (w *Writer) deleteLocked(terms []Term) int {
	kept := make([]*indexedDoc, 0, len(w.docs))
	removed := 0
	for _, d := range w.docs {
		match := false
		for _, t := range terms {
			if d.hasTerm(t) {
				match = true
				break
			}
		}
		if match {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	if removed > 0 {
		w.docs = kept
	}
	return removed
}

// Commit durably writes every change since the previous commit together with
// userData. It does nothing when no document changed, in which case userData
// is not recorded either.
func (w *Writer) Commit(userData map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrAlreadyClosed
	}
	if !w.dirty {
		return nil
	}
	docs := make([]*Document, len(w.docs))
	for i, d := range w.docs {
		docs[i] = d.doc
	}
	data := maps.Clone(userData)
	if data == nil {
		data = map[string]string{}
	}
	next := w.gen + 1
	c := &commitFile{Generation: next, CreatedAt: time.Now(), Docs: docs, UserData: data}
	if err := writeCommit(w.dir.commitPath(next), c); err != nil {
		return fmt.Errorf("committing generation %d: %w", next, err)
	}
	w.gen = next
	w.committed = data
	w.dirty = false
	if err := w.dir.pruneCommits(next); err != nil {
		return err
	}
	return nil
}

// Reader opens a near-real-time snapshot including uncommitted changes. The
// caller owns the returned reference.
func (w *Writer) Reader() (*Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrAlreadyClosed
	}
	r := newReader(w.docs, maps.Clone(w.committed), w.gen)
	r.version = w.changes
	return r, nil
}

// IsCurrent reports whether r reflects every change made through w.
func (w *Writer) IsCurrent(r *Reader) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return r.version == w.changes
}

// CommittedUserData returns the user data of the last commit.
func (w *Writer) CommittedUserData() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.committed)
}

// HasUncommittedChanges reports whether Commit would write a new generation.
func (w *Writer) HasUncommittedChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

func (w *Writer) IsClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close discards uncommitted changes and removes the lock marker.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.docs = nil
	return w.dir.ForceUnlock()
}
