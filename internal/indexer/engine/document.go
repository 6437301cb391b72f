package engine

import (
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
)

// IndexMode controls how a field's values become terms.
type IndexMode int

const (
	// IndexNone stores the field without making it searchable.
	IndexNone IndexMode = iota
	// IndexAnalyzed runs string values through the field's analyzer.
	IndexAnalyzed
	// IndexNotAnalyzed indexes every value as a single encoded term.
	IndexNotAnalyzed
)

// Field is one named, possibly multi-valued, document field.
type Field struct {
	Name       string        `json:"name"`
	Values     []value.Value `json:"values"`
	Stored     bool          `json:"stored,omitempty"`
	Index      IndexMode     `json:"index"`
	TermVector bool          `json:"termVector,omitempty"`
}

// NewField builds a field with the given values.
func NewField(name string, mode IndexMode, stored bool, values ...value.Value) Field {
	return Field{Name: name, Values: values, Stored: stored, Index: mode}
}

// Document is an ordered collection of fields. Documents handed to a writer
// must not be mutated afterwards.
type Document struct {
	Fields []Field `json:"fields"`
}

func NewDocument(fields ...Field) *Document {
	return &Document{Fields: fields}
}

// Add appends a field.
func (d *Document) Add(f Field) {
	d.Fields = append(d.Fields, f)
}

// Field returns the first field with the given name.
func (d *Document) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Value returns the first value of the named field.
func (d *Document) Value(name string) (value.Value, bool) {
	f, ok := d.Field(name)
	if !ok || len(f.Values) == 0 {
		return value.Value{}, false
	}
	return f.Values[0], true
}

// storedOnly returns a copy holding only stored fields.
func (d *Document) storedOnly() *Document {
	out := &Document{Fields: make([]Field, 0, len(d.Fields))}
	for _, f := range d.Fields {
		if f.Stored {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// Term addresses one indexed token of a field.
type Term struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

func NewTerm(field, text string) Term {
	return Term{Field: field, Text: text}
}

// ValueTerm builds the exact-match term for a typed value.
func ValueTerm(field string, v value.Value) Term {
	return Term{Field: field, Text: v.Encode()}
}

func (t Term) String() string {
	return t.Field + ":" + t.Text
}

// Update replaces every document matching Term with Document.
type Update struct {
	Term     Term
	Document *Document
}
