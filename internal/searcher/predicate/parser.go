package predicate

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
)

// Schema maps field names to their declared kind. Unlisted fields hold
// strings.
type Schema map[string]value.Kind

func (s Schema) Kind(field string) value.Kind {
	if k, ok := s[field]; ok {
		return k
	}
	return value.KindString
}

// SyntaxError reports malformed query text. It matches
// errors.ErrInvalidQuery.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("query syntax: %s at offset %d", e.Msg, e.Offset)
}

func (e *SyntaxError) Unwrap() error { return apperrors.ErrInvalidQuery }

const defaultFuzzy = 2

// Parser turns query text into a predicate tree:
//
//	Name:report AND (Type:File OR Type:Folder) -Path:/Root/Trash*
//	VersionId:[10 TO *} _Text:"annual report"~2 Name:reprot~1^3
//
// Clauses without an operator are required. OR makes its neighbours
// optional. Values are typed by Schema.
type Parser struct {
	schema       Schema
	defaultField string
}

func NewParser(schema Schema, defaultField string) *Parser {
	return &Parser{schema: schema, defaultField: defaultField}
}

func (p *Parser) Parse(text string) (Node, error) {
	s := &parseState{schema: p.schema, src: []rune(text)}
	n, err := s.parseGroup(p.defaultField, false)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, s.errorf("empty query")
	}
	return n, nil
}

type parseState struct {
	schema Schema
	src    []rune
	pos    int
}

type pendingClause struct {
	Clause
	explicit bool
}

func (s *parseState) parseGroup(field string, nested bool) (Node, error) {
	var clauses []pendingClause
	negateNext := false
	orNext := false
	for {
		s.skipSpace()
		if s.eof() {
			if nested {
				return nil, s.errorf("missing )")
			}
			break
		}
		if s.peek() == ')' {
			if !nested {
				return nil, s.errorf("unexpected )")
			}
			s.pos++
			break
		}
		switch {
		case s.keyword("AND") || s.symbol("&&"):
			if len(clauses) == 0 || orNext || negateNext {
				return nil, s.errorf("AND without left operand")
			}
			continue
		case s.keyword("OR") || s.symbol("||"):
			if len(clauses) == 0 || orNext || negateNext {
				return nil, s.errorf("OR without left operand")
			}
			if last := &clauses[len(clauses)-1]; !last.explicit {
				last.Occur = Should
			}
			orNext = true
			continue
		case s.keyword("NOT"):
			negateNext = true
			continue
		}

		occur, explicit := Must, false
		switch s.peek() {
		case '+':
			s.pos++
			explicit = true
		case '-', '!':
			s.pos++
			occur, explicit = MustNot, true
		}
		if negateNext {
			occur, explicit = MustNot, true
			negateNext = false
		}
		if !explicit && orNext {
			occur = Should
		}
		orNext = false

		node, err := s.parseClause(field)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, pendingClause{Clause: Clause{Node: node, Occur: occur}, explicit: explicit})
	}
	if negateNext || orNext {
		return nil, s.errorf("operator without right operand")
	}
	switch {
	case len(clauses) == 0:
		return nil, nil
	case len(clauses) == 1 && clauses[0].Occur != MustNot:
		return clauses[0].Node, nil
	}
	l := &Logical{Clauses: make([]Clause, len(clauses))}
	for i, c := range clauses {
		l.Clauses[i] = c.Clause
	}
	return l, nil
}

func (s *parseState) parseClause(defaultField string) (Node, error) {
	field := defaultField
	if name, ok := s.fieldName(); ok {
		field = name
	}
	if s.eof() {
		return nil, s.errorf("missing value for field %q", field)
	}
	var node Node
	var err error
	switch s.peek() {
	case '(':
		s.pos++
		node, err = s.parseGroup(field, true)
		if err == nil && node == nil {
			err = s.errorf("empty group")
		}
	case '[', '{':
		node, err = s.parseRange(field)
	case '"':
		node, err = s.parsePhrase(field)
	default:
		node, err = s.parseTerm(field)
	}
	if err != nil {
		return nil, err
	}
	return s.parseModifiers(node)
}

func (s *parseState) fieldName() (string, bool) {
	start := s.pos
	i := start
	for i < len(s.src) && isFieldRune(s.src[i]) {
		i++
	}
	if i == start || i == len(s.src) || s.src[i] != ':' {
		return "", false
	}
	s.pos = i + 1
	return string(s.src[start:i]), true
}

func isFieldRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '#' || r == '$'
}

func (s *parseState) parseTerm(field string) (Node, error) {
	start := s.pos
	raw := s.readWord(func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(`()"^~`, r)
	})
	if raw == "" {
		s.pos = start
		return nil, s.errorf("expected a value for field %q", field)
	}
	kind := s.schema.Kind(field)
	if kind == value.KindString {
		return &SimpleTerm{Field: field, Value: value.String(decodeEscapes(raw, true))}, nil
	}
	v, err := value.Parse(kind, decodeEscapes(raw, false))
	if err != nil {
		return nil, s.wrapf(start, err, "field %q", field)
	}
	return &SimpleTerm{Field: field, Value: v}, nil
}

func (s *parseState) parsePhrase(field string) (Node, error) {
	start := s.pos
	s.pos++
	var b strings.Builder
	for {
		if s.eof() {
			s.pos = start
			return nil, s.errorf("unterminated phrase")
		}
		r := s.src[s.pos]
		s.pos++
		if r == '"' {
			break
		}
		b.WriteRune(r)
		if r == '\\' && !s.eof() {
			b.WriteRune(s.src[s.pos])
			s.pos++
		}
	}
	literal := decodeEscapes(b.String(), false)
	kind := s.schema.Kind(field)
	if kind == value.KindString {
		return &SimpleTerm{Field: field, Value: value.String(EscapeWildcards(literal))}, nil
	}
	v, err := value.Parse(kind, literal)
	if err != nil {
		return nil, s.wrapf(start, err, "field %q", field)
	}
	return &SimpleTerm{Field: field, Value: v}, nil
}

func (s *parseState) parseRange(field string) (Node, error) {
	start := s.pos
	r := &Range{Field: field, MinInclusive: s.peek() == '['}
	s.pos++
	boundEnd := func(c rune) bool { return unicode.IsSpace(c) || c == ']' || c == '}' }

	s.skipSpace()
	lower := s.readWord(boundEnd)
	s.skipSpace()
	if !s.keyword("TO") {
		return nil, s.errorf("expected TO in range")
	}
	s.skipSpace()
	upper := s.readWord(boundEnd)
	s.skipSpace()
	if s.eof() || (s.peek() != ']' && s.peek() != '}') {
		s.pos = start
		return nil, s.errorf("unterminated range")
	}
	r.MaxInclusive = s.peek() == ']'
	s.pos++
	if lower == "" || upper == "" {
		return nil, s.errorf("range bound missing")
	}

	kind := s.schema.Kind(field)
	var err error
	if r.Min, err = parseBound(kind, lower); err != nil {
		return nil, s.wrapf(start, err, "lower bound of %q", field)
	}
	if r.Max, err = parseBound(kind, upper); err != nil {
		return nil, s.wrapf(start, err, "upper bound of %q", field)
	}
	return r, nil
}

func parseBound(kind value.Kind, raw string) (*value.Value, error) {
	if raw == "*" {
		return nil, nil
	}
	v, err := value.Parse(kind, decodeEscapes(raw, false))
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *parseState) parseModifiers(n Node) (Node, error) {
	for !s.eof() {
		switch s.peek() {
		case '~':
			s.pos++
			t, ok := n.(*SimpleTerm)
			if !ok {
				return nil, s.errorf("~ applies to terms only")
			}
			f := float64(defaultFuzzy)
			if num := s.readNumber(); num != "" {
				parsed, err := strconv.ParseFloat(num, 64)
				if err != nil || parsed < 0 {
					return nil, s.errorf("bad fuzzy value %q", num)
				}
				f = parsed
			}
			t.Fuzzy = &f
		case '^':
			s.pos++
			num := s.readNumber()
			b, err := strconv.ParseFloat(num, 64)
			if err != nil || b < 0 {
				return nil, s.errorf("bad boost %q", num)
			}
			switch t := n.(type) {
			case *SimpleTerm:
				t.Boost = &b
			case *Range:
				t.Boost = &b
			case *Logical:
				t.Boost = &b
			}
		default:
			return n, nil
		}
	}
	return n, nil
}

func (s *parseState) readWord(stop func(rune) bool) string {
	var b strings.Builder
	for !s.eof() {
		r := s.src[s.pos]
		if r == '\\' && s.pos+1 < len(s.src) {
			b.WriteRune(r)
			b.WriteRune(s.src[s.pos+1])
			s.pos += 2
			continue
		}
		if stop(r) {
			break
		}
		b.WriteRune(r)
		s.pos++
	}
	return b.String()
}

func (s *parseState) readNumber() string {
	start := s.pos
	for !s.eof() && (unicode.IsDigit(s.peek()) || s.peek() == '.') {
		s.pos++
	}
	return string(s.src[start:s.pos])
}

// keyword consumes word when it stands alone at the current position.
func (s *parseState) keyword(word string) bool {
	end := s.pos + len(word)
	if end > len(s.src) || string(s.src[s.pos:end]) != word {
		return false
	}
	if end < len(s.src) && !unicode.IsSpace(s.src[end]) && s.src[end] != '(' {
		return false
	}
	s.pos = end
	return true
}

func (s *parseState) symbol(sym string) bool {
	end := s.pos + len(sym)
	if end > len(s.src) || string(s.src[s.pos:end]) != sym {
		return false
	}
	s.pos = end
	return true
}

func (s *parseState) skipSpace() {
	for !s.eof() && unicode.IsSpace(s.src[s.pos]) {
		s.pos++
	}
}

func (s *parseState) eof() bool { return s.pos >= len(s.src) }

func (s *parseState) peek() rune { return s.src[s.pos] }

func (s *parseState) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: s.pos, Msg: fmt.Sprintf(format, args...)}
}

func (s *parseState) wrapf(offset int, err error, format string, args ...any) error {
	return &SyntaxError{Offset: offset, Msg: fmt.Sprintf(format, args...) + ": " + err.Error()}
}
