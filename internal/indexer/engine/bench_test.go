package engine

import (
	"fmt"
	"strings"
	"testing"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Quarterly reports are filed under the finance folder and published once
        the controller approves them. Drafts stay private to their authors, older
        versions remain visible to readers allowed to browse the history, and every
        published version replaces the previous one in search results.`,
	"long": strings.Repeat(`A content repository keeps every saved version of a document. The search
        index holds one entry per version with flags telling which version is the
        latest public one and which is the latest draft. Readers are reopened after
        each commit so new versions become visible, while a background task forces
        a reopen when another process has changed the index. `, 20),
}

var benchTerms = []string{"report", "finance", "draft", "version", "author", "folder", "history", "publish"}

func benchCorpus(b *testing.B, n int) *Writer {
	b.Helper()
	_, w := newTestWriter(b, ModeCreate)
	for i := 0; i < n; i++ {
		body := fmt.Sprintf("this %s covers %s %s in the %s",
			benchTerms[i%len(benchTerms)], benchTerms[(i+2)%len(benchTerms)],
			benchTerms[(i+3)%len(benchTerms)], benchTerms[(i+5)%len(benchTerms)])
		if err := w.AddDocument(testDoc(int64(i), fmt.Sprintf("doc-%d", i), body)); err != nil {
			b.Fatal(err)
		}
	}
	return w
}

func BenchmarkStandardAnalyzer(b *testing.B) {
	var a StandardAnalyzer
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = a.Analyze("Body", text)
			}
		})
	}
}

// BenchmarkAddDocument measures buffered add throughput at various corpus
// sizes.
func BenchmarkAddDocument(b *testing.B) {
	for _, preload := range []int{100, 1000, 5000} {
		b.Run(fmt.Sprintf("preload_%d", preload), func(b *testing.B) {
			w := benchCorpus(b, preload)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				doc := testDoc(int64(preload+i), "bench", "benchmark document body for measuring indexing throughput")
				if err := w.AddDocument(doc); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSearch(b *testing.B) {
	w := benchCorpus(b, 10000)
	r := openReader(b, w)
	queries := map[string]Query{
		"term":   &TermQuery{Term: NewTerm("Body", "report")},
		"prefix": &PrefixQuery{Prefix: NewTerm("Name", "doc-99")},
		"phrase": &PhraseQuery{Field: "Body", Terms: []string{"finance", "draft"}, Slop: 1},
		"boolean": &BooleanQuery{Clauses: []BooleanClause{
			{Query: &TermQuery{Term: NewTerm("Body", "report")}, Occur: Must},
			{Query: &TermQuery{Term: NewTerm("Body", "author")}, Occur: MustNot},
		}},
	}
	for name, q := range queries {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := r.Search(q, NewTopDocsCollector(10)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSearchParallel(b *testing.B) {
	w := benchCorpus(b, 10000)
	r := openReader(b, w)
	q := &TermQuery{Term: NewTerm("Body", "finance")}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := r.Search(q, NewTopDocsCollector(10)); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
