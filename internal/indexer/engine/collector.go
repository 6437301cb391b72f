package engine

import "container/heap"

// Collector receives every match of a search. SetReader is called once before
// the first Collect.
type Collector interface {
	SetReader(r *Reader) error
	Collect(doc int, score float64) error
}

type ScoreDoc struct {
	Doc   int     `json:"doc"`
	Score float64 `json:"score"`
}

type TopDocs struct {
	TotalHits int        `json:"totalHits"`
	ScoreDocs []ScoreDoc `json:"scoreDocs"`
}

// TopDocsCollector keeps the n best-scoring documents. Ties go to the lower
// doc number.
type TopDocsCollector struct {
	n     int
	total int
	h     scoreDocHeap
}

func NewTopDocsCollector(n int) *TopDocsCollector {
	if n <= 0 {
		n = 10
	}
	return &TopDocsCollector{n: n}
}

func (c *TopDocsCollector) SetReader(*Reader) error { return nil }

func (c *TopDocsCollector) Collect(doc int, score float64) error {
	c.total++
	heap.Push(&c.h, ScoreDoc{Doc: doc, Score: score})
	if c.h.Len() > c.n {
		heap.Pop(&c.h)
	}
	return nil
}

// TotalHits counts every collected document, not only the kept ones.
func (c *TopDocsCollector) TotalHits() int { return c.total }

// TopDocs drains the collector, best first.
func (c *TopDocsCollector) TopDocs() TopDocs {
	result := make([]ScoreDoc, c.h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&c.h).(ScoreDoc)
	}
	return TopDocs{TotalHits: c.total, ScoreDocs: result}
}

type scoreDocHeap []ScoreDoc

func (h scoreDocHeap) Len() int { return len(h) }

func (h scoreDocHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Doc > h[j].Doc
}

func (h scoreDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoreDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ScoreDoc))
}

func (h *scoreDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// CollectorFunc adapts a function to Collector.
type CollectorFunc func(doc int, score float64) error

func (f CollectorFunc) SetReader(*Reader) error { return nil }

func (f CollectorFunc) Collect(doc int, score float64) error { return f(doc, score) }
