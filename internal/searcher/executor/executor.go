// Package executor runs text queries against the current index snapshot:
// parse, compile, prune, then search through the permission filter.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/fields"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/compiler"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/permission"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/predicate"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/tracing"
)

type Request struct {
	Query       string `json:"query"`
	User        string `json:"user"`
	Offset      int    `json:"offset"`
	Limit       int    `json:"limit"`
	AllVersions bool   `json:"allVersions"`
}

type Hit struct {
	VersionID int64   `json:"versionId"`
	NodeID    int64   `json:"nodeId"`
	Path      string  `json:"path,omitempty"`
	Name      string  `json:"name,omitempty"`
	Score     float64 `json:"score"`
}

type SearchResult struct {
	Query     string `json:"query"`
	Compiled  string `json:"compiled,omitempty"`
	TotalHits int    `json:"total_hits"`
	Results   []Hit  `json:"results"`
}

// ReaderSource hands out reader snapshots; *indexer.Manager implements it.
type ReaderSource interface {
	GetReader() (*indexer.ReaderHandle, error)
	Analyzer() engine.Analyzer
}

type Options struct {
	// Schema types query values by field. Nil uses DefaultSchema.
	Schema     predicate.Schema
	Classifier *permission.Classifier
	Resolver   permission.Resolver
	// FieldAliases renames query fields before compilation.
	FieldAliases    map[string]string
	AccessCacheSize int
	Timeout         time.Duration
	Metrics         *metrics.Metrics
}

// DefaultSchema declares the typed fields documents are indexed with.
func DefaultSchema() predicate.Schema {
	return predicate.Schema{
		fields.VersionID:    value.KindLong,
		fields.NodeID:       value.KindLong,
		fields.ParentID:     value.KindLong,
		fields.IsLastPublic: value.KindBool,
		fields.IsLastDraft:  value.KindBool,
	}
}

type Executor struct {
	source     ReaderSource
	parser     *predicate.Parser
	compiler   *compiler.Compiler
	classifier *permission.Classifier
	resolver   permission.Resolver
	opts       Options
	logger     *slog.Logger
}

func New(source ReaderSource, opts Options) *Executor {
	if opts.Schema == nil {
		opts.Schema = DefaultSchema()
	}
	if opts.Classifier == nil {
		opts.Classifier = permission.DefaultClassifier()
	}
	if opts.Resolver == nil {
		opts.Resolver = permission.StaticResolver{}
	}
	return &Executor{
		source:     source,
		parser:     predicate.NewParser(opts.Schema, fields.AllText),
		compiler:   compiler.New(source.Analyzer()),
		classifier: opts.Classifier,
		resolver:   opts.Resolver,
		opts:       opts,
		logger:     slog.Default().With("component", "query-executor"),
	}
}

// Execute runs req and returns the hits in [Offset, Offset+Limit) that the
// user may see. Syntax and compile errors match errors.ErrInvalidQuery.
func (e *Executor) Execute(ctx context.Context, req Request) (*SearchResult, error) {
	start := time.Now()
	if req.Limit <= 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be positive, got %d", req.Limit)
	}
	if req.Offset < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "offset must not be negative, got %d", req.Offset)
	}
	_, span := tracing.StartChildSpan(ctx, "parse")
	pred, err := e.parser.Parse(req.Query)
	span.End()
	if err != nil {
		return nil, err
	}
	pred = compiler.RewriteFieldNames(pred, e.opts.FieldAliases)
	level := e.classifier.QueryLevel(compiler.ExtractFieldNames(pred))

	_, span = tracing.StartChildSpan(ctx, "compile")
	compiled, err := e.compiler.Compile(pred)
	span.SetAttr("field_level", level.String())
	span.End()
	if err != nil {
		return nil, err
	}
	q := compiler.PruneEmptyTerms(compiled)

	result := &SearchResult{Query: req.Query, Results: []Hit{}}
	if q == nil {
		e.logger.Debug("query has no searchable terms", "query", req.Query)
		return result, nil
	}
	result.Compiled = compiler.Render(q)

	var total int
	var hits []Hit
	err = resilience.WithTimeout(ctx, e.opts.Timeout, "search", func(ctx context.Context) error {
		ctx, span := tracing.StartChildSpan(ctx, "collect")
		defer span.End()
		h, err := e.source.GetReader()
		if err != nil {
			return err
		}
		defer h.Release()

		top := engine.NewTopDocsCollector(req.Offset + req.Limit)
		filter := permission.NewCollector(ctx, top, e.resolver, permission.Query{
			User:        req.User,
			FieldLevel:  level,
			AllVersions: req.AllVersions,
		}, e.opts.AccessCacheSize, e.opts.Metrics)
		if err := h.Reader().Search(q, filter); err != nil {
			return fmt.Errorf("searching %q: %w", result.Compiled, err)
		}
		span.SetAttr("admitted", filter.Admitted())
		span.SetAttr("rejected", filter.Rejected())
		docs := top.TopDocs()
		total = docs.TotalHits
		for i := req.Offset; i < len(docs.ScoreDocs); i++ {
			hit, err := buildHit(h.Reader(), docs.ScoreDocs[i])
			if err != nil {
				return err
			}
			hits = append(hits, hit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.TotalHits = total
	if hits != nil {
		result.Results = hits
	}

	e.logger.Info("query executed",
		"query", req.Query,
		"compiled", result.Compiled,
		"field_level", level.String(),
		"total_hits", total,
		"results", len(result.Results),
		"latency", time.Since(start),
	)
	return result, nil
}

func buildHit(r *engine.Reader, sd engine.ScoreDoc) (Hit, error) {
	doc, err := r.Document(sd.Doc)
	if err != nil {
		return Hit{}, fmt.Errorf("loading document %d: %w", sd.Doc, err)
	}
	hit := Hit{Score: sd.Score}
	if v, ok := doc.Value(fields.VersionID); ok {
		hit.VersionID = v.Int
	}
	if v, ok := doc.Value(fields.NodeID); ok {
		hit.NodeID = v.Int
	}
	if v, ok := doc.Value(fields.Path); ok {
		hit.Path = v.String()
	}
	if v, ok := doc.Value(fields.Name); ok {
		hit.Name = v.String()
	}
	return hit, nil
}
