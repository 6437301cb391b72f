package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/fields"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/compiler"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/permission"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/tracing"
)

var testResolver = permission.StaticResolver{
	Default: permission.Access{Level: permission.Denied},
	Users: map[string]permission.Access{
		"editor": {Level: permission.OpenMinor},
		"reader": {Level: permission.Open},
		"viewer": {Level: permission.See},
	},
}

func newIndex(t testing.TB, docs ...*engine.Document) *indexer.Manager {
	t.Helper()
	m, err := indexer.NewManager(indexer.Options{Config: config.IndexConfig{
		DataDir:          t.TempDir(),
		LockWaitTimeout:  time.Second,
		LockPollInterval: 10 * time.Millisecond,
		ReopenRetries:    2,
		ReopenRetryDelay: time.Millisecond,
	}})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	require.NoError(t, m.Write(nil, nil, docs))
	require.NoError(t, m.Commit(true, nil))
	return m
}

type docSpec struct {
	version, node int64
	name, text    string
	public, draft bool
}

func contentDoc(s docSpec) *engine.Document {
	d := engine.NewDocument(
		engine.NewField(fields.VersionID, engine.IndexNotAnalyzed, true, value.Long(s.version)),
		engine.NewField(fields.NodeID, engine.IndexNotAnalyzed, true, value.Long(s.node)),
		engine.NewField(fields.Path, engine.IndexNotAnalyzed, true, value.String(fmt.Sprintf("/Root/Docs/%s", s.name))),
		engine.NewField(fields.Name, engine.IndexNotAnalyzed, true, value.String(s.name)),
		engine.NewField("Status", engine.IndexNotAnalyzed, true, value.String("Draft")),
		engine.NewField(fields.IsLastPublic, engine.IndexNotAnalyzed, true, value.Bool(s.public)),
		engine.NewField(fields.IsLastDraft, engine.IndexNotAnalyzed, true, value.Bool(s.draft)),
	)
	if s.text != "" {
		d.Add(engine.NewField(fields.AllText, engine.IndexAnalyzed, false, value.String(s.text)))
	}
	return d
}

func TestDraftVisibleOnlyWithOpenMinor(t *testing.T) {
	m := newIndex(t, contentDoc(docSpec{version: 10, node: 5, name: "Report", draft: true}))
	e := New(m, Options{Resolver: testResolver})

	res, err := e.Execute(context.Background(), Request{Query: "Name:Report", User: "editor", Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, int64(10), res.Results[0].VersionID)
	assert.Equal(t, int64(5), res.Results[0].NodeID)
	assert.Equal(t, "Report", res.Results[0].Name)
	assert.Equal(t, "/Root/Docs/Report", res.Results[0].Path)
	assert.Equal(t, "Name:Report", res.Compiled)

	res, err = e.Execute(context.Background(), Request{Query: "Name:Report", User: "viewer", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Equal(t, 0, res.TotalHits)
}

func TestFullTextNeedsOpen(t *testing.T) {
	m := newIndex(t, contentDoc(docSpec{version: 1, node: 1, name: "Q3", text: "Quarterly financial reports", public: true}))
	e := New(m, Options{Resolver: testResolver})

	res, err := e.Execute(context.Background(), Request{Query: "financial report", User: "reader", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)
	assert.Equal(t, "+_Text:financial +_Text:report", res.Compiled)

	res, err = e.Execute(context.Background(), Request{Query: "financial", User: "viewer", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Results)

	res, err = e.Execute(context.Background(), Request{Query: "NodeId:1", User: "viewer", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)
}

func TestPagination(t *testing.T) {
	var docs []*engine.Document
	for i := int64(1); i <= 5; i++ {
		docs = append(docs, contentDoc(docSpec{version: i, node: i, name: fmt.Sprintf("Doc%d", i), public: true}))
	}
	e := New(newIndex(t, docs...), Options{Resolver: testResolver})

	res, err := e.Execute(context.Background(), Request{Query: "Name:Doc*", User: "reader", Offset: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalHits)
	require.Len(t, res.Results, 2)

	res, err = e.Execute(context.Background(), Request{Query: "Name:Doc*", User: "reader", Offset: 4, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)

	res, err = e.Execute(context.Background(), Request{Query: "VersionId:[2 TO 4]", User: "reader", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Results, 3)
}

func TestStopWordsOnlyReturnsEmptyResult(t *testing.T) {
	e := New(newIndex(t, contentDoc(docSpec{version: 1, node: 1, name: "A", public: true})), Options{Resolver: testResolver})
	res, err := e.Execute(context.Background(), Request{Query: "the", User: "reader", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Empty(t, res.Compiled)
}

func TestFieldAliases(t *testing.T) {
	m := newIndex(t, contentDoc(docSpec{version: 1, node: 1, name: "Report", public: true}))
	e := New(m, Options{Resolver: testResolver, FieldAliases: map[string]string{"title": fields.Name}})
	res, err := e.Execute(context.Background(), Request{Query: "title:Report", User: "reader", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)
}

func TestExecuteErrors(t *testing.T) {
	m := newIndex(t)
	e := New(m, Options{Resolver: testResolver})
	ctx := context.Background()

	_, err := e.Execute(ctx, Request{Query: "Name:(a", Limit: 10})
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)

	_, err = e.Execute(ctx, Request{Query: "VersionId:[* TO *]", Limit: 10})
	assert.ErrorIs(t, err, compiler.ErrCompile)
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)

	_, err = e.Execute(ctx, Request{Query: "a", Limit: 0})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = e.Execute(ctx, Request{Query: "a", Offset: -1, Limit: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	require.NoError(t, m.Shutdown(ctx))
	_, err = e.Execute(ctx, Request{Query: "Name:a", Limit: 10})
	assert.ErrorIs(t, err, apperrors.ErrIndexNotRunning)
}

func TestExecuteRecordsSpans(t *testing.T) {
	m := newIndex(t,
		contentDoc(docSpec{version: 10, node: 5, name: "Report", public: true}),
		contentDoc(docSpec{version: 11, node: 6, name: "Report", draft: true}),
	)
	e := New(m, Options{Resolver: testResolver})

	ctx, root := tracing.StartSpan(context.Background(), "search", "req-1")
	_, err := e.Execute(ctx, Request{Query: "Name:Report", User: "reader", Limit: 10})
	require.NoError(t, err)

	var names []string
	for _, c := range root.Children() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"parse", "compile", "collect"}, names)
	admitted, _ := root.Children()[2].Attr("admitted")
	rejected, _ := root.Children()[2].Attr("rejected")
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, rejected)
}
