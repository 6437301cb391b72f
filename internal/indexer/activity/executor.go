package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/fields"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/value"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
)

// Index is the part of the index manager the queue drives.
type Index interface {
	Write(deletions []engine.Term, updates []engine.Update, additions []*engine.Document) error
	Commit(reopen bool, status *Status) error
	ReadActivityStatus() (Status, error)
}

// Executor applies a single activity.
type Executor interface {
	Execute(ctx context.Context, a *Activity) error
}

// IndexExecutor turns activities into index writes. Documents the activity
// does not carry are fetched from the provider.
type IndexExecutor struct {
	index    Index
	provider DocumentProvider
	logger   *slog.Logger
}

func NewIndexExecutor(index Index, provider DocumentProvider) *IndexExecutor {
	return &IndexExecutor{
		index:    index,
		provider: provider,
		logger:   slog.Default().With("component", "activity-executor"),
	}
}

func (x *IndexExecutor) Execute(ctx context.Context, a *Activity) error {
	err := x.execute(ctx, a)
	if err != nil && errors.Is(err, apperrors.ErrDocumentBuild) {
		x.logger.Error("document could not be built", "activity", a.ID, "type", a.Type, "path", a.Path, "error", err)
	}
	return err
}

func (x *IndexExecutor) execute(ctx context.Context, a *Activity) error {
	switch a.Type {
	case AddDocument:
		doc, err := x.document(ctx, a)
		if err != nil {
			return err
		}
		return x.index.Write(nil, nil, []*engine.Document{doc})

	case UpdateDocument:
		doc, err := x.document(ctx, a)
		if err != nil {
			return err
		}
		return x.index.Write(nil, []engine.Update{{Term: versionTerm(a.VersionID), Document: doc}}, nil)

	case AddTree:
		docs, err := x.treeDocuments(ctx, a.Path)
		if err != nil {
			return err
		}
		return x.index.Write(nil, nil, docs)

	case RemoveTree:
		return x.index.Write([]engine.Term{treeTerm(a.Path)}, nil, nil)

	case Rebuild:
		if x.provider == nil {
			return fmt.Errorf("%w: no document provider for node %d", apperrors.ErrDocumentBuild, a.NodeID)
		}
		docs, err := x.provider.NodeDocuments(ctx, a.NodeID)
		if err != nil {
			return fmt.Errorf("loading documents of node %d: %w", a.NodeID, err)
		}
		return x.index.Write([]engine.Term{nodeTerm(a.NodeID)}, nil, docs)

	case Restore:
		docs, err := x.treeDocuments(ctx, a.Path)
		if err != nil {
			return err
		}
		return x.index.Write([]engine.Term{treeTerm(a.Path)}, nil, docs)
	}
	return fmt.Errorf("executing %s: unknown activity type", a)
}

func (x *IndexExecutor) document(ctx context.Context, a *Activity) (*engine.Document, error) {
	if a.Document != nil {
		return a.Document, nil
	}
	if x.provider == nil {
		return nil, fmt.Errorf("%w: activity %d carries no document", apperrors.ErrDocumentBuild, a.ID)
	}
	doc, err := x.provider.Document(ctx, a.VersionID)
	if err != nil {
		return nil, fmt.Errorf("loading document of version %d: %w", a.VersionID, err)
	}
	return doc, nil
}

func (x *IndexExecutor) treeDocuments(ctx context.Context, path string) ([]*engine.Document, error) {
	if x.provider == nil {
		return nil, fmt.Errorf("%w: no document provider for tree %s", apperrors.ErrDocumentBuild, path)
	}
	docs, err := x.provider.TreeDocuments(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("loading documents under %s: %w", path, err)
	}
	return docs, nil
}

func versionTerm(id int64) engine.Term { return engine.ValueTerm(fields.VersionID, value.Long(id)) }

func nodeTerm(id int64) engine.Term { return engine.ValueTerm(fields.NodeID, value.Long(id)) }

func treeTerm(path string) engine.Term { return engine.NewTerm(fields.InTree, fields.TreeTerm(path)) }
