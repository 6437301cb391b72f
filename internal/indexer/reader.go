package indexer

import (
	"sync"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/engine"
)

// ReaderHandle pins one reader snapshot. Release it with defer right after
// acquisition; the snapshot stays open until every handle is released.
type ReaderHandle struct {
	reader *engine.Reader
	once   sync.Once
}

// AcquireReader takes a reference on r.
func AcquireReader(r *engine.Reader) (*ReaderHandle, error) {
	if err := r.IncRef(); err != nil {
		return nil, err
	}
	return &ReaderHandle{reader: r}, nil
}

func (h *ReaderHandle) Reader() *engine.Reader { return h.reader }

// Release drops the reference. Only the first call has an effect.
func (h *ReaderHandle) Release() {
	h.once.Do(func() {
		h.reader.DecRef()
	})
}
