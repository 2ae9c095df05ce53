package infer

import (
	"context"

	"github.com/perchlabs/birdsense/pkg/storage"
)

// NewStoreSource adapts a [storage.Store] into an AssetSource, so the
// unit can pull model files from local disk or an object store.
func NewStoreSource(s storage.Store) AssetSource {
	return AssetFunc(func(ctx context.Context, name string) ([]byte, error) {
		return storage.ReadAll(ctx, s, name)
	})
}
