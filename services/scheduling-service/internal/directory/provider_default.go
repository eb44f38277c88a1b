//go:build !protogen

package directory

import (
	"log/slog"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/storage"
)

func NewDirectoryProvider(_ *slog.Logger, store storage.Store, _ string) (Provider, error) {
	return NewStoreProvider(store), nil
}
