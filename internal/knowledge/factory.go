package knowledge

import (
	"fmt"

	"github.com/fyrsmithlabs/triaged/internal/config"
	"go.uber.org/zap"
)

// New creates a Store from configuration.
//
// The factory examines VectorStore.Provider and constructs the
// matching implementation:
//   - "memory" (default): in-process ephemeral index, no external deps
//   - "qdrant": networked Qdrant server over gRPC
//
// Callers hold the returned Store for the process lifetime and Close
// it on shutdown; nothing downstream branches on the backend again.
func New(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.VectorStore.Provider {
	case "memory", "":
		return NewMemoryStore(MemoryConfig{
			Collection: cfg.VectorStore.Collection,
			VectorSize: cfg.VectorStore.VectorSize,
		}, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:         cfg.VectorStore.Qdrant.Host,
			Port:         cfg.VectorStore.Qdrant.Port,
			Collection:   cfg.VectorStore.Collection,
			VectorSize:   cfg.VectorStore.VectorSize,
			UseTLS:       cfg.VectorStore.Qdrant.UseTLS,
			MaxRetries:   cfg.VectorStore.Qdrant.MaxRetries,
			RetryBackoff: cfg.VectorStore.Qdrant.RetryBackoff.Duration(),
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: memory, qdrant)",
			ErrInvalidConfig, cfg.VectorStore.Provider)
	}
}
