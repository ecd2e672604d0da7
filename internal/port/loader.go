package port

import (
	"context"

	"newsrag/internal/domain"
)

// Loader fetches page text for a list of URLs. Failures are per URL and do
// not abort the batch.
type Loader interface {
	Load(ctx context.Context, urls []string) ([]domain.SourceDocument, []*domain.FetchError)
}
