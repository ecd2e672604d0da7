package port

import "newsrag/internal/domain"

type Chunker interface {
	Chunk(doc domain.SourceDocument) []domain.Chunk
}
