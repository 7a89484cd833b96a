package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/paperstack/analysis-service/internal/domain"
)

// PaperRepository provides read-only access to the papers catalog. Papers
// are owned by the ingestion pipeline; this service only selects work from
// them and reports coverage.
type PaperRepository interface {
	// SelectUnanalyzed returns up to limit papers without an analysis
	// result, newest publication first.
	SelectUnanalyzed(ctx context.Context, limit int) ([]*domain.Paper, error)

	// CountTotal returns the total number of papers in the catalog.
	CountTotal(ctx context.Context) (int64, error)

	// CountAnalyzed returns the number of papers with an analysis result.
	CountAnalyzed(ctx context.Context) (int64, error)

	// LookupTitles resolves paper ids to titles in one query. Unknown ids
	// are absent from the result map.
	LookupTitles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}
