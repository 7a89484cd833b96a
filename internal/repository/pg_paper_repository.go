package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/paperstack/analysis-service/internal/domain"
)

// Compile-time interface verification.
var _ PaperRepository = (*PgPaperRepository)(nil)

// PgPaperRepository is a PostgreSQL implementation of PaperRepository.
type PgPaperRepository struct {
	db DBTX
}

// NewPgPaperRepository creates a new PostgreSQL paper repository.
func NewPgPaperRepository(db DBTX) *PgPaperRepository {
	return &PgPaperRepository{db: db}
}

// SelectUnanalyzed returns up to limit papers without an analysis result,
// newest publication first. Papers without a publication date sort last.
func (r *PgPaperRepository) SelectUnanalyzed(ctx context.Context, limit int) ([]*domain.Paper, error) {
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", "must be positive")
	}

	query := `
		SELECT id, title, published_at, analyzed_at
		FROM papers
		WHERE analyzed_at IS NULL
		ORDER BY published_at DESC NULLS LAST, id
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select unanalyzed papers: %w", err)
	}
	defer rows.Close()

	papers := make([]*domain.Paper, 0, limit)
	for rows.Next() {
		var paper domain.Paper
		if err := rows.Scan(&paper.ID, &paper.Title, &paper.PublishedAt, &paper.AnalyzedAt); err != nil {
			return nil, fmt.Errorf("failed to scan paper: %w", err)
		}
		papers = append(papers, &paper)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating papers: %w", err)
	}

	return papers, nil
}

// CountTotal returns the total number of papers in the catalog.
func (r *PgPaperRepository) CountTotal(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM papers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count papers: %w", err)
	}
	return count, nil
}

// CountAnalyzed returns the number of papers with an analysis result.
func (r *PgPaperRepository) CountAnalyzed(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM papers WHERE analyzed_at IS NOT NULL`
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count analyzed papers: %w", err)
	}
	return count, nil
}

// LookupTitles resolves paper ids to titles in one query.
func (r *PgPaperRepository) LookupTitles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	titles := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return titles, nil
	}

	query := `SELECT id, title FROM papers WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to look up paper titles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    uuid.UUID
			title string
		)
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("failed to scan paper title: %w", err)
		}
		titles[id] = title
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating paper titles: %w", err)
	}

	return titles, nil
}
