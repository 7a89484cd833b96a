package domain

import (
	"time"

	"github.com/google/uuid"
)

// Paper is the external item this service analyzes. The service only reads
// papers; enrichment results are written by the workers, not by this core.
type Paper struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	AnalyzedAt  *time.Time `json:"analyzed_at,omitempty"`
}

// IsAnalyzed reports whether the paper already has an analysis result.
func (p *Paper) IsAnalyzed() bool {
	return p.AnalyzedAt != nil
}
