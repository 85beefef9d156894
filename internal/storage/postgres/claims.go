package postgres

import (
	"context"
	"fmt"
)

const admitSQL = `INSERT INTO crawl_claims (crawl_id, url) VALUES ($1, $2) ON CONFLICT DO NOTHING`

// Admit inserts the claim row. The primary key lets exactly one insert through.
func (s *Store) Admit(ctx context.Context, crawlID, url string) (bool, error) {
	tag, err := s.pool.Exec(ctx, admitSQL, crawlID, url)
	if err != nil {
		return false, fmt.Errorf("admit %s: %w", crawlID, err)
	}
	return tag.RowsAffected() == 1, nil
}
