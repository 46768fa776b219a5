package curation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PGContributions stores contributions in PostgreSQL.
type PGContributions struct {
	pool *pgxpool.Pool
}

// NewPGContributions creates a contribution store on pool.
func NewPGContributions(pool *pgxpool.Pool) *PGContributions {
	return &PGContributions{pool: pool}
}

func (r *PGContributions) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const contributionCols = `id, namaste_code, suggested_icd_code, target_system, contributor_id,
	contributor_org, notes, status, submitted_date, reviewed_by, reviewed_at, review_reason, mapping_id`

func scanContribution(row pgx.Row) (Contribution, error) {
	var c Contribution
	var system, status string
	var org, reviewedBy, reason, mappingID *string
	err := row.Scan(&c.ID, &c.NamasteCode, &c.SuggestedICDCode, &system, &c.ContributorID,
		&org, &c.Notes, &status, &c.SubmittedDate, &reviewedBy, &c.ReviewedAt, &reason, &mappingID)
	if err != nil {
		return c, err
	}
	c.TargetSystem = terminology.System(system)
	c.Status = ContributionStatus(status)
	c.ContributorOrg = deref(org)
	c.ReviewedBy = deref(reviewedBy)
	c.ReviewReason = deref(reason)
	c.MappingID = deref(mappingID)
	return c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PGContributions) CreateContribution(ctx context.Context, c *Contribution) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO contribution (`+contributionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.NamasteCode, c.SuggestedICDCode, string(c.TargetSystem), c.ContributorID,
		nullable(c.ContributorOrg), c.Notes, string(c.Status), c.SubmittedDate,
		nullable(c.ReviewedBy), c.ReviewedAt, nullable(c.ReviewReason), nullable(c.MappingID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Conflict("contribution %s already exists", c.ID)
		}
		return fmt.Errorf("insert contribution: %w", err)
	}
	return nil
}

func (r *PGContributions) GetContribution(ctx context.Context, id string) (*Contribution, error) {
	c, err := scanContribution(r.conn(ctx).QueryRow(ctx,
		`SELECT `+contributionCols+` FROM contribution WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("contribution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get contribution: %w", err)
	}
	return &c, nil
}

func (r *PGContributions) ListContributions(ctx context.Context, status ContributionStatus, limit, offset int) ([]Contribution, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM contribution WHERE ($1 = '' OR status = $1)`, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contributions: %w", err)
	}

	query := `SELECT ` + contributionCols + ` FROM contribution
		WHERE ($1 = '' OR status = $1)
		ORDER BY submitted_date, id COLLATE "C"
		OFFSET $2`
	args := []interface{}{string(status), offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	out := []Contribution{}
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan contribution: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *PGContributions) CompleteReview(ctx context.Context, c *Contribution) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE contribution
		SET status = $2, reviewed_by = $3, reviewed_at = $4, review_reason = $5, mapping_id = $6
		WHERE id = $1 AND status = 'pending'`,
		c.ID, string(c.Status), nullable(c.ReviewedBy), c.ReviewedAt, nullable(c.ReviewReason), nullable(c.MappingID))
	if err != nil {
		return fmt.Errorf("review contribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetContribution(ctx, c.ID); err != nil {
			return err
		}
		return apperr.Conflict("contribution %s was already reviewed", c.ID)
	}
	return nil
}
