package encounter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/db"
)

const dateLayout = "2006-01-02"

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo creates a PostgreSQL encounter repository.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const encCols = `id, patient_id, provider_id, encounter_date, codes, notes, resource, created_at`

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	date, err := time.Parse(dateLayout, enc.EncounterDate)
	if err != nil {
		return fmt.Errorf("encounter date: %w", err)
	}
	codes, err := json.Marshal(enc.Codes)
	if err != nil {
		return fmt.Errorf("encode codes: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter (`+encCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		enc.ID, enc.PatientID, enc.ProviderID, date, codes, enc.Notes, enc.Resource, enc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Conflict("encounter %s already exists", enc.ID)
		}
		return fmt.Errorf("insert encounter: %w", err)
	}
	return nil
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var enc Encounter
	var date time.Time
	var codes []byte
	if err := row.Scan(&enc.ID, &enc.PatientID, &enc.ProviderID, &date, &codes, &enc.Notes, &enc.Resource, &enc.CreatedAt); err != nil {
		return nil, err
	}
	enc.EncounterDate = date.Format(dateLayout)
	if err := json.Unmarshal(codes, &enc.Codes); err != nil {
		return nil, fmt.Errorf("decode codes: %w", err)
	}
	return &enc, nil
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*Encounter, error) {
	enc, err := scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("encounter", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get encounter: %w", err)
	}
	return enc, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}
	query := `SELECT ` + encCols + ` FROM encounter WHERE patient_id = $1
		ORDER BY encounter_date DESC, created_at DESC, id OFFSET $2`
	args := []interface{}{patientID, offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	defer rows.Close()
	var out []*Encounter
	for rows.Next() {
		enc, err := scanEnc(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, enc)
	}
	return out, total, rows.Err()
}
