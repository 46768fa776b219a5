package terminology

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/db"
	"github.com/swasthyasetu/termbridge/internal/platform/textnorm"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PGStore is the PostgreSQL Store. Catalog rows and mapping revisions are
// append-only; mapping_head carries the compare-and-swap pointer.
type PGStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGStore creates a PostgreSQL-backed Store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, now: time.Now}
}

func (s *PGStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// isUniqueViolation reports a 23505 from Postgres.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const entryCols = `system, code, version, display, synonyms, published_at`

func scanEntry(row pgx.Row) (CodeEntry, error) {
	var e CodeEntry
	var system string
	if err := row.Scan(&system, &e.Code, &e.Version, &e.Display, &e.Synonyms, &e.PublishedAt); err != nil {
		return e, err
	}
	e.System = System(system)
	if e.Synonyms == nil {
		e.Synonyms = []string{}
	}
	return e, nil
}

func (s *PGStore) GetCode(ctx context.Context, system System, code, version string) (*CodeEntry, error) {
	row := s.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM code_entry
		 WHERE system = $1 AND upper(code) = upper($2) AND ($3 = '' OR version = $3)
		 ORDER BY seq DESC LIMIT 1`, string(system), strings.TrimSpace(code), version)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		key := code
		if version != "" {
			key += "@" + version
		}
		return nil, apperr.NotFound(string(system)+" code", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	return &e, nil
}

func (s *PGStore) queryEntries(ctx context.Context, sql string, args ...interface{}) ([]CodeEntry, error) {
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CodeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) SearchCodes(ctx context.Context, system System, query string, limit int) ([]CodeEntry, error) {
	q, err := newSearchQuery(query)
	if err != nil {
		return nil, err
	}
	limit = searchLimit(limit)
	candidates, err := s.queryEntries(ctx,
		`SELECT `+entryCols+` FROM code_latest
		 WHERE system = $1
		   AND (upper(code) = upper($2)
		        OR strpos(display_fold, $3) > 0
		        OR EXISTS (SELECT 1 FROM unnest(synonyms_fold) sf WHERE strpos(sf, $3) > 0))
		 ORDER BY CASE
		            WHEN upper(code) = upper($2) THEN 0
		            WHEN left(display_fold, length($3)) = $3 THEN 1
		            ELSE 2
		          END,
		          code COLLATE "C"
		 LIMIT $4`, string(system), q.raw, q.folded, limit)
	if err != nil {
		return nil, fmt.Errorf("search codes: %w", err)
	}
	return rankSearch(candidates, q, limit), nil
}

func (s *PGStore) PublishCodes(ctx context.Context, entries []CodeEntry) error {
	prepared, err := prepareEntries(entries, s.now().UTC())
	if err != nil {
		return err
	}

	entryRows := make([][]interface{}, 0, len(prepared))
	var termRows [][]interface{}
	for _, e := range prepared {
		folded := make([]string, len(e.Synonyms))
		for i, syn := range e.Synonyms {
			folded[i] = textnorm.Fold(syn)
		}
		entryRows = append(entryRows, []interface{}{
			string(e.System), e.Code, e.Version, e.Display, e.Synonyms,
			textnorm.Fold(e.Display), folded, e.PublishedAt,
		})
		seen := make(map[string]struct{})
		for _, p := range indexEntry(e).phrases {
			k := p.norm + "|" + p.field
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			termRows = append(termRows, []interface{}{string(e.System), e.Code, e.Version, p.norm, p.field, p.text})
		}
	}

	err = db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		c := s.conn(ctx)
		if _, err := c.CopyFrom(ctx, pgx.Identifier{"code_entry"},
			[]string{"system", "code", "version", "display", "synonyms", "display_fold", "synonyms_fold", "published_at"},
			pgx.CopyFromRows(entryRows)); err != nil {
			return err
		}
		if len(termRows) == 0 {
			return nil
		}
		_, err := c.CopyFrom(ctx, pgx.Identifier{"code_term"},
			[]string{"system", "code", "version", "term", "field", "text"},
			pgx.CopyFromRows(termRows))
		return err
	})
	if isUniqueViolation(err) {
		return apperr.Conflict("one or more codes are already published at this version")
	}
	if err != nil {
		return fmt.Errorf("publish codes: %w", err)
	}
	return nil
}

func (s *PGStore) ListCodes(ctx context.Context, system System) ([]CodeEntry, error) {
	out, err := s.queryEntries(ctx,
		`SELECT `+entryCols+` FROM code_latest WHERE system = $1 ORDER BY code COLLATE "C"`, string(system))
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	return out, nil
}

func (s *PGStore) MatchTerms(ctx context.Context, system System, terms []string) (map[string][]TermHit, error) {
	norm := normalizeTerms(terms)
	out := make(map[string][]TermHit)
	if len(norm) == 0 {
		return out, nil
	}

	rows, err := s.conn(ctx).Query(ctx,
		`SELECT l.system, l.code, l.version, l.display, l.synonyms, l.published_at, t.term, t.field, t.text
		 FROM code_term t
		 JOIN code_latest l ON l.system = t.system AND l.code = t.code AND l.version = t.version
		 WHERE t.system = $1
		   AND (t.term = ANY($2::text[]) OR string_to_array(t.term, ' ') && $2::text[])`,
		string(system), norm)
	if err != nil {
		return nil, fmt.Errorf("match terms: %w", err)
	}
	defer rows.Close()

	byCode := make(map[string]*termIndex)
	var order []string
	for rows.Next() {
		var e CodeEntry
		var sys, term, field, text string
		if err := rows.Scan(&sys, &e.Code, &e.Version, &e.Display, &e.Synonyms, &e.PublishedAt, &term, &field, &text); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		e.System = System(sys)
		idx, ok := byCode[e.Code]
		if !ok {
			idx = &termIndex{entry: e}
			byCode[e.Code] = idx
			order = append(order, e.Code)
		}
		toks := make(map[string]struct{})
		for _, t := range strings.Fields(term) {
			toks[t] = struct{}{}
		}
		idx.phrases = append(idx.phrases, indexedPhrase{field: field, text: text, norm: term, tokens: toks})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate terms: %w", err)
	}

	sort.Strings(order)
	for _, term := range norm {
		var hits []TermHit
		for _, code := range order {
			if h, ok := byCode[code].match(term); ok {
				hits = append(hits, h)
			}
		}
		if len(hits) > 0 {
			out[term] = hits
		}
	}
	return out, nil
}

const mappingCols = `r.id, r.revision, r.namaste_code, r.icd_code, r.target_system, r.confidence,
	r.explanation, r.status, r.source, r.approved_by, r.approved_date, r.reason,
	r.superseded_by, r.version, r.recorded_at, r.recorded_by`

func scanMapping(row pgx.Row) (MappingRecord, error) {
	var m MappingRecord
	var target, status, source string
	var approvedBy, reason, supersededBy *string
	err := row.Scan(&m.ID, &m.Revision, &m.NamasteCode, &m.ICDCode, &target, &m.Confidence,
		&m.Explanation, &status, &source, &approvedBy, &m.ApprovedDate, &reason,
		&supersededBy, &m.Version, &m.RecordedAt, &m.RecordedBy)
	if err != nil {
		return m, err
	}
	m.TargetSystem = System(target)
	m.Status = MappingStatus(status)
	m.Source = MappingSource(source)
	m.ApprovedBy = deref(approvedBy)
	m.Reason = deref(reason)
	m.SupersededBy = deref(supersededBy)
	return m, nil
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

func (s *PGStore) queryMappings(ctx context.Context, sql string, args ...interface{}) ([]MappingRecord, error) {
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MappingRecord
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const headJoin = `FROM mapping_head h JOIN mapping_record r ON r.id = h.id AND r.revision = h.revision`

const mappingOrder = `ORDER BY h.namaste_code COLLATE "C", h.icd_code COLLATE "C", h.id COLLATE "C"`

func (s *PGStore) GetMapping(ctx context.Context, id string) (*MappingRecord, error) {
	m, err := scanMapping(s.conn(ctx).QueryRow(ctx, `SELECT `+mappingCols+` `+headJoin+` WHERE h.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("mapping", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return &m, nil
}

func (s *PGStore) MappingHistory(ctx context.Context, id string) ([]MappingRecord, error) {
	out, err := s.queryMappings(ctx,
		`SELECT `+mappingCols+` FROM mapping_record r WHERE r.id = $1 ORDER BY r.revision`, id)
	if err != nil {
		return nil, fmt.Errorf("mapping history: %w", err)
	}
	if len(out) == 0 {
		return nil, apperr.NotFound("mapping", id)
	}
	return out, nil
}

func (s *PGStore) MappingsForConcept(ctx context.Context, namasteCode string) ([]MappingRecord, error) {
	out, err := s.queryMappings(ctx,
		`SELECT `+mappingCols+` `+headJoin+` WHERE upper(h.namaste_code) = upper($1) `+mappingOrder, namasteCode)
	if err != nil {
		return nil, fmt.Errorf("mappings for concept: %w", err)
	}
	return out, nil
}

func (s *PGStore) PutMapping(ctx context.Context, rec MappingRecord) (*MappingRecord, error) {
	out, err := s.PutMappings(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (s *PGStore) PutMappings(ctx context.Context, recs ...MappingRecord) ([]MappingRecord, error) {
	if len(recs) == 0 {
		return nil, apperr.Validation("records", "must not be empty")
	}
	now := s.now().UTC()
	out := make([]MappingRecord, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for i := range recs {
		r := recs[i]
		idx := i
		if len(recs) == 1 {
			idx = -1
		}
		if err := validateRecord(idx, &r); err != nil {
			return nil, err
		}
		if _, dup := seen[r.ID]; dup {
			return nil, apperr.Conflict("mapping %s written twice in one batch", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.RecordedAt.IsZero() {
			r.RecordedAt = now
		}
		out[i] = r
	}

	// Leave accepted writes for last so a supersede in the same batch frees
	// the unique slot first.
	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return out[order[a]].Status != StatusAccepted && out[order[b]].Status == StatusAccepted
	})

	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		c := s.conn(ctx)
		for _, i := range order {
			r := &out[i]
			expected := r.Revision
			r.Revision = expected + 1
			if expected == 0 {
				tag, err := c.Exec(ctx,
					`INSERT INTO mapping_head (id, revision, namaste_code, icd_code, target_system, version, status, confidence, source)
					 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
					 ON CONFLICT (id) DO NOTHING`,
					r.ID, r.Revision, r.NamasteCode, r.ICDCode, string(r.TargetSystem), r.Version, string(r.Status), r.Confidence, string(r.Source))
				if err != nil {
					return err
				}
				if tag.RowsAffected() == 0 {
					return apperr.Conflict("mapping %s already exists", r.ID)
				}
			} else {
				tag, err := c.Exec(ctx,
					`UPDATE mapping_head
					 SET revision = $3, namaste_code = $4, icd_code = $5, target_system = $6,
					     version = $7, status = $8, confidence = $9, source = $10
					 WHERE id = $1 AND revision = $2`,
					r.ID, expected, r.Revision, r.NamasteCode, r.ICDCode, string(r.TargetSystem),
					r.Version, string(r.Status), r.Confidence, string(r.Source))
				if err != nil {
					return err
				}
				if tag.RowsAffected() == 0 {
					return apperr.Conflict("mapping %s: revision %d is no longer current", r.ID, expected)
				}
			}
			if _, err := c.Exec(ctx,
				`INSERT INTO mapping_record (id, revision, namaste_code, icd_code, target_system, confidence,
				     explanation, status, source, approved_by, approved_date, reason, superseded_by,
				     version, recorded_at, recorded_by)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
				r.ID, r.Revision, r.NamasteCode, r.ICDCode, string(r.TargetSystem), r.Confidence,
				r.Explanation, string(r.Status), string(r.Source), nullable(r.ApprovedBy), r.ApprovedDate,
				nullable(r.Reason), nullable(r.SupersededBy), r.Version, r.RecordedAt, r.RecordedBy); err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return nil, apperr.Conflict("concurrent write: another accepted mapping or revision exists")
	}
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("put mappings: %w", err)
	}
	return out, nil
}

func (s *PGStore) ListMappingsByStatus(ctx context.Context, status MappingStatus, f MappingFilter) ([]MappingRecord, int, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if status != "" {
		where = append(where, "h.status = "+arg(string(status)))
	}
	if f.NamasteCode != "" {
		where = append(where, "upper(h.namaste_code) = upper("+arg(f.NamasteCode)+")")
	}
	if f.ICDCode != "" {
		where = append(where, "upper(h.icd_code) = upper("+arg(f.ICDCode)+")")
	}
	if f.Version != "" {
		where = append(where, "h.version = "+arg(f.Version))
	}
	if f.MinConfidence != nil {
		where = append(where, "h.confidence >= "+arg(*f.MinConfidence))
	}
	if f.MaxConfidence != nil {
		where = append(where, "h.confidence <= "+arg(*f.MaxConfidence))
	}
	if f.Source != "" {
		where = append(where, "h.source = "+arg(string(f.Source)))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = ` WHERE ` + strings.Join(where, " AND ")
	}
	filterArgs := len(args)

	sql := `SELECT ` + mappingCols + `, COUNT(*) OVER () ` + headJoin + whereSQL + ` ` + mappingOrder
	if f.Limit > 0 {
		sql += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		sql += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var out []MappingRecord
	total := 0
	for rows.Next() {
		m, err := scanMapping(countingRow{rows, &total})
		if err != nil {
			return nil, 0, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate mappings: %w", err)
	}
	if len(out) == 0 && f.Offset > 0 {
		// an empty page carries no window count
		if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) `+headJoin+whereSQL, args[:filterArgs]...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count mappings: %w", err)
		}
	}
	return out, total, nil
}

// countingRow appends the window total to the scan targets.
type countingRow struct {
	pgx.Row
	total *int
}

func (r countingRow) Scan(dest ...interface{}) error {
	return r.Row.Scan(append(dest, r.total)...)
}

func (s *PGStore) MappingStats(ctx context.Context, version string) (*MappingStats, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*),
		        COUNT(*) FILTER (WHERE status IN ('suggested', 'pending', 'under_review') AND confidence < $2)
		 FROM mapping_head
		 WHERE ($1 = '' OR version = $1)
		 GROUP BY status`, version, LowConfidenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("mapping stats: %w", err)
	}
	defer rows.Close()

	st := newMappingStats(version)
	for rows.Next() {
		var status string
		var n, low int
		if err := rows.Scan(&status, &n, &low); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.ByStatus[MappingStatus(status)] = n
		st.Total += n
		st.LowConfidence += low
	}
	return st, rows.Err()
}
