package roster

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"followup-caller/internal/apperr"
	"followup-caller/pkg/utils"

	"github.com/google/uuid"
)

// PostgresRepo stores shift records in the shift_records table.
// The follow-up status lives in a jsonb column so single slots can be patched in place.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const recordColumns = `
id, name, phone, phone_valid, shift_name, shift_timings, shift_date,
dress_code, work_description, batch_tag, followup, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (ShiftRecord, error) {
	var (
		r        ShiftRecord
		followup []byte
	)
	if err := s.Scan(
		&r.ID,
		&r.Name,
		&r.Phone,
		&r.PhoneValid,
		&r.ShiftName,
		&r.ShiftTimings,
		&r.ShiftDate,
		&r.DressCode,
		&r.WorkDescription,
		&r.BatchTag,
		&followup,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return ShiftRecord{}, err
	}
	if len(followup) > 0 {
		if err := json.Unmarshal(followup, &r.Followup); err != nil {
			return ShiftRecord{}, apperr.Internal("decode followup status", err)
		}
	}
	return r, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, rec ShiftRecord) (string, error) {
	out, err := r.InsertBatch(ctx, []ShiftRecord{rec})
	if err != nil {
		return "", err
	}
	return out[0].ID, nil
}

func (r *PostgresRepo) InsertBatch(ctx context.Context, rs []ShiftRecord) ([]ShiftRecord, error) {
	const q = `
INSERT INTO shift_records (` + recordColumns + `
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
`
	now := r.clock().UTC()
	out := make([]ShiftRecord, 0, len(rs))
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, rec := range rs {
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			rec.CreatedAt, rec.UpdatedAt = now, now
			followup, err := json.Marshal(rec.Followup)
			if err != nil {
				return apperr.Internal("encode followup status", err)
			}
			if _, err := tx.ExecContext(ctx, q,
				rec.ID,
				rec.Name,
				rec.Phone,
				rec.PhoneValid,
				rec.ShiftName,
				rec.ShiftTimings,
				rec.ShiftDate,
				rec.DressCode,
				rec.WorkDescription,
				rec.BatchTag,
				followup,
				rec.CreatedAt,
				rec.UpdatedAt,
			); err != nil {
				if utils.IsUniqueViolation(err, "") {
					return apperr.Conflict("shift record already exists")
				}
				return apperr.TransientIO("insert shift record", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (ShiftRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM shift_records WHERE id = $1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ShiftRecord{}, apperr.NotFound("shift record not found")
		}
		return ShiftRecord{}, apperr.TransientIO("load shift record", err)
	}
	return rec, nil
}

func (r *PostgresRepo) FindByBatch(ctx context.Context, batchTag string, limit, offset int) ([]ShiftRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + recordColumns + `
FROM shift_records
WHERE ($1 = '' OR batch_tag = $1)
ORDER BY created_at, id
LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, q, batchTag, limit, offset)
	if err != nil {
		return nil, apperr.TransientIO("list shift records", err)
	}
	defer rows.Close()

	out := make([]ShiftRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperr.TransientIO("scan shift record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.TransientIO("list shift records", err)
	}
	return out, nil
}

func (r *PostgresRepo) SetFollowup(ctx context.Context, id string, field FollowupField, value string) error {
	if !field.Valid() {
		return apperr.Validation("unknown follow-up field")
	}
	// jsonb_set patches one key, so concurrent writers of different slots never clobber each other.
	const q = `
UPDATE shift_records
SET followup = jsonb_set(followup, ARRAY[$2::text], to_jsonb($3::text), true),
    updated_at = $4
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, string(field), value, r.clock().UTC())
	if err != nil {
		return apperr.TransientIO("update followup status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.TransientIO("update followup status", err)
	}
	if n == 0 {
		return apperr.NotFound("shift record not found")
	}
	return nil
}
