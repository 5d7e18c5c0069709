package journey

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/mevguard/internal/threat"
)

// PostgresStore persists journeys in PostgreSQL. The schema lives in
// migrations/ and is applied by cmd/migrate.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed journey store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, j *Journey) error {
	historyJSON, err := json.Marshal(j.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	var level sql.NullString
	if j.Level != nil {
		level = sql.NullString{String: j.Level.String(), Valid: true}
	}
	var score sql.NullFloat64
	if j.Score != nil {
		score = sql.NullFloat64{Float64: *j.Score, Valid: true}
	}
	var kind sql.NullString
	if k := j.FailureKind(); k != "" {
		kind = sql.NullString{String: string(k), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journeys (tx_id, state, level, score, failure_kind, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_id) DO UPDATE SET
			state        = EXCLUDED.state,
			level        = EXCLUDED.level,
			score        = EXCLUDED.score,
			failure_kind = EXCLUDED.failure_kind,
			history      = EXCLUDED.history,
			updated_at   = EXCLUDED.updated_at
	`,
		j.TxID.String(),
		string(j.State),
		level,
		score,
		kind,
		historyJSON,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save journey: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, txID uuid.UUID) (*Journey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tx_id, state, level, score, history, created_at, updated_at
		FROM journeys
		WHERE tx_id = $1
	`, txID.String())

	j, err := scanJourney(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journey: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Journey, error) {
	var afterAt sql.NullTime
	afterID := uuid.Nil.String()
	if filter.After != nil {
		afterAt = sql.NullTime{Time: filter.After.At, Valid: true}
		afterID = filter.After.ID
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_id, state, level, score, history, created_at, updated_at
		FROM journeys
		WHERE ($1::text = '' OR state = $1::text)
		  AND ($3::timestamptz IS NULL
		       OR updated_at < $3::timestamptz
		       OR (updated_at = $3::timestamptz AND tx_id > $4::uuid))
		ORDER BY updated_at DESC, tx_id
		LIMIT $2
	`, string(filter.State), filter.limit(), afterAt, afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journeys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []*Journey{}
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey: %w", err)
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list journeys: %w", err)
	}
	return result, nil
}

// Report lets the store act as a journey reporter.
func (s *PostgresStore) Report(ctx context.Context, j *Journey) error {
	return s.Save(ctx, j)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJourney(sc scanner) (*Journey, error) {
	var (
		j           Journey
		txID        string
		state       string
		level       sql.NullString
		score       sql.NullFloat64
		historyJSON []byte
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := sc.Scan(&txID, &state, &level, &score, &historyJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(txID)
	if err != nil {
		return nil, fmt.Errorf("invalid tx_id %q: %w", txID, err)
	}
	j.TxID = id
	j.State = State(state)
	j.CreatedAt = createdAt
	j.UpdatedAt = updatedAt
	if level.Valid {
		l, err := threat.ParseLevel(level.String)
		if err != nil {
			return nil, err
		}
		j.Level = &l
	}
	if score.Valid {
		v := score.Float64
		j.Score = &v
	}
	j.History = []Transition{}
	if err := json.Unmarshal(historyJSON, &j.History); err != nil {
		return nil, fmt.Errorf("invalid history: %w", err)
	}
	return &j, nil
}
