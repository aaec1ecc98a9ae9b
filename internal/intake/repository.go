package intake

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AnswerRecord is one durable answer belonging to a (session, patient) pair.
type AnswerRecord struct {
	QuestionID string    `json:"question_id"`
	Label      string    `json:"question"`
	Value      string    `json:"response"`
	Time       time.Time `json:"time"`
}

// Repository persists interview answers and allocates sequence ids. All
// operations must be safe under concurrent sessions.
type Repository interface {
	// NextSequence atomically increments and returns the named counter.
	NextSequence(ctx context.Context, name string) (int64, error)
	// UpsertAnswer writes one answer, replacing any previous answer for the
	// same (session, patient, question) key.
	UpsertAnswer(ctx context.Context, sessionID, patientID int64, rec AnswerRecord) error
	// TouchSession records the session start on the owning document.
	TouchSession(ctx context.Context, sessionID, patientID int64, start time.Time) error
	// CloseSession stamps the session end.
	CloseSession(ctx context.Context, sessionID, patientID int64, end time.Time) error
	// ListAnswers returns the answers for a session in the order they were
	// first given.
	ListAnswers(ctx context.Context, sessionID, patientID int64) ([]AnswerRecord, error)
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) NextSequence(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO counters (name, seq) VALUES ($1, 1)
		 ON CONFLICT (name) DO UPDATE SET seq = counters.seq + 1
		 RETURNING seq`,
		name,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance counter %s: %w", name, err)
	}
	return seq, nil
}

func (r *postgresRepo) UpsertAnswer(ctx context.Context, sessionID, patientID int64, rec AnswerRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO intake_answers (session_id, patient_id, question_id, question, response, answered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id, patient_id, question_id) DO UPDATE SET
			question = $4,
			response = $5,
			answered_at = $6`,
		sessionID, patientID, rec.QuestionID, rec.Label, rec.Value, rec.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert answer %s: %w", rec.QuestionID, err)
	}
	return nil
}

func (r *postgresRepo) TouchSession(ctx context.Context, sessionID, patientID int64, start time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO intake_sessions (session_id, patient_id, session_start)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, patient_id) DO UPDATE SET session_start = $3`,
		sessionID, patientID, start,
	)
	return err
}

func (r *postgresRepo) CloseSession(ctx context.Context, sessionID, patientID int64, end time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE intake_sessions SET session_end = $3
		 WHERE session_id = $1 AND patient_id = $2`,
		sessionID, patientID, end,
	)
	return err
}

func (r *postgresRepo) ListAnswers(ctx context.Context, sessionID, patientID int64) ([]AnswerRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT question_id, question, response, answered_at
		 FROM intake_answers
		 WHERE session_id = $1 AND patient_id = $2
		 ORDER BY answered_at ASC, question_id ASC`,
		sessionID, patientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AnswerRecord
	for rows.Next() {
		var rec AnswerRecord
		if err := rows.Scan(&rec.QuestionID, &rec.Label, &rec.Value, &rec.Time); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
