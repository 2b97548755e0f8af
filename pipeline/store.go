package pipeline

import (
	"database/sql"
	"time"

	"github.com/glowworks/atelier/errors"
)

// Store persists ExecutionLogRecords in the image_logs table.
type Store struct {
	db *sql.DB
}

// NewStore creates an execution log store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRecord inserts a pending row for a freshly submitted
// execution. Exactly one row may exist per execution id.
func (s *Store) CreateRecord(record *ExecutionLogRecord) error {
	if record.ExecutionID == "" {
		return errors.New("cannot log execution without an execution id")
	}
	if record.Status == "" {
		record.Status = RecordPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	result, err := s.db.Exec(`
		INSERT INTO image_logs (execution_id, prompt, persona, image_ref_path, result_image_path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ExecutionID,
		record.Prompt,
		nullString(record.Persona),
		nullString(record.ImageRefPath),
		nullString(record.ResultImagePath),
		string(record.Status),
		record.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "inserting execution log for %s", record.ExecutionID)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "reading inserted log id")
	}
	record.ID = id
	return nil
}

// GetByExecutionID fetches one record. Returns nil, nil when no row
// exists.
func (s *Store) GetByExecutionID(executionID string) (*ExecutionLogRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, execution_id, prompt, persona, image_ref_path, result_image_path, status, created_at
		FROM image_logs WHERE execution_id = ?`, executionID)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetching execution log for %s", executionID)
	}
	return record, nil
}

// ListPending returns all records still awaiting terminal
// resolution, oldest first.
func (s *Store) ListPending() ([]*ExecutionLogRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, execution_id, prompt, persona, image_ref_path, result_image_path, status, created_at
		FROM image_logs WHERE status = ? ORDER BY created_at ASC`, string(RecordPending))
	if err != nil {
		return nil, errors.Wrap(err, "listing pending execution logs")
	}
	defer rows.Close()

	var records []*ExecutionLogRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning execution log row")
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Resolve marks a pending record terminal, setting the result path.
// The pending-status guard makes resolution idempotent: an already
// terminal record is left untouched and no error is returned.
func (s *Store) Resolve(executionID string, status RecordStatus, resultImagePath string) error {
	if status != RecordCompleted && status != RecordFailed {
		return errors.Newf("invalid terminal status %q for execution %s", status, executionID)
	}

	_, err := s.db.Exec(`
		UPDATE image_logs
		SET status = ?, result_image_path = ?
		WHERE execution_id = ? AND status = ?`,
		string(status),
		nullString(resultImagePath),
		executionID,
		string(RecordPending),
	)
	if err != nil {
		return errors.Wrapf(err, "resolving execution log for %s", executionID)
	}
	return nil
}

// UpdateRefPath records the relocated source-image path for a
// pending execution, used when the pipeline renames the file after
// submission.
func (s *Store) UpdateRefPath(executionID, refPath string) error {
	_, err := s.db.Exec(`
		UPDATE image_logs SET image_ref_path = ? WHERE execution_id = ?`,
		nullString(refPath), executionID)
	if err != nil {
		return errors.Wrapf(err, "updating ref path for %s", executionID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ExecutionLogRecord, error) {
	var record ExecutionLogRecord
	var persona, refPath, resultPath sql.NullString
	var status string

	if err := row.Scan(
		&record.ID,
		&record.ExecutionID,
		&record.Prompt,
		&persona,
		&refPath,
		&resultPath,
		&status,
		&record.CreatedAt,
	); err != nil {
		return nil, err
	}

	record.Persona = persona.String
	record.ImageRefPath = refPath.String
	record.ResultImagePath = resultPath.String
	record.Status = RecordStatus(status)
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
