package db

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

var _ Repository = (*SQLRepository)(nil)

const studyColumns = `study_id, submitter_id, submitted_at, description, source_location, source_bucket,
	datastore_id, job_id, result_reference, status, import_status, last_error, attempt_count,
	processing_stage, updated_at`

// SQLRepository stores studies in MySQL or PostgreSQL. Queries are written
// with ? placeholders and rebound for postgres.
type SQLRepository struct {
	db      *sql.DB
	driver  string
	now     func() time.Time
	schemas []string
}

func NewSQLRepository(db *sql.DB, driver string) *SQLRepository {
	r := &SQLRepository{
		db:     db,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if driver == "postgres" {
		r.schemas = strings.Split(postgresSchema, ";\n")
	} else {
		r.schemas = []string{mysqlSchema}
	}
	return r
}

// EnsureSchema creates the studies table when it is missing.
func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range r.schemas {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRepository) Create(ctx context.Context, study *model.Study) error {
	query := `INSERT INTO studies (` + studyColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		study.StudyID, study.SubmitterID, study.SubmittedAt, study.Description,
		study.SourceLocation, study.SourceBucket, study.DatastoreID, study.JobID,
		study.ResultReference, string(study.Status), study.ImportStatus, study.LastError,
		study.AttemptCount, study.ProcessingStage, study.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return errors.NewConflictError(studyResource, study.StudyID)
		}
		return errors.NewTransientError(err, "insert study")
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, studyID string) (*model.Study, error) {
	query := `SELECT ` + studyColumns + ` FROM studies WHERE study_id = ?`

	study, err := scanStudy(r.db.QueryRowContext(ctx, r.rebind(query), studyID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError(studyResource, studyID)
		}
		return nil, errors.NewTransientError(err, "select study")
	}
	return study, nil
}

func (r *SQLRepository) ConditionalUpdate(ctx context.Context, studyID string, expected model.StudyStatus, upd model.StudyUpdate) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []interface{}{r.now()}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.ImportStatus != nil {
		sets = append(sets, "import_status = ?")
		args = append(args, *upd.ImportStatus)
	}
	if upd.ResultReference != nil {
		sets = append(sets, "result_reference = ?")
		args = append(args, *upd.ResultReference)
	}
	if upd.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *upd.LastError)
	}
	if upd.IncrementAttempts {
		sets = append(sets, "attempt_count = attempt_count + 1")
	}

	query := `UPDATE studies SET ` + strings.Join(sets, ", ") + ` WHERE study_id = ? AND status = ?`
	args = append(args, studyID, string(expected))

	res, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return false, errors.NewTransientError(err, "update study")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewTransientError(err, "update study rows affected")
	}
	return affected == 1, nil
}

func (r *SQLRepository) ListBySubmitter(ctx context.Context, submitterID string, since time.Time, limit int) ([]*model.Study, error) {
	query := `SELECT ` + studyColumns + ` FROM studies
			  WHERE submitter_id = ? AND submitted_at >= ?
			  ORDER BY submitted_at DESC
			  LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), submitterID, since, normalizeLimit(limit))
	if err != nil {
		return nil, errors.NewTransientError(err, "list studies")
	}
	defer rows.Close()

	var studies []*model.Study
	for rows.Next() {
		study, err := scanStudy(rows)
		if err != nil {
			return nil, err
		}
		studies = append(studies, study)
	}

	return studies, rows.Err()
}

func (r *SQLRepository) ListByStatus(ctx context.Context, status model.StudyStatus) ([]*model.Study, error) {
	query := `SELECT ` + studyColumns + ` FROM studies WHERE status = ? ORDER BY submitted_at`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(status))
	if err != nil {
		return nil, errors.NewTransientError(err, "list studies by status")
	}
	defer rows.Close()

	var studies []*model.Study
	for rows.Next() {
		study, err := scanStudy(rows)
		if err != nil {
			return nil, err
		}
		studies = append(studies, study)
	}

	return studies, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStudy(row rowScanner) (*model.Study, error) {
	var study model.Study
	var status string
	err := row.Scan(
		&study.StudyID, &study.SubmitterID, &study.SubmittedAt, &study.Description,
		&study.SourceLocation, &study.SourceBucket, &study.DatastoreID, &study.JobID,
		&study.ResultReference, &status, &study.ImportStatus, &study.LastError,
		&study.AttemptCount, &study.ProcessingStage, &study.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	study.Status = model.StudyStatus(status)
	study.SubmittedAt = study.SubmittedAt.UTC()
	study.UpdatedAt = study.UpdatedAt.UTC()
	return &study, nil
}

// rebind turns ? placeholders into $n for postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
