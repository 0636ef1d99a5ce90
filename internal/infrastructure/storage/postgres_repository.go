package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/ports"
)

const reviewReason = "human_review"

var recordColumns = []string{
	"batch_number", "device_id", "scenario_code", "device_code",
	"diameter", "conductivity", "extensibility", "weight",
	"manufacturer", "responsible_person", "process_type", "production_machine", "contact_email",
	"event_time",
	"rule_verdict", "rule_message", "model_verdict", "model_confidence",
	"final_verdict", "final_reason", "evaluated_at", "reviewed_at",
}

// PostgresRepository persists measurement records and review notes into Postgres.
type PostgresRepository struct {
	db *sql.DB
}

var _ ports.RecordRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateRecord inserts the record unless its batch number already exists.
func (r *PostgresRepository) CreateRecord(ctx context.Context, record domain.MeasurementRecord) (bool, error) {
	query, args, err := insertRecordQuery(record).ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert record: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert record rows: %w", err)
	}
	return n == 1, nil
}

// GetRecord loads a record together with its review history.
func (r *PostgresRepository) GetRecord(ctx context.Context, batchNumber string) (domain.MeasurementRecord, error) {
	query, args, err := selectRecords().Where(sq.Eq{"batch_number": batchNumber}).ToSql()
	if err != nil {
		return domain.MeasurementRecord{}, fmt.Errorf("build select record: %w", err)
	}

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MeasurementRecord{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, batchNumber)
	}
	if err != nil {
		return domain.MeasurementRecord{}, fmt.Errorf("select record: %w", err)
	}

	notes, err := r.reviewNotes(ctx, batchNumber)
	if err != nil {
		return domain.MeasurementRecord{}, err
	}
	rec.ReviewNotes = notes
	return rec, nil
}

// ListByScenario returns every record of a scenario ordered by batch number.
func (r *PostgresRepository) ListByScenario(ctx context.Context, scenarioCode string) ([]domain.MeasurementRecord, error) {
	query, args, err := selectRecords().
		Where(sq.Eq{"scenario_code": scenarioCode}).
		OrderBy("batch_number").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list records: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	var result []domain.MeasurementRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan record: %w", err)
		}
		result = append(result, rec)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

// SaveEvaluation overwrites the evaluation fields. A reviewed record keeps its final verdict and reason.
func (r *PostgresRepository) SaveEvaluation(ctx context.Context, batchNumber string, eval domain.Evaluation) error {
	query, args, err := updateEvaluationQuery(batchNumber, eval).ToSql()
	if err != nil {
		return fmt.Errorf("build update evaluation: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update evaluation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update evaluation rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, batchNumber)
	}
	return nil
}

// SaveReview settles the final verdict and appends the note in one transaction.
func (r *PostgresRepository) SaveReview(ctx context.Context, note domain.ReviewNote) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin review: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query, args, err := settleReviewQuery(note).ToSql()
	if err != nil {
		return fmt.Errorf("build settle review: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("settle review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle review rows: %w", err)
	}
	if n == 0 {
		return r.reviewRejection(ctx, tx, note.BatchNumber)
	}

	query, args, err = insertReviewNoteQuery(note).ToSql()
	if err != nil {
		return fmt.Errorf("build insert note: %w", err)
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit review: %w", err)
	}
	return nil
}

// reviewRejection tells a missing record apart from one that is already settled.
func (r *PostgresRepository) reviewRejection(ctx context.Context, tx *sql.Tx, batchNumber string) error {
	query, args, err := psql.Select("1").From("measurement_records").
		Where(sq.Eq{"batch_number": batchNumber}).ToSql()
	if err != nil {
		return fmt.Errorf("build record lookup: %w", err)
	}

	var one int
	err = tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, batchNumber)
	}
	if err != nil {
		return fmt.Errorf("record lookup: %w", err)
	}
	return fmt.Errorf("%w: %s", domain.ErrReviewNotAllowed, batchNumber)
}

func (r *PostgresRepository) reviewNotes(ctx context.Context, batchNumber string) ([]domain.ReviewNote, error) {
	query, args, err := selectReviewNotes(batchNumber).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select notes: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}

	var notes []domain.ReviewNote
	for rows.Next() {
		var (
			n                 domain.ReviewNote
			verdict, previous string
		)
		if err := rows.Scan(&n.ID, &n.BatchNumber, &n.Reviewer, &verdict, &previous, &n.Note, &n.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.Verdict = domain.Verdict(verdict)
		n.Previous = domain.Verdict(previous)
		notes = append(notes, n)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("notes iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close notes: %w", closeErr)
	}
	return notes, nil
}

func selectRecords() sq.SelectBuilder {
	return psql.Select(recordColumns...).From("measurement_records")
}

func insertRecordQuery(rec domain.MeasurementRecord) sq.InsertBuilder {
	eval := rec.Evaluation
	if eval.FinalVerdict == "" {
		eval = domain.UnknownEvaluation()
	}

	return psql.Insert("measurement_records").
		Columns(recordColumns[:len(recordColumns)-2]...).
		Values(
			rec.BatchNumber, rec.DeviceID, rec.ScenarioCode, rec.DeviceCode,
			rec.Diameter, rec.Conductivity, rec.Extensibility, rec.Weight,
			rec.Manufacturer, rec.ResponsiblePerson, rec.ProcessType, rec.ProductionMachine, rec.ContactEmail,
			rec.EventTime,
			string(eval.RuleVerdict), eval.RuleMessage, string(eval.ModelVerdict), eval.ModelConfidence,
			string(eval.FinalVerdict), eval.FinalReason,
		).
		Suffix("ON CONFLICT (batch_number) DO NOTHING")
}

func updateEvaluationQuery(batchNumber string, eval domain.Evaluation) sq.UpdateBuilder {
	return psql.Update("measurement_records").
		Set("rule_verdict", string(eval.RuleVerdict)).
		Set("rule_message", eval.RuleMessage).
		Set("model_verdict", string(eval.ModelVerdict)).
		Set("model_confidence", eval.ModelConfidence).
		Set("final_verdict", sq.Expr("CASE WHEN reviewed_at IS NULL THEN ? ELSE final_verdict END", string(eval.FinalVerdict))).
		Set("final_reason", sq.Expr("CASE WHEN reviewed_at IS NULL THEN ? ELSE final_reason END", eval.FinalReason)).
		Set("evaluated_at", eval.EvaluatedAt).
		Where(sq.Eq{"batch_number": batchNumber})
}

func settleReviewQuery(note domain.ReviewNote) sq.UpdateBuilder {
	open := pq.StringArray{string(domain.VerdictPendingReview), string(domain.VerdictUnknown)}

	return psql.Update("measurement_records").
		Set("final_verdict", string(note.Verdict)).
		Set("final_reason", reviewReason).
		Set("reviewed_at", note.CreatedAt).
		Where(sq.Eq{"batch_number": note.BatchNumber}).
		Where(sq.Eq{"reviewed_at": nil}).
		Where(sq.Expr("final_verdict = ANY(?)", open))
}

func insertReviewNoteQuery(note domain.ReviewNote) sq.InsertBuilder {
	return psql.Insert("review_notes").
		Columns("id", "batch_number", "reviewer", "verdict", "previous_verdict", "note", "created_at").
		Values(note.ID, note.BatchNumber, note.Reviewer, string(note.Verdict), string(note.Previous), note.Note, note.CreatedAt)
}

func selectReviewNotes(batchNumber string) sq.SelectBuilder {
	return psql.Select("id", "batch_number", "reviewer", "verdict", "previous_verdict", "note", "created_at").
		From("review_notes").
		Where(sq.Eq{"batch_number": batchNumber}).
		OrderBy("created_at")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.MeasurementRecord, error) {
	var (
		rec                                domain.MeasurementRecord
		scenario, device                   sql.NullString
		manufacturer, person, process      sql.NullString
		machine, email                     sql.NullString
		ruleVerdict, modelVerdict, verdict string
		evaluatedAt, reviewedAt            sql.NullTime
	)

	err := row.Scan(
		&rec.BatchNumber, &rec.DeviceID, &scenario, &device,
		&rec.Diameter, &rec.Conductivity, &rec.Extensibility, &rec.Weight,
		&manufacturer, &person, &process, &machine, &email,
		&rec.EventTime,
		&ruleVerdict, &rec.RuleMessage, &modelVerdict, &rec.ModelConfidence,
		&verdict, &rec.FinalReason, &evaluatedAt, &reviewedAt,
	)
	if err != nil {
		return domain.MeasurementRecord{}, err
	}

	rec.ScenarioCode = nullString(scenario)
	rec.DeviceCode = nullString(device)
	rec.Manufacturer = nullString(manufacturer)
	rec.ResponsiblePerson = nullString(person)
	rec.ProcessType = nullString(process)
	rec.ProductionMachine = nullString(machine)
	rec.ContactEmail = nullString(email)
	if rec.RuleVerdict, err = storedVerdict("rule_verdict", ruleVerdict); err != nil {
		return domain.MeasurementRecord{}, err
	}
	if rec.ModelVerdict, err = storedVerdict("model_verdict", modelVerdict); err != nil {
		return domain.MeasurementRecord{}, err
	}
	if rec.FinalVerdict, err = storedVerdict("final_verdict", verdict); err != nil {
		return domain.MeasurementRecord{}, err
	}
	if evaluatedAt.Valid {
		rec.EvaluatedAt = evaluatedAt.Time
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		rec.ReviewedAt = &t
	}
	return rec, nil
}

func storedVerdict(column, value string) (domain.Verdict, error) {
	v := domain.Verdict(value)
	if !v.Valid() {
		return "", fmt.Errorf("%s holds unknown verdict %q", column, value)
	}
	return v, nil
}
