package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/verification"
)

type markRow struct {
	SessionID string    `db:"session_id"`
	StudentID string    `db:"student_id"`
	Steps     string    `db:"steps"`
	MarkedAt  time.Time `db:"marked_at"`
}

type recorder struct {
	db *sqlx.DB
}

func NewRecorder(db *sqlx.DB) attendance.Recorder {
	return &recorder{db: db}
}

func (rec *recorder) RecordMark(ctx context.Context, mark attendance.Mark) error {
	steps := make([]string, len(mark.Steps))
	for i, k := range mark.Steps {
		steps[i] = string(k)
	}
	res, err := rec.db.NamedExecContext(ctx, `
		INSERT INTO attendance_marks (session_id, student_id, steps, marked_at)
		VALUES (:session_id, :student_id, :steps, :marked_at)
		ON CONFLICT (session_id, student_id) DO NOTHING`,
		markRow{
			SessionID: mark.SessionID,
			StudentID: mark.StudentID,
			Steps:     strings.Join(steps, ","),
			MarkedAt:  mark.MarkedAt.UTC(),
		},
	)
	if err != nil {
		return errors.Wrap(err, "inserting mark")
	}
	return insertedOrConflict(res, attendance.ErrAlreadyMarked)
}

func (rec *recorder) Marks(ctx context.Context, sessionID string) ([]attendance.Mark, error) {
	var rows []markRow
	err := rec.db.SelectContext(
		ctx,
		&rows,
		rec.db.Rebind(`SELECT * FROM attendance_marks WHERE session_id = ? ORDER BY marked_at`),
		sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting marks")
	}

	marks := make([]attendance.Mark, len(rows))
	for i, row := range rows {
		marks[i] = attendance.Mark{SessionID: row.SessionID, StudentID: row.StudentID, MarkedAt: row.MarkedAt.UTC()}
		if row.Steps != "" {
			for _, k := range strings.Split(row.Steps, ",") {
				marks[i].Steps = append(marks[i].Steps, verification.StepKind(k))
			}
		}
	}
	return marks, nil
}
