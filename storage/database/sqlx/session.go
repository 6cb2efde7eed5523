package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/geo"
	"github.com/trezcool/presence/core/verification"
)

type sessionRow struct {
	ID             string          `db:"id"`
	ClassID        string          `db:"class_id"`
	TeacherID      string          `db:"teacher_id"`
	EnabledSteps   string          `db:"enabled_steps"`
	ClassLatitude  sql.NullFloat64 `db:"class_latitude"`
	ClassLongitude sql.NullFloat64 `db:"class_longitude"`
	AllowedRadius  float64         `db:"allowed_radius"`
	FaceReference  sql.NullString  `db:"face_reference"`
	CreatedAt      time.Time       `db:"created_at"`
	ExpiresAt      time.Time       `db:"expires_at"`
}

func newSessionRow(sess verification.Session) (sessionRow, error) {
	kinds := make([]string, len(sess.EnabledSteps))
	for i, k := range sess.EnabledSteps {
		kinds[i] = string(k)
	}
	row := sessionRow{
		ID:            sess.ID,
		ClassID:       sess.ClassID,
		TeacherID:     sess.TeacherID,
		EnabledSteps:  strings.Join(kinds, ","),
		AllowedRadius: sess.AllowedRadius,
		CreatedAt:     sess.CreatedAt.UTC(),
		ExpiresAt:     sess.ExpiresAt.UTC(),
	}
	if loc := sess.ClassLocation; loc != nil {
		row.ClassLatitude = sql.NullFloat64{Float64: loc.Latitude, Valid: true}
		row.ClassLongitude = sql.NullFloat64{Float64: loc.Longitude, Valid: true}
	}
	if len(sess.FaceReference) > 0 {
		ref, err := json.Marshal(sess.FaceReference)
		if err != nil {
			return row, errors.Wrap(err, "encoding face reference")
		}
		row.FaceReference = sql.NullString{String: string(ref), Valid: true}
	}
	return row, nil
}

func (row sessionRow) session() (verification.Session, error) {
	sess := verification.Session{
		ID:            row.ID,
		ClassID:       row.ClassID,
		TeacherID:     row.TeacherID,
		AllowedRadius: row.AllowedRadius,
		CreatedAt:     row.CreatedAt.UTC(),
		ExpiresAt:     row.ExpiresAt.UTC(),
	}
	if row.EnabledSteps != "" {
		for _, k := range strings.Split(row.EnabledSteps, ",") {
			sess.EnabledSteps = append(sess.EnabledSteps, verification.StepKind(k))
		}
	}
	if row.ClassLatitude.Valid && row.ClassLongitude.Valid {
		sess.ClassLocation = &geo.Point{Latitude: row.ClassLatitude.Float64, Longitude: row.ClassLongitude.Float64}
	}
	if row.FaceReference.Valid {
		if err := json.Unmarshal([]byte(row.FaceReference.String), &sess.FaceReference); err != nil {
			return sess, errors.Wrap(err, "decoding face reference")
		}
	}
	return sess, nil
}

type sessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) attendance.SessionRepository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) CreateSession(ctx context.Context, sess verification.Session) error {
	row, err := newSessionRow(sess)
	if err != nil {
		return err
	}
	_, err = repo.db.NamedExecContext(ctx, `
		INSERT INTO attendance_sessions
			(id, class_id, teacher_id, enabled_steps, class_latitude, class_longitude, allowed_radius, face_reference, created_at, expires_at)
		VALUES
			(:id, :class_id, :teacher_id, :enabled_steps, :class_latitude, :class_longitude, :allowed_radius, :face_reference, :created_at, :expires_at)`,
		row,
	)
	return errors.Wrap(err, "inserting session")
}

func (repo *sessionRepository) GetSession(ctx context.Context, id string) (verification.Session, error) {
	var row sessionRow
	err := repo.db.GetContext(ctx, &row, repo.db.Rebind(`SELECT * FROM attendance_sessions WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return verification.Session{}, attendance.ErrSessionNotFound
	}
	if err != nil {
		return verification.Session{}, errors.Wrap(err, "selecting session")
	}
	return row.session()
}

func (repo *sessionRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := repo.db.ExecContext(ctx, repo.db.Rebind(`DELETE FROM attendance_sessions WHERE id = ?`), id)
	return errors.Wrap(err, "deleting session")
}
