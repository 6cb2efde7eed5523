package inmemdb

import (
	"context"

	"github.com/trezcool/presence/core/attendance"
)

type recorder struct {
	db *markTable
}

func NewRecorder(db *DB) attendance.Recorder {
	return &recorder{db: db.mark}
}

func (rec *recorder) RecordMark(_ context.Context, mark attendance.Mark) error {
	rec.db.mutex.Lock()
	defer rec.db.mutex.Unlock()

	for _, m := range rec.db.table[mark.SessionID] {
		if m.StudentID == mark.StudentID {
			return attendance.ErrAlreadyMarked
		}
	}
	rec.db.table[mark.SessionID] = append(rec.db.table[mark.SessionID], mark)
	return nil
}

func (rec *recorder) Marks(_ context.Context, sessionID string) ([]attendance.Mark, error) {
	rec.db.mutex.RLock()
	defer rec.db.mutex.RUnlock()

	marks := make([]attendance.Mark, len(rec.db.table[sessionID]))
	copy(marks, rec.db.table[sessionID])
	return marks, nil
}
