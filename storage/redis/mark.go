package redisstore

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/trezcool/presence/core/attendance"
)

type recorder struct {
	client *redis.Client
	keys   keyspace
}

func NewRecorder(client *redis.Client, namespace string) attendance.Recorder {
	return &recorder{client: client, keys: keyspace(namespace)}
}

func (rec *recorder) RecordMark(ctx context.Context, mark attendance.Mark) error {
	data, err := encode(mark)
	if err != nil {
		return err
	}
	ok, err := rec.client.HSetNX(ctx, rec.keys.marks(mark.SessionID), mark.StudentID, data).Result()
	if err != nil {
		return wrap(err, "redis.HSetNX")
	}
	if !ok {
		return attendance.ErrAlreadyMarked
	}
	return nil
}

func (rec *recorder) Marks(ctx context.Context, sessionID string) ([]attendance.Mark, error) {
	vals, err := rec.client.HVals(ctx, rec.keys.marks(sessionID)).Result()
	if err != nil {
		return nil, wrap(err, "redis.HVals")
	}

	marks := make([]attendance.Mark, 0, len(vals))
	for _, data := range vals {
		var mark attendance.Mark
		if err := decode([]byte(data), &mark); err != nil {
			return nil, err
		}
		marks = append(marks, mark)
	}
	sort.Slice(marks, func(i, j int) bool { return marks[i].MarkedAt.Before(marks[j].MarkedAt) })
	return marks, nil
}
