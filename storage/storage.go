// Package storage opens the repositories of the configured storage engine.
package storage

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/qrproof"
	"github.com/trezcool/presence/core/realtime"
	"github.com/trezcool/presence/storage/database"
	inmemdb "github.com/trezcool/presence/storage/database/inmem"
	sqlxrepos "github.com/trezcool/presence/storage/database/sqlx"
	redisstore "github.com/trezcool/presence/storage/redis"
)

const (
	EngineMemory   = "memory"
	EngineRedis    = "redis"
	EnginePostgres = database.EnginePostgres
	EngineSQLite   = database.EngineSQLite
)

// Stores bundles the repositories of one engine.
type Stores struct {
	Sessions attendance.SessionRepository
	Recorder attendance.Recorder
	Tokens   qrproof.TokenStore
	Ledger   qrproof.Ledger
	Broker   realtime.Broker

	// DB is set for SQL engines only.
	DB *sqlx.DB

	close func() error
}

func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open opens the storage named by conf.Storage.Engine. SQL databases are created if needed but not migrated.
func Open(conf *core.Config, logger core.Logger) (*Stores, error) {
	switch conf.Storage.Engine {
	case EngineMemory:
		db := inmemdb.NewDB()
		return &Stores{
			Sessions: inmemdb.NewSessionRepository(db),
			Recorder: inmemdb.NewRecorder(db),
			Tokens:   inmemdb.NewTokenStore(db),
			Ledger:   inmemdb.NewLedger(db),
			Broker:   realtime.NewHub(),
		}, nil

	case EngineRedis:
		client, err := redisstore.NewClient(conf.Redis)
		if err != nil {
			return nil, err
		}
		ns := conf.Redis.Namespace
		return &Stores{
			Sessions: redisstore.NewSessionRepository(client, ns),
			Recorder: redisstore.NewRecorder(client, ns),
			Tokens:   redisstore.NewTokenStore(client, ns),
			Ledger:   redisstore.NewLedger(client, ns),
			Broker:   redisstore.NewBroker(client, ns, logger),
			close:    client.Close,
		}, nil

	case EnginePostgres, EngineSQLite:
		conf.Database.Engine = conf.Storage.Engine
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Sessions: sqlxrepos.NewSessionRepository(db),
			Recorder: sqlxrepos.NewRecorder(db),
			Tokens:   sqlxrepos.NewTokenStore(db),
			Ledger:   sqlxrepos.NewLedger(db),
			Broker:   realtime.NewHub(),
			DB:       db,
			close:    db.Close,
		}, nil
	}
	return nil, errors.Errorf("unknown storage engine %q", conf.Storage.Engine)
}
