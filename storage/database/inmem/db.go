package inmemdb

import (
	"sync"

	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/qrproof"
	"github.com/trezcool/presence/core/verification"
)

// DB is an in-process store for single-instance deployments and tests.
type DB struct {
	session    *sessionTable
	token      *tokenTable
	redemption *redemptionTable
	mark       *markTable
}

type (
	sessionTable struct {
		mutex sync.RWMutex
		table map[string]*verification.Session
	}

	tokenTable struct {
		mutex sync.RWMutex
		table map[string]qrproof.Token
	}

	redemptionTable struct {
		mutex sync.RWMutex
		table map[redemptionKey]qrproof.Redemption
	}

	markTable struct {
		mutex sync.RWMutex
		table map[string][]attendance.Mark
	}

	redemptionKey struct {
		sessionID string
		studentID string
	}
)

func NewDB() *DB {
	return &DB{
		session:    &sessionTable{table: make(map[string]*verification.Session)},
		token:      &tokenTable{table: make(map[string]qrproof.Token)},
		redemption: &redemptionTable{table: make(map[redemptionKey]qrproof.Redemption)},
		mark:       &markTable{table: make(map[string][]attendance.Mark)},
	}
}
