package storage

import (
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// TxRunner is the narrow seam the services run on: a query builder plus a
// transaction scope. Production hands it the PocketBase app; tests hand it a
// plain dbx database over an in-memory sqlite file.
type TxRunner interface {
	DB() dbx.Builder
	RunInTransaction(fn func(tx dbx.Builder) error) error
}

type appStore struct {
	app core.App
}

// NewAppStore adapts a PocketBase app to TxRunner.
func NewAppStore(app core.App) TxRunner {
	return &appStore{app: app}
}

func (s *appStore) DB() dbx.Builder {
	return s.app.DB()
}

func (s *appStore) RunInTransaction(fn func(tx dbx.Builder) error) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		return fn(txApp.DB())
	})
}

type dbStore struct {
	db *dbx.DB
}

// NewDBStore adapts a raw dbx database to TxRunner.
func NewDBStore(db *dbx.DB) TxRunner {
	return &dbStore{db: db}
}

func (s *dbStore) DB() dbx.Builder {
	return s.db
}

func (s *dbStore) RunInTransaction(fn func(tx dbx.Builder) error) error {
	return s.db.Transactional(func(tx *dbx.Tx) error {
		return fn(tx)
	})
}
