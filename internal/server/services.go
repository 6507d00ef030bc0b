package server

import (
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"github.com/pitchbox/pitchbox/internal/db"
	"github.com/pitchbox/pitchbox/internal/server/sessions"
)

type Services struct {
	Sessions *sessions.Service

	db *sqlx.DB
}

func NewServices(config *Config) (*Services, error) {
	dbPath := config.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.DataDir, "pitchbox.db")
	}

	sqliteDB, err := db.NewSqliteDB(
		db.WithPath(dbPath),
		db.WithMaxOpenConns(1),
	)
	if err != nil {
		return nil, err
	}

	store, err := sessions.NewStore(sqliteDB)
	if err != nil {
		sqliteDB.Close()
		return nil, err
	}

	sessionSvc, err := sessions.NewService(store, config.DataDir, config.MaxFileSize, config.MinFreeDisk)
	if err != nil {
		sqliteDB.Close()
		return nil, err
	}

	return &Services{
		Sessions: sessionSvc,
		db:       sqliteDB,
	}, nil
}

func (s *Services) Close() error {
	return s.db.Close()
}
