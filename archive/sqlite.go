package archive

import (
	"database/sql"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const recordsTable = `
	CREATE TABLE IF NOT EXISTS records (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`

// sqliteReader serves records from the records table of a SQLite file.
type sqliteReader struct {
	db *sqlx.DB
}

func openSQLite(path string) (*sqliteReader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &sqliteReader{db: db}, nil
}

func (s *sqliteReader) Read(name string) ([]byte, error) {
	var data []byte
	err := s.db.Get(&data, `SELECT data FROM records WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notExist(name)
	}
	return data, errors.Wrapf(err, "reading record %q", name)
}

func (s *sqliteReader) Names() ([]string, error) {
	var names []string
	err := s.db.Select(&names, `SELECT name FROM records ORDER BY name`)
	return names, err
}

func (s *sqliteReader) Close() error {
	return s.db.Close()
}

// sqliteWriter writes all records of one Write call in a single transaction.
type sqliteWriter struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

func createSQLite(path string) (*sqliteWriter, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err = db.Exec(recordsTable); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating records table")
	}
	tx, err := db.Beginx()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	// Records of a previous write are replaced, unless the transaction is
	// rolled back.
	if _, err = tx.Exec(`DELETE FROM records`); err != nil {
		_ = tx.Rollback()
		_ = db.Close()
		return nil, errors.Wrap(err, "clearing records table")
	}
	return &sqliteWriter{db: db, tx: tx}, nil
}

func (s *sqliteWriter) Write(name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.tx.Exec(`INSERT OR REPLACE INTO records (name, data) VALUES (?, ?)`, name, data)
	return errors.Wrapf(err, "writing record %q", name)
}

func (s *sqliteWriter) Close(commit bool) error {
	var err error
	if commit {
		err = s.tx.Commit()
	} else {
		err = s.tx.Rollback()
	}
	if closeErr := s.db.Close(); err == nil {
		err = closeErr
	}
	return err
}
