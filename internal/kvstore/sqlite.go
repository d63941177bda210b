package kvstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/polld/internal/kv"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	k BLOB PRIMARY KEY,
	v BLOB
) WITHOUT ROWID`

// SQLiteDB stores keys in a single table ordered by its BLOB primary key.
// SQLite compares BLOBs with memcmp, which gives the same ordering as the
// other backends. Writes go through a single connection.
type SQLiteDB struct {
	write *sql.DB
	read  *sql.DB
}

// OpenSQLite opens (or creates) a SQLite-backed store at path.
func OpenSQLite(path string) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	write, err := openSQLiteConn(path)
	if err != nil {
		return nil, fmt.Errorf("open write connection: %w", err)
	}
	write.SetMaxOpenConns(1)
	if _, err := write.Exec(sqliteSchema); err != nil {
		write.Close()
		return nil, fmt.Errorf("create kv schema: %w", err)
	}
	read, err := openSQLiteConn(path)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read connection: %w", err)
	}
	read.SetMaxOpenConns(8)
	read.SetConnMaxLifetime(5 * time.Minute)
	return &SQLiteDB{write: write, read: read}, nil
}

func openSQLiteConn(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", pragma, err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (s *SQLiteDB) View(fn func(r Reader) error) error {
	tx, err := s.read.Begin()
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()
	return fn(sqliteTxn{tx: tx})
}

func (s *SQLiteDB) Update(fn func(txn Txn) error) error {
	tx, err := s.write.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(sqliteTxn{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDB) Close() error {
	rerr := s.read.Close()
	werr := s.write.Close()
	return errors.Join(rerr, werr)
}

type sqliteTxn struct {
	tx *sql.Tx
}

func (t sqliteTxn) Get(key []byte) ([]byte, error) {
	var v []byte
	err := t.tx.QueryRow("SELECT v FROM kv WHERE k = ?", key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (t sqliteTxn) Scan(prefix []byte, fn func(key, val []byte) error) error {
	var (
		rows *sql.Rows
		err  error
	)
	upper := kv.PrefixUpperBound(prefix)
	switch {
	case len(prefix) == 0:
		rows, err = t.tx.Query("SELECT k, v FROM kv ORDER BY k")
	case upper == nil:
		rows, err = t.tx.Query("SELECT k, v FROM kv WHERE k >= ? ORDER BY k", prefix)
	default:
		rows, err = t.tx.Query("SELECT k, v FROM kv WHERE k >= ? AND k < ? ORDER BY k", prefix, upper)
	}
	if err != nil {
		return err
	}
	// Drain before calling fn so callbacks may issue their own queries on
	// the same transaction.
	type pair struct{ k, v []byte }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.k, &p.v); err != nil {
			rows.Close()
			return err
		}
		pairs = append(pairs, p)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := fn(p.k, p.v); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t sqliteTxn) Set(key, val []byte) error {
	_, err := t.tx.Exec("INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v", key, val)
	return err
}

func (t sqliteTxn) Delete(key []byte) error {
	_, err := t.tx.Exec("DELETE FROM kv WHERE k = ?", key)
	return err
}
