package settings

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/mutker/reactorctl/internal/errors"
	"codeberg.org/mutker/reactorctl/internal/logger"
)

const defaultDirPerm = 0o755

// Repository persists settings across restarts. Load reports found=false on
// an empty store.
type Repository interface {
	Load() (values Values, found bool, err error)
	Save(values Values) error
	Close() error
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRepository opens (creating if necessary) the sqlite store at dbPath.
func NewRepository(dbPath string) (Repository, error) {
	if dbPath == "" {
		return nil, errors.New(errors.ErrInvalidDBPath)
	}

	logger.Debug().Msgf("Initializing settings store at: %s", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), defaultDirPerm); err != nil {
		return nil, errors.Wrap(errors.ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteRepository{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS settings (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            warning_threshold INTEGER NOT NULL,
            voltage_minimum REAL NOT NULL,
            voltage_maximum REAL NOT NULL,
            report_interval INTEGER NOT NULL
        )
    `)
	if err != nil {
		return errors.Wrap(errors.ErrStorageInit, err)
	}

	return nil
}

func (r *sqliteRepository) Load() (Values, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var v Values
	err := r.db.QueryRow(`
        SELECT warning_threshold, voltage_minimum, voltage_maximum, report_interval
        FROM settings WHERE id = 1
    `).Scan(&v.WarningThreshold, &v.VoltageMinimum, &v.VoltageMaximum, &v.ReportInterval)
	if err == sql.ErrNoRows {
		return Values{}, false, nil
	}
	if err != nil {
		return Values{}, false, errors.Wrap(errors.ErrStorageAccess, err)
	}

	return v, true, nil
}

func (r *sqliteRepository) Save(v Values) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
        INSERT INTO settings (id, warning_threshold, voltage_minimum, voltage_maximum, report_interval)
        VALUES (1, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            warning_threshold = excluded.warning_threshold,
            voltage_minimum = excluded.voltage_minimum,
            voltage_maximum = excluded.voltage_maximum,
            report_interval = excluded.report_interval
    `,
		v.WarningThreshold,
		v.VoltageMinimum,
		v.VoltageMaximum,
		v.ReportInterval,
	)
	if err != nil {
		return errors.Wrap(errors.ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errors.Wrap(errors.ErrStorageClose, err)
	}
	return nil
}
