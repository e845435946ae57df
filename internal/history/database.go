package history

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dragonrift/encounter/internal/config"
)

// Manager owns the database connection the recorder writes through.
type Manager struct {
	DB     *gorm.DB
	sqlDB  *sql.DB
	local  bool
	logger *slog.Logger
}

// NewManager creates an unconnected database manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Connect opens the configured database. A failing Postgres connection
// degrades to the local SQLite file so history is never silently dropped.
func (m *Manager) Connect(cfg config.DatabaseConfig) error {
	var err error

	switch cfg.Driver {
	case "postgres":
		m.DB, err = openPostgres(cfg)
		if err == nil {
			err = m.ping()
		}
		if err != nil {
			m.logger.Error("postgres connection failed, falling back to sqlite",
				"host", cfg.Host, "error", err)
			m.DB, err = openSqlite(cfg.Path)
			m.local = true
		}
	case "sqlite", "":
		m.DB, err = openSqlite(cfg.Path)
		m.local = true
	default:
		return fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}

	if err := m.ping(); err != nil {
		return fmt.Errorf("validating history database: %w", err)
	}
	if !m.local {
		m.sqlDB.SetMaxOpenConns(10)
	}
	m.logger.Info("history database connected", "driver", m.DB.Dialector.Name(), "local", m.local)
	return nil
}

func (m *Manager) ping() error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	m.sqlDB = sqlDB
	return sqlDB.Ping()
}

// Setup migrates the schema.
func (m *Manager) Setup() error {
	if err := m.DB.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("migrating history schema: %w", err)
	}
	return nil
}

// Local reports whether the manager degraded to the SQLite fallback.
func (m *Manager) Local() bool {
	return m.local
}

// Close closes the underlying connection.
func (m *Manager) Close() error {
	if m.sqlDB == nil {
		return nil
	}
	return m.sqlDB.Close()
}

func openPostgres(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)

	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// openSqlite opens the file at path, or an in-memory database when path is
// empty.
func openSqlite(path string) (*gorm.DB, error) {
	if path == "" {
		path = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}
	return db, nil
}
