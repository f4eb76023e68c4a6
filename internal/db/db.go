package db

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/pkg/config"
	"github.com/postpilot/postpilot/pkg/logging"
)

//go:embed migrations/*.sql
var migrations embed.FS

// zapWriter adapts zap.Logger to logger.Writer interface
type zapWriter struct {
	logger *zap.Logger
}

func (w *zapWriter) Printf(format string, args ...interface{}) {
	w.logger.Sugar().Infof(format, args...)
}

// DB wraps GORM database connection
type DB struct {
	*gorm.DB
}

func gormLogLevel(logLevel string) logger.LogLevel {
	switch logLevel {
	case "DEBUG", "debug":
		return logger.Info
	case "INFO", "info":
		return logger.Warn
	case "WARN", "warn", "WARNING", "warning":
		return logger.Error
	case "ERROR", "error":
		return logger.Silent
	default:
		return logger.Warn
	}
}

// Open opens a connection through any gorm dialector with SQL logging routed to zap
func Open(dialector gorm.Dialector, logLevel string) (*DB, error) {
	writer := &zapWriter{logger: logging.WithComponent("gorm")}
	gormLogger := logger.New(
		writer,
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogLevel(logLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		// unique violations surface as gorm.ErrDuplicatedKey on every driver
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{DB: db}, nil
}

// SQLitePrefix selects a single-node SQLite database file instead of PostgreSQL
const SQLitePrefix = "sqlite://"

// New creates a new PostgreSQL connection, or a SQLite one for sqlite:// URLs
func New(cfg *config.DatabaseConfig, logLevel string) (*DB, error) {
	if path, ok := strings.CutPrefix(cfg.URL, SQLitePrefix); ok {
		return newSQLite(path, logLevel)
	}

	d, err := Open(postgres.Open(cfg.URL), logLevel)
	if err != nil {
		return nil, err
	}

	// Get underlying sql.DB for connection pool configuration
	sqlDB, err := d.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.GetLogger().Info("Database connection established")

	if cfg.AutoMigrate {
		if err := d.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func newSQLite(path, logLevel string) (*DB, error) {
	d, err := Open(sqlite.Open(path+"?_busy_timeout=5000"), logLevel)
	if err != nil {
		return nil, err
	}
	sqlDB, err := d.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// one writer keeps conditional updates serialized
	sqlDB.SetMaxOpenConns(1)
	if err := d.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	logging.GetLogger().Info("SQLite database opened", zap.String("path", path))
	return d, nil
}

// Migrate applies the embedded goose migrations (PostgreSQL)
func (d *DB) Migrate(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("failed to get DB version: %w", err)
	}
	logging.GetLogger().Info("Migrations applied", zap.Int64("version", version))
	return nil
}

// AutoMigrate creates the schema from the models; used for SQLite and tests
func (d *DB) AutoMigrate() error {
	return d.DB.AutoMigrate(&models.Account{}, &models.Post{}, &models.AutoReplyRule{}, &models.AutoReply{})
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks database health
func (d *DB) Health(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
