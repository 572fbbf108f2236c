package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/reelpool/internal/config"
	"github.com/jmylchreest/reelpool/internal/preload"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrItemNotFound is returned when an item id is not in the catalog.
var ErrItemNotFound = errors.New("item not found")

// Store is the catalog database.
type Store struct {
	db       *gorm.DB
	cacheDir string
	logger   *slog.Logger
}

// Open connects to the configured database and applies pending migrations.
// Relative cached paths are resolved against cacheDir.
func Open(ctx context.Context, cfg config.DatabaseConfig, cacheDir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("getting dialector: %w", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 &slogGormLogger{logger: log, level: gormLogLevel(cfg.LogLevel)},
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if cfg.Driver == "sqlite" && isMemoryDSN(cfg.DSN) {
		// Every connection to :memory: is a separate database
		maxOpen, maxIdle = 1, 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	s := &Store{db: db, cacheDir: cacheDir, logger: log}

	applied, err := migrate(ctx, db, log)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.DebugContext(ctx, "catalog opened",
		slog.String("driver", cfg.Driver),
		slog.Int("migrations_applied", applied))

	return s, nil
}

// dialectorFor returns the GORM dialector for the configured driver.
func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		// Pure Go driver; PRAGMAs are applied to every pooled connection via the DSN
		dsn := cfg.DSN
		if strings.Contains(dsn, "?") {
			dsn += "&"
		} else {
			dsn += "?"
		}
		dsn += "_pragma=busy_timeout(10000)&_pragma=foreign_keys(ON)"
		if !isMemoryDSN(cfg.DSN) {
			dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
		}
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func isMemoryDSN(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Feed returns the catalog as an ordered feed snapshot. Threads without items
// are omitted.
func (s *Store) Feed(ctx context.Context) (preload.Feed, error) {
	var threads []Thread
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC").Order("id ASC")
		}).
		Order("position ASC").Order("slug ASC").
		Find(&threads).Error
	if err != nil {
		return preload.Feed{}, fmt.Errorf("loading feed: %w", err)
	}

	feed := preload.Feed{Threads: make([]preload.Thread, 0, len(threads))}
	for _, t := range threads {
		if len(t.Items) == 0 {
			continue
		}
		ids := make([]string, len(t.Items))
		for i, item := range t.Items {
			ids[i] = item.ID
		}
		feed.Threads = append(feed.Threads, preload.Thread{ID: t.Slug, Items: ids})
	}
	return feed, nil
}

// Item returns one item by id.
func (s *Store) Item(ctx context.Context, id string) (*Item, error) {
	var item Item
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading item %s: %w", id, err)
	}
	return &item, nil
}

// Resolve returns the playable location for an item: the cached copy when it
// exists on disk, otherwise the recorded location.
func (s *Store) Resolve(ctx context.Context, id string) (string, error) {
	item, err := s.Item(ctx, id)
	if err != nil {
		return "", err
	}

	if item.CachedPath != "" {
		path := item.CachedPath
		if !filepath.IsAbs(path) && s.cacheDir != "" {
			path = filepath.Join(s.cacheDir, path)
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
		s.logger.DebugContext(ctx, "cached copy missing, using remote location",
			slog.String("item_id", id),
			slog.String("cached_path", path))
	}

	if item.Location == "" {
		return "", fmt.Errorf("item %s has no location", id)
	}
	return item.Location, nil
}

// Counts reports the number of threads and items in the catalog.
func (s *Store) Counts(ctx context.Context) (threads, items int64, err error) {
	if err = s.db.WithContext(ctx).Model(&Thread{}).Count(&threads).Error; err != nil {
		return 0, 0, err
	}
	if err = s.db.WithContext(ctx).Model(&Item{}).Count(&items).Error; err != nil {
		return 0, 0, err
	}
	return threads, items, nil
}

// gormLogLevel maps string log levels to GORM logger levels.
func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

const slowQueryThreshold = 500 * time.Millisecond

// slogGormLogger implements GORM's logger.Interface using slog.
type slogGormLogger struct {
	logger *slog.Logger
	level  logger.LogLevel
}

func (l *slogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &slogGormLogger{logger: l.logger, level: level}
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		sql, rows := fc()
		l.logger.ErrorContext(ctx, "database error",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
	case elapsed > slowQueryThreshold && l.level >= logger.Warn:
		sql, rows := fc()
		l.logger.WarnContext(ctx, "slow query",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed))
	case l.level >= logger.Info && l.logger.Enabled(ctx, slog.LevelDebug):
		sql, rows := fc()
		l.logger.DebugContext(ctx, "database query",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed))
	}
}
