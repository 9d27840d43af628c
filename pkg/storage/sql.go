package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-hclog"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pixperk/pagelock/pkg/types"
)

const (
	PostgresDriverName = "postgres"
	MysqlDriverName    = "mysql"

	DefaultSQLTable = "pagelocks"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type SQLConfig struct {
	URL                   string        `yaml:"url"`
	Table                 string        `yaml:"table"`
	MaxOpenConnections    int           `yaml:"max_open_conns"`
	MaxIdleConnections    int           `yaml:"max_idle_conns"`
	ConnectionMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SQLStore keeps the lease table in Postgres or MySQL.
type SQLStore struct {
	cfg    SQLConfig
	logger hclog.Logger
	table  string
	sqldb  *sqlx.DB
}

// postgres URLs go to lib/pq, anything else is parsed as a MySQL DSN
func connection(url string) (driver, dsn string, err error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return PostgresDriverName, url, nil
	}

	cfg, err := mysql.ParseDSN(url)
	if err != nil {
		return "", "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return MysqlDriverName, cfg.FormatDSN(), nil
}

func NewSQLStore(ctx context.Context, cfg SQLConfig, logger hclog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.Table == "" {
		cfg.Table = DefaultSQLTable
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: table name %q", types.ErrInvalidArgument, cfg.Table)
	}

	driver, dsn, err := connection(cfg.URL)
	if err != nil {
		return nil, err
	}

	sqldb, err := sqlx.Open(driver, dsn)
	if err != nil {
		logger.Error("failed to open lease db", "driver", driver, "error", err)
		return nil, err
	}

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		logger.Error("failed to ping lease db", "driver", driver, "error", err)
		return nil, err
	}

	if cfg.MaxOpenConnections > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	if cfg.ConnectionMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)
	}

	return &SQLStore{
		cfg:    cfg,
		logger: logger,
		table:  cfg.Table,
		sqldb:  sqldb,
	}, nil
}

// EnsureSchema creates the lease table when it does not exist yet.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{}
	switch s.sqldb.DriverName() {
	case PostgresDriverName:
		stmts = append(stmts,
			"CREATE TABLE IF NOT EXISTS "+s.table+` (
				name VARCHAR(255) NOT NULL,
				session VARCHAR(255) NOT NULL,
				title VARCHAR(255) NOT NULL DEFAULT '',
				ipno VARCHAR(64) NOT NULL DEFAULT '',
				cdate TIMESTAMP NOT NULL,
				edate TIMESTAMP NOT NULL,
				PRIMARY KEY (name, session)
			)`,
			"CREATE INDEX IF NOT EXISTS "+s.table+"_edate_idx ON "+s.table+" (edate)",
		)
	default:
		stmts = append(stmts,
			"CREATE TABLE IF NOT EXISTS "+s.table+` (
				name VARCHAR(255) NOT NULL,
				session VARCHAR(255) NOT NULL,
				title VARCHAR(255) NOT NULL DEFAULT '',
				ipno VARCHAR(64) NOT NULL DEFAULT '',
				cdate DATETIME(6) NOT NULL,
				edate DATETIME(6) NOT NULL,
				PRIMARY KEY (name, session),
				INDEX edate_idx (edate)
			)`,
		)
	}

	for _, stmt := range stmts {
		if _, err := s.sqldb.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("failed to create lease table", "table", s.table, "error", err)
			return err
		}
	}
	return nil
}

type leaseRow struct {
	Name    string    `db:"name"`
	Session string    `db:"session"`
	Title   string    `db:"title"`
	Ipno    string    `db:"ipno"`
	Cdate   time.Time `db:"cdate"`
	Edate   time.Time `db:"edate"`
}

func (r leaseRow) lease() types.Lease {
	return types.Lease{
		Name:         r.Name,
		SessionID:    r.Session,
		OwnerTitle:   r.Title,
		OwnerAddress: r.Ipno,
		CreatedAt:    r.Cdate.UTC(),
		ExpiresAt:    r.Edate.UTC(),
	}
}

//nolint:gosec // table name is validated against tableNamePattern
func (s *SQLStore) CountActive(ctx context.Context, name, sessionID string, now time.Time) (int, error) {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return 0, err
	}

	var count int
	query := s.sqldb.Rebind("SELECT COUNT(*) FROM " + s.table + " WHERE name = ? AND session = ? AND edate > ?")
	if err := s.sqldb.GetContext(ctx, &count, query, name, sessionID, now.UTC()); err != nil {
		s.logger.Error("failed to count active leases", "name", name, "error", err)
		return 0, err
	}
	return count, nil
}

//nolint:gosec // table name is validated against tableNamePattern
func (s *SQLStore) QueryActive(ctx context.Context, name, excludeSessionID string, now time.Time) ([]types.Lease, error) {
	if err := types.ValidateKey(name, excludeSessionID); err != nil {
		return nil, err
	}

	var rows []leaseRow
	query := s.sqldb.Rebind("SELECT name, session, title, ipno, cdate, edate FROM " + s.table + " WHERE name = ? AND session != ? AND edate > ? ORDER BY cdate")
	if err := s.sqldb.SelectContext(ctx, &rows, query, name, excludeSessionID, now.UTC()); err != nil {
		s.logger.Error("failed to query active leases", "name", name, "error", err)
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]types.Lease, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.lease())
	}
	return out, nil
}

//nolint:gosec // table name is validated against tableNamePattern
func (s *SQLStore) Insert(ctx context.Context, lease types.Lease) error {
	if err := types.ValidateKey(lease.Name, lease.SessionID); err != nil {
		return err
	}

	query := s.sqldb.Rebind("INSERT INTO " + s.table + " (name, session, title, ipno, cdate, edate) VALUES (?, ?, ?, ?, ?, ?)")
	_, err := s.sqldb.ExecContext(ctx, query,
		lease.Name, lease.SessionID, lease.OwnerTitle, lease.OwnerAddress,
		dbTime(lease.CreatedAt), dbTime(lease.ExpiresAt))
	if err != nil {
		s.logger.Error("failed to insert lease", "name", lease.Name, "error", err)
		return err
	}
	return nil
}

//nolint:gosec // table name is validated against tableNamePattern
func (s *SQLStore) UpdateExpiry(ctx context.Context, name, sessionID string, expiresAt time.Time) error {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return err
	}

	query := s.sqldb.Rebind("UPDATE " + s.table + " SET edate = ? WHERE name = ? AND session = ?")
	if _, err := s.sqldb.ExecContext(ctx, query, dbTime(expiresAt), name, sessionID); err != nil {
		s.logger.Error("failed to update lease expiry", "name", name, "error", err)
		return err
	}
	return nil
}

//nolint:gosec // table name is validated against tableNamePattern
func (s *SQLStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	query := s.sqldb.Rebind("DELETE FROM " + s.table + " WHERE edate < ?")
	res, err := s.sqldb.ExecContext(ctx, query, now.UTC())
	if err != nil {
		s.logger.Error("failed to delete expired leases", "error", err)
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

//nolint:gosec // table name is validated against tableNamePattern
func (s *SQLStore) DeleteByName(ctx context.Context, name, sessionID string) error {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return err
	}

	query := s.sqldb.Rebind("DELETE FROM " + s.table + " WHERE name = ? AND session = ?")
	if _, err := s.sqldb.ExecContext(ctx, query, name, sessionID); err != nil {
		s.logger.Error("failed to delete lease", "name", name, "error", err)
		return err
	}
	return nil
}

// columns keep microseconds and mysql rounds finer digits up, so the
// stored expiry is truncated to never outlive the computed one
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// DropSchema removes the lease table, used by tests.
func (s *SQLStore) DropSchema(ctx context.Context) error {
	_, err := s.sqldb.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.table)
	return err
}

func (s *SQLStore) Close() error {
	err := s.sqldb.Close()
	if err != nil {
		s.logger.Error("failed to close lease db", "error", err)
		return err
	}
	return nil
}
