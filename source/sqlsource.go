package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// SQLConfig is the JSON source_config shape for source_type "database".
type SQLConfig struct {
	Driver   string `json:"driver"` // mysql, postgres, mssql, sqlite
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"` // file path for sqlite
	SSLMode  string `json:"ssl_mode"`
	// DSN overrides the assembled connection string when set.
	DSN string `json:"dsn,omitempty"`
}

// SQLSource executes a SQL query over database/sql.
type SQLSource struct {
	db    *sql.DB
	cfg   SQLConfig
	query string
}

// NewSQLSource opens a connection pool for the configured driver.
func NewSQLSource(cfg SQLConfig, query string) (*SQLSource, error) {
	driver, dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, NewError(KindConnection, err, fmt.Sprintf("open %s connection", cfg.Driver))
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &SQLSource{db: db, cfg: cfg, query: query}, nil
}

// newSQLSourceWithDB wires an existing handle, for tests.
func newSQLSourceWithDB(db *sql.DB, query string) *SQLSource {
	return &SQLSource{db: db, query: query}
}

// ParseSQLConfig decodes the JSON source_config for a database source.
func ParseSQLConfig(configJSON string) (SQLConfig, error) {
	var cfg SQLConfig
	if configJSON == "" {
		return cfg, NewError(KindConfig, nil, "database source requires a source_config")
	}
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return cfg, NewError(KindConfig, err, "invalid database source_config")
	}
	if cfg.Driver == "" {
		return cfg, NewError(KindConfig, nil, "database source_config missing driver")
	}
	return cfg, nil
}

func buildDSN(cfg SQLConfig) (driver, dsn string, err error) {
	if cfg.DSN != "" {
		driver = driverName(cfg.Driver)
		if driver == "" {
			return "", "", NewError(KindConfig, nil, fmt.Sprintf("unsupported driver: %s", cfg.Driver))
		}
		return driver, cfg.DSN, nil
	}

	switch cfg.Driver {
	case "mysql":
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			cfg.User, cfg.Password, cfg.Host, port, cfg.Database)
		if cfg.SSLMode == "disable" {
			dsn += "&tls=false"
		} else if cfg.SSLMode != "" {
			dsn += "&tls=true"
		}
		return "mysql", dsn, nil

	case "postgres":
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, port, cfg.User, cfg.Password, cfg.Database, sslMode)
		return "postgres", dsn, nil

	case "mssql":
		port := cfg.Port
		if port == 0 {
			port = 1433
		}
		dsn = fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
			cfg.User, cfg.Password, cfg.Host, port, cfg.Database)
		if cfg.SSLMode == "disable" {
			dsn += "&encrypt=disable"
		}
		return "sqlserver", dsn, nil

	case "sqlite":
		if cfg.Database == "" {
			return "", "", NewError(KindConfig, nil, "sqlite source requires a database path")
		}
		return "sqlite3", cfg.Database, nil

	default:
		return "", "", NewError(KindConfig, nil, fmt.Sprintf("unsupported driver: %s", cfg.Driver))
	}
}

func driverName(driver string) string {
	switch driver {
	case "mysql":
		return "mysql"
	case "postgres":
		return "postgres"
	case "mssql":
		return "sqlserver"
	case "sqlite":
		return "sqlite3"
	default:
		return ""
	}
}

// Fetch runs the query and scans every row into a field map.
func (s *SQLSource) Fetch(ctx context.Context) (*Result, error) {
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, classify(ctx, err, KindQuery, "execute query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, NewError(KindQuery, err, "read result columns")
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, NewError(KindDecode, err, "scan row")
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			// Drivers hand back []byte for text columns; keep rows
			// JSON-serializable.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, err, KindConnection, "iterate rows")
	}

	return result, nil
}

// Test pings the server and runs the query, reporting a sample.
func (s *SQLSource) Test(ctx context.Context) *TestReport {
	if err := s.db.PingContext(ctx); err != nil {
		return &TestReport{Success: false, Message: fmt.Sprintf("connection failed: %v", err)}
	}

	result, err := s.Fetch(ctx)
	if err != nil {
		return &TestReport{Success: false, Message: err.Error()}
	}

	return &TestReport{
		Success:    true,
		Message:    fmt.Sprintf("query valid, returned %d rows", len(result.Rows)),
		Columns:    result.Columns,
		RowCount:   len(result.Rows),
		SampleRows: sampleRows(result.Rows, 5),
	}
}

// Fields runs the query and guesses a type per column from the first row.
func (s *SQLSource) Fields(ctx context.Context) ([]Field, error) {
	result, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return fieldsFromResult(result), nil
}

// Close releases the connection pool.
func (s *SQLSource) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func sampleRows(rows []Row, n int) []Row {
	if len(rows) <= n {
		return rows
	}
	return rows[:n]
}

func fieldsFromResult(result *Result) []Field {
	fields := make([]Field, 0, len(result.Columns))

	var sample Row
	if len(result.Rows) > 0 {
		sample = result.Rows[0]
	}

	for _, col := range result.Columns {
		field := Field{Name: col, Type: "text"}
		if sample != nil {
			if v, ok := sample.Lookup(col); ok && v != nil {
				field.Type = guessType(v)
				field.Sample = truncate(FormatValue(v), 100)
			}
		}
		fields = append(fields, field)
	}
	return fields
}

func guessType(v any) string {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return "number"
	case time.Time:
		return "date"
	default:
		return "text"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
