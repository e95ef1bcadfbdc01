package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/shared"
	_ "modernc.org/sqlite"
)

const listLimit = 500

var tables = map[domain.EntityType]string{
	domain.EntityOwner:          "owners",
	domain.EntityUser:           "users",
	domain.EntityDriver:         "users",
	domain.EntityCustomer:       "users",
	domain.EntityVehicle:        "vehicles",
	domain.EntityTrip:           "trips",
	domain.EntityLoad:           "loads",
	domain.EntityExpense:        "expenses",
	domain.EntityLocationUpdate: "location_updates",
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serialises turn session writes to avoid SQLITE_BUSY
	now       func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Pragmas are applied per connection so every pooled connection enforces foreign keys.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS owners (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		company_name TEXT NOT NULL,
		business_address TEXT,
		contact_email TEXT,
		phone TEXT,
		gst_number TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_owners_company ON owners(LOWER(company_name));

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER REFERENCES owners(id),
		full_name TEXT NOT NULL,
		email TEXT,
		phone_number TEXT,
		role TEXT NOT NULL CHECK (role IN ('driver', 'customer', 'owner')),
		license_number TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));
	CREATE INDEX IF NOT EXISTS idx_users_phone ON users(phone_number);

	CREATE TABLE IF NOT EXISTS vehicles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL REFERENCES owners(id),
		plate TEXT NOT NULL UNIQUE,
		capacity_kg REAL NOT NULL,
		vehicle_type TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trips (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		driver_id INTEGER NOT NULL REFERENCES users(id),
		vehicle_id INTEGER NOT NULL REFERENCES vehicles(id),
		status TEXT NOT NULL DEFAULT 'scheduled',
		origin TEXT,
		destination TEXT,
		start_time TEXT,
		end_time TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS loads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL REFERENCES users(id),
		trip_id INTEGER REFERENCES trips(id),
		pickup_address TEXT NOT NULL,
		destination_address TEXT NOT NULL,
		weight_kg REAL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loads_trip ON loads(trip_id);

	CREATE TABLE IF NOT EXISTS expenses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		driver_id INTEGER NOT NULL REFERENCES users(id),
		trip_id INTEGER REFERENCES trips(id),
		amount REAL NOT NULL CHECK (amount > 0),
		expense_type TEXT NOT NULL,
		description TEXT,
		receipt_url TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_expenses_trip ON expenses(trip_id);
	CREATE INDEX IF NOT EXISTS idx_expenses_driver ON expenses(driver_id);

	CREATE TABLE IF NOT EXISTS location_updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trip_id INTEGER NOT NULL REFERENCES trips(id),
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		speed_kmh REAL,
		address TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_location_updates_trip ON location_updates(trip_id);

	CREATE TABLE IF NOT EXISTS turn_sessions (
		session_key TEXT PRIMARY KEY,
		intent TEXT NOT NULL DEFAULT '',
		entities_json TEXT NOT NULL DEFAULT '{}',
		pending_json TEXT NOT NULL DEFAULT '[]',
		iterations INTEGER NOT NULL DEFAULT 0,
		focus_trip_id INTEGER NOT NULL DEFAULT 0,
		history_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turn_sessions_updated ON turn_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func schemaAndTable(entity domain.EntityType) (domain.Schema, string, error) {
	schema, ok := domain.SchemaFor(entity)
	table, hasTable := tables[entity]
	if !ok || !hasTable {
		return domain.Schema{}, "", fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	return schema, table, nil
}

func selectColumns(schema domain.Schema) string {
	cols := make([]string, 0, len(schema.Fields)+1)
	cols = append(cols, "id")
	for _, f := range schema.Fields {
		cols = append(cols, f.Name)
	}
	return strings.Join(cols, ", ")
}

// roleClause restricts user-backed entity types to their role.
func roleClause(schema domain.Schema) (string, []any) {
	if schema.Role == "" {
		return "", nil
	}
	return " AND role = ?", []any{schema.Role}
}

// Lookup returns ids whose field matches value case-insensitively.
func (s *SQLiteStore) Lookup(ctx context.Context, entity domain.EntityType, field, value string) ([]int64, error) {
	schema, table, err := schemaAndTable(entity)
	if err != nil {
		return nil, err
	}
	f, ok := schema.Field(field)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, entity, field)
	}

	value = strings.TrimSpace(value)
	if field == "plate" {
		value = domain.NormalizePlate(value)
	}

	where := field + " = ?"
	if f.Kind == domain.KindText {
		where = "LOWER(" + field + ") = LOWER(?)"
	}
	roleSQL, roleArgs := roleClause(schema)
	query := "SELECT id FROM " + table + " WHERE " + where + roleSQL + " ORDER BY id"
	args := append([]any{value}, roleArgs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup %s by %s: %w", entity, field, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close lookup rows", "error", closeErr)
		}
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan lookup row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lookup rows: %w", err)
	}
	return ids, nil
}

// Create inserts a new record.
func (s *SQLiteStore) Create(ctx context.Context, entity domain.EntityType, fields map[string]any) (domain.Record, error) {
	schema, table, err := schemaAndTable(entity)
	if err != nil {
		return nil, err
	}

	values, err := columnValues(schema, fields, false)
	if err != nil {
		return nil, err
	}
	if schema.Role != "" {
		values["role"] = schema.Role
	}

	now := s.now().Unix()
	values["created_at"] = now
	values["updated_at"] = now

	cols := sortedKeys(values)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = values[c]
	}

	query := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrapWriteError("insert "+string(entity), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.Get(ctx, entity, id)
}

// Get returns one record by id.
func (s *SQLiteStore) Get(ctx context.Context, entity domain.EntityType, id int64) (domain.Record, error) {
	schema, table, err := schemaAndTable(entity)
	if err != nil {
		return nil, err
	}
	roleSQL, roleArgs := roleClause(schema)
	query := "SELECT " + selectColumns(schema) + " FROM " + table + " WHERE id = ?" + roleSQL

	rows, err := s.db.QueryContext(ctx, query, append([]any{id}, roleArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", entity, err)
	}
	records, err := scanRecords(rows, schema)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
	}
	return records[0], nil
}

// Update changes updatable fields of a record.
func (s *SQLiteStore) Update(ctx context.Context, entity domain.EntityType, id int64, fields map[string]any) (domain.Record, error) {
	schema, table, err := schemaAndTable(entity)
	if err != nil {
		return nil, err
	}
	values, err := columnValues(schema, fields, true)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", ErrUnknownField)
	}
	values["updated_at"] = s.now().Unix()

	cols := sortedKeys(values)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+2)
	for i, c := range cols {
		sets[i] = c + " = ?"
		args = append(args, values[c])
	}
	args = append(args, id)
	roleSQL, roleArgs := roleClause(schema)
	args = append(args, roleArgs...)

	query := "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE id = ?" + roleSQL
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrapWriteError("update "+string(entity), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
	}
	return s.Get(ctx, entity, id)
}

// List returns records filtered by one field, newest last.
func (s *SQLiteStore) List(ctx context.Context, entity domain.EntityType, field string, value any) ([]domain.Record, error) {
	schema, table, err := schemaAndTable(entity)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + selectColumns(schema) + " FROM " + table + " WHERE 1 = 1"
	var args []any
	if field != "" {
		if _, ok := schema.Field(field); !ok && field != "id" {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, entity, field)
		}
		query += " AND " + field + " = ?"
		args = append(args, value)
	}
	roleSQL, roleArgs := roleClause(schema)
	query += roleSQL + fmt.Sprintf(" ORDER BY id LIMIT %d", listLimit)
	args = append(args, roleArgs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entity, err)
	}
	return scanRecords(rows, schema)
}

func scanRecords(rows *sql.Rows, schema domain.Schema) ([]domain.Record, error) {
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close record rows", "error", closeErr)
		}
	}()

	names := make([]string, 0, len(schema.Fields)+1)
	names = append(names, "id")
	for _, f := range schema.Fields {
		names = append(names, f.Name)
	}

	var records []domain.Record
	for rows.Next() {
		raw := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", schema.Type, err)
		}
		rec := make(domain.Record, len(names))
		for i, name := range names {
			if b, ok := raw[i].([]byte); ok {
				rec[name] = string(b)
				continue
			}
			rec[name] = raw[i]
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", schema.Type, err)
	}
	return records, nil
}

// columnValues validates field names against the schema and coerces values to column types.
func columnValues(schema domain.Schema, fields map[string]any, forUpdate bool) (map[string]any, error) {
	out := make(map[string]any, len(fields)+3)
	for name, v := range fields {
		f, ok := schema.Field(name)
		if !ok || (name == "role" && schema.Role != "") {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, schema.Type, name)
		}
		if forUpdate && !f.Updatable {
			return nil, fmt.Errorf("%w: %s.%s", ErrReadOnlyField, schema.Type, name)
		}
		if v == nil {
			out[name] = nil
			continue
		}
		switch f.Kind {
		case domain.KindID:
			id, ok := domain.AsInt64(v)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s is not an id", ErrConstraint, schema.Type, name)
			}
			out[name] = id
		case domain.KindNumber:
			n, ok := domain.AsFloat(v)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s is not a number", ErrConstraint, schema.Type, name)
			}
			out[name] = n
		default:
			text, _ := domain.AsText(v)
			if name == "plate" {
				text = domain.NormalizePlate(text)
			}
			out[name] = text
		}
	}
	return out, nil
}

func wrapWriteError(op string, err error) error {
	if shared.IsSQLiteConstraintError(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrConstraint, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
