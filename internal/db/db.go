package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"regulation-rag/internal/config"
	"regulation-rag/internal/vectordb"
)

// PostgresIndex implements vectordb.Index with one pgvector table per
// collection.
type PostgresIndex struct {
	db *bun.DB
}

var _ vectordb.Index = (*PostgresIndex)(nil)

// ConnectDB opens a *sql.DB with the configured driver
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.PostgresDSN()
	switch cfg.Driver {
	case config.DriverPQ:
		return sql.Open("postgres", dsn)
	case config.DriverPgx:
		return sql.Open("pgx", dsn)
	default:
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), nil
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func NewPostgresIndex(db *bun.DB) *PostgresIndex {
	return &PostgresIndex{db: db}
}

// Open connects, pings and returns a ready index
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*PostgresIndex, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db := NewDB(sqldb, cfg.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewPostgresIndex(db), nil
}

// quoteIdent quotes a name for use inside a bun.Safe fragment
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func columnDefinition(f vectordb.Field) (string, error) {
	var typ string
	switch f.Type {
	case vectordb.FieldInt64:
		typ = "BIGINT"
		if f.AutoID {
			typ += " GENERATED ALWAYS AS IDENTITY"
		}
	case vectordb.FieldVarchar:
		typ = "TEXT"
		if f.MaxLength > 0 {
			typ = fmt.Sprintf("VARCHAR(%d)", f.MaxLength)
		}
	case vectordb.FieldFloatVector:
		if f.Dim <= 0 {
			return "", fmt.Errorf("vector field %s needs a dimension", f.Name)
		}
		typ = fmt.Sprintf("vector(%d)", f.Dim)
	default:
		return "", fmt.Errorf("unsupported field type %q for %s", f.Type, f.Name)
	}
	if f.Primary {
		typ += " PRIMARY KEY"
	}
	return quoteIdent(f.Name) + " " + typ, nil
}

var (
	varcharType = regexp.MustCompile(`^character varying\((\d+)\)$`)
	vectorType  = regexp.MustCompile(`^vector\((\d+)\)$`)
)

// parseColumnType maps a format_type() string back to a field
func parseColumnType(name, typ string) (vectordb.Field, bool) {
	f := vectordb.Field{Name: name}
	switch {
	case typ == "bigint" || typ == "integer":
		f.Type = vectordb.FieldInt64
	case typ == "text" || typ == "character varying":
		f.Type = vectordb.FieldVarchar
	case varcharType.MatchString(typ):
		f.Type = vectordb.FieldVarchar
		f.MaxLength, _ = strconv.Atoi(varcharType.FindStringSubmatch(typ)[1])
	case vectorType.MatchString(typ):
		f.Type = vectordb.FieldFloatVector
		f.Dim, _ = strconv.Atoi(vectorType.FindStringSubmatch(typ)[1])
	default:
		return f, false
	}
	return f, true
}

// distanceOperator returns the pgvector operator for metric and a function
// turning its distance into a score where larger is better.
func distanceOperator(metric vectordb.Metric) (string, func(float64) float32, error) {
	switch metric {
	case vectordb.MetricIP, "":
		// <#> is the negative inner product
		return "<#>", func(d float64) float32 { return float32(-d) }, nil
	case vectordb.MetricCosine:
		return "<=>", func(d float64) float32 { return float32(1 - d) }, nil
	case vectordb.MetricL2:
		return "<->", func(d float64) float32 { return float32(-d) }, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", vectordb.ErrUnsupportedMetric, metric)
	}
}

func operatorClass(metric vectordb.Metric) (string, error) {
	switch metric {
	case vectordb.MetricIP, "":
		return "vector_ip_ops", nil
	case vectordb.MetricCosine:
		return "vector_cosine_ops", nil
	case vectordb.MetricL2:
		return "vector_l2_ops", nil
	default:
		return "", fmt.Errorf("%w: %s", vectordb.ErrUnsupportedMetric, metric)
	}
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func (p *PostgresIndex) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := p.db.NewRaw(
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?)",
		name,
	).Scan(ctx, &exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return exists, nil
}

func (p *PostgresIndex) mustExist(ctx context.Context, name string) error {
	ok, err := p.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", vectordb.ErrCollectionNotFound, name)
	}
	return nil
}

func (p *PostgresIndex) Create(ctx context.Context, name string, schema vectordb.Schema) error {
	defs := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		def, err := columnDefinition(f)
		if err != nil {
			return err
		}
		defs = append(defs, def)
	}

	return p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to enable pgvector: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "CREATE TABLE ? (?)", bun.Ident(name), bun.Safe(strings.Join(defs, ", "))); err != nil {
			return fmt.Errorf("failed to create table %s: %w", name, err)
		}
		if schema.Description != "" {
			if _, err := tx.ExecContext(ctx, "COMMENT ON TABLE ? IS ?", bun.Ident(name), schema.Description); err != nil {
				return fmt.Errorf("failed to describe table %s: %w", name, err)
			}
		}
		return nil
	})
}

func (p *PostgresIndex) Drop(ctx context.Context, name string) error {
	if _, err := p.db.ExecContext(ctx, "DROP TABLE IF EXISTS ?", bun.Ident(name)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	return nil
}

func (p *PostgresIndex) Describe(ctx context.Context, name string) (vectordb.Schema, error) {
	if err := p.mustExist(ctx, name); err != nil {
		return vectordb.Schema{}, err
	}

	rows, err := p.db.QueryContext(ctx, `
SELECT a.attname,
       format_type(a.atttypid, a.atttypmod),
       EXISTS (SELECT 1 FROM pg_index i WHERE i.indrelid = a.attrelid AND i.indisprimary AND a.attnum = ANY(i.indkey)),
       a.attidentity <> ''
FROM pg_attribute a
WHERE a.attrelid = ?::regclass AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`, quoteIdent(name))
	if err != nil {
		return vectordb.Schema{}, fmt.Errorf("failed to describe %s: %w", name, err)
	}
	defer rows.Close()

	var schema vectordb.Schema
	for rows.Next() {
		var col, typ string
		var primary, identity bool
		if err := rows.Scan(&col, &typ, &primary, &identity); err != nil {
			return vectordb.Schema{}, err
		}
		f, ok := parseColumnType(col, typ)
		if !ok {
			log.Debug().Str("table", name).Str("column", col).Str("type", typ).Msg("Skipping column of unsupported type")
			continue
		}
		f.Primary = primary
		f.AutoID = identity
		schema.Fields = append(schema.Fields, f)
	}
	if err := rows.Err(); err != nil {
		return vectordb.Schema{}, err
	}

	err = p.db.NewRaw("SELECT COALESCE(obj_description(?::regclass, 'pg_class'), '')", quoteIdent(name)).Scan(ctx, &schema.Description)
	if err != nil {
		return vectordb.Schema{}, fmt.Errorf("failed to read description of %s: %w", name, err)
	}
	return schema, nil
}

func (p *PostgresIndex) HasIndex(ctx context.Context, name string) (bool, error) {
	var has bool
	err := p.db.NewRaw(`
SELECT EXISTS (
  SELECT 1 FROM pg_indexes
  WHERE schemaname = current_schema() AND tablename = ?
    AND (indexdef ILIKE '%USING hnsw%' OR indexdef ILIKE '%USING ivfflat%')
)`, name).Scan(ctx, &has)
	if err != nil {
		return false, fmt.Errorf("failed to list indexes of %s: %w", name, err)
	}
	return has, nil
}

// BuildIndex creates an HNSW index, or IVFFlat when params.Type is IVF_FLAT
func (p *PostgresIndex) BuildIndex(ctx context.Context, name, field string, params vectordb.IndexParams) error {
	ops, err := operatorClass(params.Metric)
	if err != nil {
		return err
	}

	method, with := "hnsw", ""
	if strings.EqualFold(params.Type, "IVF_FLAT") {
		method = "ivfflat"
		lists, ok := intParam(params.Params, "nlist")
		if !ok {
			lists = 100
		}
		with = fmt.Sprintf(" WITH (lists = %d)", lists)
	}

	_, err = p.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS ? ON ? USING ? (? ?)?",
		bun.Ident(name+"_"+field+"_idx"), bun.Ident(name), bun.Safe(method), bun.Ident(field), bun.Safe(ops), bun.Safe(with))
	if err != nil {
		return fmt.Errorf("failed to build index on %s.%s: %w", name, field, err)
	}
	return nil
}

// IndexBuildProgress reports in-flight builds from pg_stat_progress_create_index.
// With no build running the index is complete.
func (p *PostgresIndex) IndexBuildProgress(ctx context.Context, name string) (vectordb.Progress, error) {
	var done, total int64
	err := p.db.NewRaw(
		"SELECT COALESCE(SUM(tuples_done), 0), COALESCE(SUM(tuples_total), 0) FROM pg_stat_progress_create_index WHERE relid = ?::regclass",
		quoteIdent(name),
	).Scan(ctx, &done, &total)
	if err != nil {
		return vectordb.Progress{}, fmt.Errorf("failed to read index progress of %s: %w", name, err)
	}
	if total > 0 {
		return vectordb.Progress{Indexed: done, Total: total}, nil
	}

	n, err := p.Count(ctx, name)
	if err != nil {
		return vectordb.Progress{}, err
	}
	return vectordb.Progress{Indexed: n, Total: n}, nil
}

// Load checks the table exists; Postgres serves from shared buffers on demand
func (p *PostgresIndex) Load(ctx context.Context, name string) error {
	return p.mustExist(ctx, name)
}

// Flush refreshes planner statistics after a bulk load
func (p *PostgresIndex) Flush(ctx context.Context, name string) error {
	if _, err := p.db.ExecContext(ctx, "ANALYZE ?", bun.Ident(name)); err != nil {
		return fmt.Errorf("failed to analyze %s: %w", name, err)
	}
	return nil
}

func (p *PostgresIndex) Count(ctx context.Context, name string) (int64, error) {
	var n int64
	if err := p.db.NewRaw("SELECT count(*) FROM ?", bun.Ident(name)).Scan(ctx, &n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", name, err)
	}
	return n, nil
}

// insertQuery builds one multi-row INSERT for the batch
func insertQuery(name string, columns []vectordb.Column, rows int) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, 1+len(columns)*(rows+1))

	sb.WriteString("INSERT INTO ? (")
	args = append(args, bun.Ident(name))
	for i, c := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("?")
		args = append(args, bun.Ident(c.Field))
	}
	sb.WriteString(") VALUES ")

	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for i, c := range columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			if c.Vectors != nil {
				sb.WriteString("?::vector")
				args = append(args, pgvector.NewVector(c.Vectors[r]))
			} else {
				sb.WriteString("?")
				args = append(args, c.Strings[r])
			}
		}
		sb.WriteString(")")
	}
	return sb.String(), args
}

func (p *PostgresIndex) Insert(ctx context.Context, name string, columns []vectordb.Column) (int, error) {
	schema, err := p.Describe(ctx, name)
	if err != nil {
		return 0, err
	}
	rows, err := vectordb.ValidateColumns(schema, columns)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, nil
	}

	query, args := insertQuery(name, columns, rows)
	err = p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", name, err)
	}
	return rows, nil
}

// searchQuery selects the id, the requested fields (NULL as empty string)
// and the distance, nearest first.
func searchQuery(name string, req vectordb.SearchRequest, op string) (string, []any) {
	var sb strings.Builder
	args := []any{bun.Ident(vectordb.FieldID)}

	sb.WriteString("SELECT ?::text")
	for _, f := range req.OutputFields {
		sb.WriteString(", COALESCE(?::text, '')")
		args = append(args, bun.Ident(f))
	}
	sb.WriteString(", ? ? ?::vector AS distance FROM ? ORDER BY distance LIMIT ?")
	args = append(args, bun.Ident(req.VectorField), bun.Safe(op), pgvector.NewVector(req.Vector), bun.Ident(name), req.TopK)
	return sb.String(), args
}

func (p *PostgresIndex) Search(ctx context.Context, name string, req vectordb.SearchRequest) ([]vectordb.SearchResult, error) {
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("top k must be positive, got %d", req.TopK)
	}
	op, score, err := distanceOperator(req.Metric)
	if err != nil {
		return nil, err
	}
	query, args := searchQuery(name, req, op)

	var results []vectordb.SearchResult
	err = p.db.RunInTx(ctx, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx bun.Tx) error {
		if n, ok := intParam(req.Params, "nprobe"); ok {
			if _, err := tx.ExecContext(ctx, "SET LOCAL ivfflat.probes = ?", n); err != nil {
				return err
			}
		}
		if n, ok := intParam(req.Params, "ef"); ok {
			if _, err := tx.ExecContext(ctx, "SET LOCAL hnsw.ef_search = ?", n); err != nil {
				return err
			}
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			var distance float64
			values := make([]string, len(req.OutputFields))
			dest := make([]any, 0, len(values)+2)
			dest = append(dest, &id)
			for i := range values {
				dest = append(dest, &values[i])
			}
			dest = append(dest, &distance)
			if err := rows.Scan(dest...); err != nil {
				return err
			}

			fields := make(map[string]string, len(values))
			for i, f := range req.OutputFields {
				fields[f] = values[i]
			}
			results = append(results, vectordb.SearchResult{ID: id, Score: score(distance), Fields: fields})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", name, err)
	}
	if results == nil {
		results = []vectordb.SearchResult{}
	}
	return results, nil
}

func (p *PostgresIndex) Close() error {
	return p.db.Close()
}
