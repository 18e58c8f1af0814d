// Package vectordb defines the contract the pipeline needs from a vector
// database: collections with a declared schema, columnar inserts, an
// asynchronously built similarity index and top-k search.
package vectordb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrFieldNotFound      = errors.New("field not found")
	ErrUnsupportedMetric  = errors.New("unsupported metric")
	ErrColumnMismatch     = errors.New("column mismatch")
	ErrIndexTimeout       = errors.New("timed out waiting for index build")
)

// Default record layout
const (
	FieldID      = "id"
	FieldSource  = "source"
	FieldHeader  = "header"
	FieldContext = "context"
)

type FieldType string

const (
	FieldInt64       FieldType = "int64"
	FieldVarchar     FieldType = "varchar"
	FieldFloatVector FieldType = "float_vector"
)

type Field struct {
	Name      string    `yaml:"name"`
	Type      FieldType `yaml:"type"`
	MaxLength int       `yaml:"max_length,omitempty"`
	Dim       int       `yaml:"dim,omitempty"`
	Primary   bool      `yaml:"primary,omitempty"`
	AutoID    bool      `yaml:"auto_id,omitempty"`
}

type Schema struct {
	Description string  `yaml:"description"`
	Fields      []Field `yaml:"fields"`
}

// Field looks a field up by name
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s Schema) Has(name string) bool {
	_, ok := s.Field(name)
	return ok
}

func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// RecordSchema is the layout written by ingestion: auto id, source, header,
// text and a fixed-dimension vector.
func RecordSchema(description, textField, vectorField string, dim int) Schema {
	return Schema{
		Description: description,
		Fields: []Field{
			{Name: FieldID, Type: FieldInt64, Primary: true, AutoID: true},
			{Name: FieldSource, Type: FieldVarchar, MaxLength: 255},
			{Name: FieldHeader, Type: FieldVarchar, MaxLength: 512},
			{Name: textField, Type: FieldVarchar, MaxLength: 65535},
			{Name: vectorField, Type: FieldFloatVector, Dim: dim},
		},
	}
}

type Metric string

const (
	MetricIP     Metric = "IP"
	MetricCosine Metric = "COSINE"
	MetricL2     Metric = "L2"
)

type IndexParams struct {
	Metric Metric         `yaml:"metric"`
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params,omitempty"`
}

type Progress struct {
	Indexed int64
	Total   int64
}

func (p Progress) Done() bool {
	return p.Indexed >= p.Total
}

// Column carries the values of one field for every row of an insert batch.
// Exactly one of Strings or Vectors is set.
type Column struct {
	Field   string
	Strings []string
	Vectors [][]float32
}

func StringColumn(field string, values []string) Column {
	return Column{Field: field, Strings: values}
}

func VectorColumn(field string, values [][]float32) Column {
	return Column{Field: field, Vectors: values}
}

func (c Column) Len() int {
	if c.Vectors != nil {
		return len(c.Vectors)
	}
	return len(c.Strings)
}

type SearchRequest struct {
	Vector       []float32
	VectorField  string
	Metric       Metric
	Params       map[string]any
	TopK         int
	OutputFields []string
}

// SearchResult holds one ranked record. Score grows with similarity.
type SearchResult struct {
	ID     string
	Score  float32
	Fields map[string]string
}

type Index interface {
	Exists(ctx context.Context, collection string) (bool, error)
	Create(ctx context.Context, collection string, schema Schema) error
	Drop(ctx context.Context, collection string) error
	Describe(ctx context.Context, collection string) (Schema, error)
	HasIndex(ctx context.Context, collection string) (bool, error)
	BuildIndex(ctx context.Context, collection, field string, params IndexParams) error
	IndexBuildProgress(ctx context.Context, collection string) (Progress, error)
	Load(ctx context.Context, collection string) error
	Insert(ctx context.Context, collection string, columns []Column) (int, error)
	Flush(ctx context.Context, collection string) error
	Count(ctx context.Context, collection string) (int64, error)
	Search(ctx context.Context, collection string, req SearchRequest) ([]SearchResult, error)
	Close() error
}

// ValidateColumns checks an insert batch against schema and returns the row
// count. Auto-id fields must not be supplied; every other field must be.
func ValidateColumns(schema Schema, columns []Column) (int, error) {
	given := make(map[string]Column, len(columns))
	rows := -1
	for _, c := range columns {
		f, ok := schema.Field(c.Field)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrFieldNotFound, c.Field)
		}
		if f.AutoID {
			return 0, fmt.Errorf("%w: %s is generated by the index", ErrColumnMismatch, c.Field)
		}
		if (f.Type == FieldFloatVector) != (c.Vectors != nil) {
			return 0, fmt.Errorf("%w: %s has the wrong value type", ErrColumnMismatch, c.Field)
		}
		if rows >= 0 && c.Len() != rows {
			return 0, fmt.Errorf("%w: %s has %d rows, expected %d", ErrColumnMismatch, c.Field, c.Len(), rows)
		}
		rows = c.Len()
		if f.Type == FieldFloatVector {
			for i, v := range c.Vectors {
				if len(v) != f.Dim {
					return 0, fmt.Errorf("%w: %s row %d has dimension %d, expected %d", ErrColumnMismatch, c.Field, i, len(v), f.Dim)
				}
			}
		}
		if f.Type == FieldVarchar && f.MaxLength > 0 {
			for i, s := range c.Strings {
				if len(s) > f.MaxLength {
					return 0, fmt.Errorf("%w: %s row %d exceeds %d bytes", ErrColumnMismatch, c.Field, i, f.MaxLength)
				}
			}
		}
		given[c.Field] = c
	}
	for _, f := range schema.Fields {
		if _, ok := given[f.Name]; !ok && !f.AutoID {
			return 0, fmt.Errorf("%w: missing column %s", ErrColumnMismatch, f.Name)
		}
	}
	if rows < 0 {
		rows = 0
	}
	return rows, nil
}

// WaitForIndex polls the build progress of collection every interval until
// it completes, ctx is done, or timeout elapses (timeout <= 0 waits forever).
func WaitForIndex(ctx context.Context, idx Index, collection string, interval, timeout time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p, err := idx.IndexBuildProgress(ctx, collection)
		if err != nil {
			return fmt.Errorf("failed to read index progress of %s: %w", collection, err)
		}
		if p.Done() {
			return nil
		}
		log.Debug().Str("collection", collection).Int64("indexed", p.Indexed).Int64("total", p.Total).Msg("Waiting for index build")

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s after %s (%d/%d rows)", ErrIndexTimeout, collection, timeout, p.Indexed, p.Total)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
