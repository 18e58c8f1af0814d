package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"regulation-rag/internal/helper"
	"regulation-rag/internal/vectordb"
)

const (
	compress      = false
	schemaFileExt = ".schema.yaml"
)

var errNoEmbeddingFunc = errors.New("documents must carry their own embeddings")

// collectionMeta is what chromem cannot store for us: the declared schema
// and the index definition.
type collectionMeta struct {
	Schema     vectordb.Schema       `yaml:"schema"`
	IndexField string                `yaml:"index_field,omitempty"`
	Index      *vectordb.IndexParams `yaml:"index,omitempty"`
}

// VectorDBManager implements vectordb.Index on top of an embedded chromem-go
// database. Search is exhaustive, so building an index only records its
// parameters and always completes immediately.
type VectorDBManager struct {
	db            *chromem.DB
	dbPath        string
	inMemory      bool
	encryptionKey string

	mu    sync.RWMutex
	metas map[string]*collectionMeta
}

var _ vectordb.Index = (*VectorDBManager)(nil)

// NewVectorDBManager opens a persistent database under dbPath, or a purely
// in-memory one when inMemory is set.
func NewVectorDBManager(dbPath string, inMemory bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	if inMemory {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{
		db:            db,
		dbPath:        dbPath,
		inMemory:      inMemory,
		encryptionKey: encryptionKey,
		metas:         make(map[string]*collectionMeta),
	}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func (m *VectorDBManager) collection(name string) (*chromem.Collection, error) {
	c := m.db.GetCollection(name, noEmbedding)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", vectordb.ErrCollectionNotFound, name)
	}
	return c, nil
}

func (m *VectorDBManager) schemaPath(name string) string {
	return filepath.Join(m.dbPath, name+schemaFileExt)
}

func (m *VectorDBManager) meta(name string) (*collectionMeta, error) {
	m.mu.RLock()
	meta, ok := m.metas[name]
	m.mu.RUnlock()
	if ok {
		return meta, nil
	}
	if m.inMemory {
		return nil, fmt.Errorf("no schema recorded for collection %s", name)
	}

	meta, err := readMeta(m.schemaPath(name))
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.metas[name] = meta
	m.mu.Unlock()
	return meta, nil
}

func (m *VectorDBManager) saveMeta(name string, meta *collectionMeta) error {
	m.mu.Lock()
	m.metas[name] = meta
	m.mu.Unlock()
	if m.inMemory {
		return nil
	}
	return writeMeta(m.schemaPath(name), meta)
}

func readMeta(path string) (*collectionMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	var meta collectionMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", path, err)
	}
	return &meta, nil
}

func writeMeta(path string, meta *collectionMeta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write schema %s: %w", path, err)
	}
	return nil
}

func (m *VectorDBManager) Exists(_ context.Context, name string) (bool, error) {
	return m.db.GetCollection(name, noEmbedding) != nil, nil
}

func (m *VectorDBManager) Create(_ context.Context, name string, schema vectordb.Schema) error {
	var vectors int
	for _, f := range schema.Fields {
		if f.Type == vectordb.FieldFloatVector {
			vectors++
		}
	}
	if vectors != 1 {
		return fmt.Errorf("collection %s needs exactly one vector field, got %d", name, vectors)
	}
	if m.db.GetCollection(name, noEmbedding) != nil {
		return fmt.Errorf("collection %s already exists", name)
	}

	if _, err := m.db.CreateCollection(name, map[string]string{"description": schema.Description}, noEmbedding); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return m.saveMeta(name, &collectionMeta{Schema: schema})
}

func (m *VectorDBManager) Drop(_ context.Context, name string) error {
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	m.mu.Lock()
	delete(m.metas, name)
	m.mu.Unlock()
	if !m.inMemory {
		if err := os.Remove(m.schemaPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove schema: %w", err)
		}
	}
	return nil
}

func (m *VectorDBManager) Describe(_ context.Context, name string) (vectordb.Schema, error) {
	if _, err := m.collection(name); err != nil {
		return vectordb.Schema{}, err
	}
	meta, err := m.meta(name)
	if err != nil {
		return vectordb.Schema{}, err
	}
	return meta.Schema, nil
}

func (m *VectorDBManager) HasIndex(_ context.Context, name string) (bool, error) {
	if _, err := m.collection(name); err != nil {
		return false, err
	}
	meta, err := m.meta(name)
	if err != nil {
		return false, err
	}
	return meta.Index != nil, nil
}

func checkMetric(metric vectordb.Metric) error {
	switch metric {
	case vectordb.MetricIP, vectordb.MetricCosine, "":
		// chromem normalizes every vector, so inner product equals cosine
		return nil
	default:
		return fmt.Errorf("%w: %s", vectordb.ErrUnsupportedMetric, metric)
	}
}

func (m *VectorDBManager) BuildIndex(_ context.Context, name, field string, params vectordb.IndexParams) error {
	if _, err := m.collection(name); err != nil {
		return err
	}
	meta, err := m.meta(name)
	if err != nil {
		return err
	}
	f, ok := meta.Schema.Field(field)
	if !ok || f.Type != vectordb.FieldFloatVector {
		return fmt.Errorf("%w: %s is not a vector field of %s", vectordb.ErrFieldNotFound, field, name)
	}
	if err := checkMetric(params.Metric); err != nil {
		return err
	}

	updated := *meta
	updated.IndexField = field
	updated.Index = &params
	return m.saveMeta(name, &updated)
}

func (m *VectorDBManager) IndexBuildProgress(_ context.Context, name string) (vectordb.Progress, error) {
	c, err := m.collection(name)
	if err != nil {
		return vectordb.Progress{}, err
	}
	n := int64(c.Count())
	return vectordb.Progress{Indexed: n, Total: n}, nil
}

// Load only checks the collection exists; chromem keeps everything in memory
func (m *VectorDBManager) Load(_ context.Context, name string) error {
	_, err := m.collection(name)
	return err
}

// Flush is a no-op: the persistent DB writes every document as it is added
func (m *VectorDBManager) Flush(_ context.Context, name string) error {
	_, err := m.collection(name)
	return err
}

func (m *VectorDBManager) Count(_ context.Context, name string) (int64, error) {
	c, err := m.collection(name)
	if err != nil {
		return 0, err
	}
	return int64(c.Count()), nil
}

// Insert stores one chromem document per row. The vector column becomes the
// embedding, the longest string field also becomes the document content and
// every string field is kept in the metadata.
func (m *VectorDBManager) Insert(ctx context.Context, name string, columns []vectordb.Column) (int, error) {
	c, err := m.collection(name)
	if err != nil {
		return 0, err
	}
	meta, err := m.meta(name)
	if err != nil {
		return 0, err
	}
	rows, err := vectordb.ValidateColumns(meta.Schema, columns)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, nil
	}

	contentField := ""
	maxLen := -1
	for _, f := range meta.Schema.Fields {
		if f.Type == vectordb.FieldVarchar && f.MaxLength > maxLen {
			contentField, maxLen = f.Name, f.MaxLength
		}
	}

	docs := make([]chromem.Document, rows)
	for i := range docs {
		id, err := helper.GenerateUUID()
		if err != nil {
			return 0, err
		}
		docs[i] = chromem.Document{ID: id, Metadata: make(map[string]string, len(columns))}
	}
	for _, col := range columns {
		for i := range docs {
			if col.Vectors != nil {
				docs[i].Embedding = col.Vectors[i]
				continue
			}
			docs[i].Metadata[col.Field] = col.Strings[i]
			if col.Field == contentField {
				docs[i].Content = col.Strings[i]
			}
		}
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("failed to add documents: %w", err)
	}
	return rows, nil
}

func (m *VectorDBManager) Search(ctx context.Context, name string, req vectordb.SearchRequest) ([]vectordb.SearchResult, error) {
	c, err := m.collection(name)
	if err != nil {
		return nil, err
	}
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("top k must be positive, got %d", req.TopK)
	}
	if err := checkMetric(req.Metric); err != nil {
		return nil, err
	}
	if meta, err := m.meta(name); err == nil {
		if f, ok := meta.Schema.Field(req.VectorField); !ok || f.Type != vectordb.FieldFloatVector {
			return nil, fmt.Errorf("%w: %s is not a vector field of %s", vectordb.ErrFieldNotFound, req.VectorField, name)
		}
	}

	n := min(req.TopK, c.Count())
	if n == 0 {
		return []vectordb.SearchResult{}, nil
	}

	results, err := c.QueryEmbedding(ctx, req.Vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]vectordb.SearchResult, 0, len(results))
	for _, r := range results {
		fields := make(map[string]string, len(req.OutputFields))
		for _, f := range req.OutputFields {
			if v, ok := r.Metadata[f]; ok {
				fields[f] = v
			}
		}
		out = append(out, vectordb.SearchResult{ID: r.ID, Score: r.Similarity, Fields: fields})
	}
	return out, nil
}

func (m *VectorDBManager) Close() error {
	return nil
}

// Export writes an encrypted snapshot of the collection to filePath and its
// schema next to it.
func (m *VectorDBManager) Export(_ context.Context, name, filePath string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if _, err := m.collection(name); err != nil {
		return err
	}
	meta, err := m.meta(name)
	if err != nil {
		return err
	}

	log.Debug().Str("collection", name).Str("file", filePath).Bool("compress", compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, compress, m.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return writeMeta(filePath+schemaFileExt, meta)
}

// Import restores a collection written by Export, replacing any existing one
func (m *VectorDBManager) Import(_ context.Context, name, filePath string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	meta, err := readMeta(filePath + schemaFileExt)
	if err != nil {
		return err
	}
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	if _, err := m.collection(name); err != nil {
		return fmt.Errorf("snapshot %s does not contain %s: %w", filePath, name, err)
	}
	return m.saveMeta(name, meta)
}
