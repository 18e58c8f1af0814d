// Package ingestion turns a folder of regulation documents into searchable
// records: extract, chunk, embed and insert in fixed-size batches.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"regulation-rag/internal/config"
	"regulation-rag/internal/models"
	"regulation-rag/internal/parser"
	"regulation-rag/internal/rag"
	"regulation-rag/internal/vectordb"
)

// FileError names the document that made ingestion fail
type FileError struct {
	Source string
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("ingesting %s: %v", e.Source, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Stats summarizes one ingestion run
type Stats struct {
	Files    int   `json:"files"`
	Skipped  int   `json:"skipped"`
	Chunks   int   `json:"chunks"`
	Inserted int   `json:"inserted"`
	Total    int64 `json:"total"`
}

type Pipeline struct {
	index      vectordb.Index
	embedder   embeddings.Embedder
	chunker    *parser.Chunker
	db         config.DatabaseConfig
	dim        int
	batchSize  int
	extensions []string
	reset      bool
}

func NewPipeline(index vectordb.Index, embedder embeddings.Embedder, cfg *config.Config) (*Pipeline, error) {
	chunker, err := parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	batchSize := cfg.RAG.BatchSize
	if batchSize <= 0 {
		return nil, models.NewConfigError("rag.batch_size", "must be positive, got %d", batchSize)
	}
	return &Pipeline{
		index:      index,
		embedder:   embedder,
		chunker:    chunker,
		db:         cfg.Database,
		dim:        cfg.EmbedLLM.Dimension,
		batchSize:  batchSize,
		extensions: cfg.Documents.Extensions,
		reset:      cfg.RAG.Reset,
	}, nil
}

// Files lists the supported documents directly under root, sorted by name.
// Subdirectories are not visited.
func (p *Pipeline) Files(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read document root: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !parser.IsSupported(e.Name(), p.extensions) {
			continue
		}
		files = append(files, filepath.Join(root, e.Name()))
	}
	slices.Sort(files)
	return files, nil
}

// Plan extracts and chunks every document without embedding anything.
// Files that cannot be read are logged and left out.
func (p *Pipeline) Plan(root string) ([]models.Chunk, error) {
	files, err := p.Files(root)
	if err != nil {
		return nil, err
	}
	var chunks []models.Chunk
	for _, f := range files {
		c, err := p.chunkFile(f)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping document")
			continue
		}
		chunks = append(chunks, c...)
	}
	return chunks, nil
}

func (p *Pipeline) chunkFile(path string) ([]models.Chunk, error) {
	source := filepath.Base(path)
	text, err := parser.ExtractText(path)
	if err != nil {
		return nil, &FileError{Source: source, Err: err}
	}
	if text == "" {
		return nil, &FileError{Source: source, Err: errors.New("no extractable text")}
	}
	return p.chunker.Chunks(source, text), nil
}

// EnsureCollection makes the target collection ready for inserts. In reset
// mode an existing collection is dropped first. A new collection gets the
// record schema and a similarity index.
func (p *Pipeline) EnsureCollection(ctx context.Context) error {
	name := p.db.Collection
	exists, err := p.index.Exists(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrIndex, err)
	}

	if exists && p.reset {
		log.Info().Str("collection", name).Msg("Dropping collection")
		if err := p.index.Drop(ctx, name); err != nil {
			return fmt.Errorf("%w: %w", models.ErrIndex, err)
		}
		exists = false
	}

	if exists {
		schema, err := p.index.Describe(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrIndex, err)
		}
		f, ok := schema.Field(p.db.VectorField)
		if !ok || f.Type != vectordb.FieldFloatVector {
			return models.NewConfigError("database.vector_field", "vector field %q not found in %s", p.db.VectorField, name)
		}
		if f.Dim != p.dim {
			return models.NewConfigError("embed_llm.dimension", "collection %s stores %d-dimensional vectors, embedder produces %d", name, f.Dim, p.dim)
		}
		return p.index.Load(ctx, name)
	}

	log.Info().Str("collection", name).Int("dim", p.dim).Msg("Creating collection")
	schema := vectordb.RecordSchema(p.db.Description, p.db.TextField, p.db.VectorField, p.dim)
	if err := p.index.Create(ctx, name, schema); err != nil {
		return fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	if err := p.index.BuildIndex(ctx, name, p.db.VectorField, rag.IndexParams(&p.db)); err != nil {
		return fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	if err := vectordb.WaitForIndex(ctx, p.index, name, p.db.PollInterval, p.db.IndexTimeout); err != nil {
		return fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	if err := p.index.Load(ctx, name); err != nil {
		return fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	return nil
}

// Ingest loads every supported document under root into the collection.
// Documents whose text cannot be extracted are skipped; embedding or insert
// failures stop the run with a FileError.
func (p *Pipeline) Ingest(ctx context.Context, root string) (Stats, error) {
	var stats Stats

	files, err := p.Files(root)
	if err != nil {
		return stats, err
	}
	if err := p.EnsureCollection(ctx); err != nil {
		return stats, err
	}

	pending := make([]models.Chunk, 0, p.batchSize)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		chunks, err := p.chunkFile(f)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping document")
			stats.Skipped++
			continue
		}
		stats.Files++
		stats.Chunks += len(chunks)
		log.Info().Str("source", filepath.Base(f)).Int("chunks", len(chunks)).Msg("Chunked document")

		for _, c := range chunks {
			pending = append(pending, c)
			if len(pending) == p.batchSize {
				n, err := p.insertBatch(ctx, pending)
				if err != nil {
					return stats, err
				}
				stats.Inserted += n
				pending = pending[:0]
			}
		}
	}
	if len(pending) > 0 {
		n, err := p.insertBatch(ctx, pending)
		if err != nil {
			return stats, err
		}
		stats.Inserted += n
	}

	name := p.db.Collection
	if err := p.index.Flush(ctx, name); err != nil {
		return stats, fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	if err := p.index.Load(ctx, name); err != nil {
		return stats, fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	total, err := p.index.Count(ctx, name)
	if err != nil {
		return stats, fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	stats.Total = total

	log.Info().Int("files", stats.Files).Int("skipped", stats.Skipped).Int("inserted", stats.Inserted).Int64("total", stats.Total).Msg("Ingestion finished")
	return stats, nil
}

func (p *Pipeline) insertBatch(ctx context.Context, batch []models.Chunk) (int, error) {
	sources := make([]string, len(batch))
	headers := make([]string, len(batch))
	texts := make([]string, len(batch))
	for i, c := range batch {
		sources[i], headers[i], texts[i] = c.Source, c.Header, c.Text
	}

	// the embedder may rewrite its input in place
	vectors, err := p.embedder.EmbedDocuments(ctx, slices.Clone(texts))
	if err != nil {
		return 0, p.batchError(batch, tagEmbedding(err))
	}
	if len(vectors) != len(batch) {
		return 0, p.batchError(batch, fmt.Errorf("%w: expected %d vectors, got %d", models.ErrEmbedding, len(batch), len(vectors)))
	}
	for i, v := range vectors {
		if len(v) != p.dim {
			return 0, p.batchError(batch[i:i+1], fmt.Errorf("%w: vector has dimension %d, expected %d", models.ErrEmbedding, len(v), p.dim))
		}
	}

	n, err := p.index.Insert(ctx, p.db.Collection, []vectordb.Column{
		vectordb.StringColumn(vectordb.FieldSource, sources),
		vectordb.StringColumn(vectordb.FieldHeader, headers),
		vectordb.StringColumn(p.db.TextField, texts),
		vectordb.VectorColumn(p.db.VectorField, vectors),
	})
	if err != nil {
		return 0, p.batchError(batch, fmt.Errorf("%w: %w", models.ErrIndex, err))
	}
	log.Debug().Int("rows", n).Msg("Inserted batch")
	return n, nil
}

// batchError attributes a failure to the distinct sources of batch
func (p *Pipeline) batchError(batch []models.Chunk, err error) error {
	var sources []string
	for _, c := range batch {
		if !slices.Contains(sources, c.Source) {
			sources = append(sources, c.Source)
		}
	}
	return &FileError{Source: strings.Join(sources, ", "), Err: err}
}

func tagEmbedding(err error) error {
	if errors.Is(err, models.ErrEmbedding) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrEmbedding, err)
}
