package rag

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"regulation-rag/internal/config"
	"regulation-rag/internal/models"
	"regulation-rag/internal/vectordb"
)

// Capabilities records which optional payload fields the collection stores
type Capabilities struct {
	HasSource bool
	HasHeader bool
}

// Runtime is the read-only state every query needs. It is built once by Init
// and shared by all requests.
type Runtime struct {
	Index        vectordb.Index
	Collection   string
	VectorField  string
	TextField    string
	Metric       vectordb.Metric
	SearchParams map[string]any
	Caps         Capabilities
}

// IndexParams derives the similarity index definition from the config
func IndexParams(cfg *config.DatabaseConfig) vectordb.IndexParams {
	return vectordb.IndexParams{
		Metric: vectordb.Metric(cfg.Metric),
		Type:   cfg.IndexType,
		Params: map[string]any{},
	}
}

// Init prepares a collection for serving. The collection and its vector and
// text fields must already exist. A missing similarity index is built and
// waited for before the collection is loaded.
func Init(ctx context.Context, idx vectordb.Index, cfg *config.DatabaseConfig) (*Runtime, error) {
	ok, err := idx.Exists(ctx, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	if !ok {
		return nil, models.NewConfigError("database.collection", "collection %q does not exist, run ingest first", cfg.Collection)
	}

	schema, err := idx.Describe(ctx, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	if f, ok := schema.Field(cfg.VectorField); !ok || f.Type != vectordb.FieldFloatVector {
		return nil, models.NewConfigError("database.vector_field", "vector field %q not found in %s (fields: %v)", cfg.VectorField, cfg.Collection, schema.FieldNames())
	}
	if !schema.Has(cfg.TextField) {
		return nil, models.NewConfigError("database.text_field", "text field %q not found in %s (fields: %v)", cfg.TextField, cfg.Collection, schema.FieldNames())
	}

	indexed, err := idx.HasIndex(ctx, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	if !indexed {
		log.Info().Str("collection", cfg.Collection).Str("field", cfg.VectorField).Msg("No index found, building one")
		if err := idx.BuildIndex(ctx, cfg.Collection, cfg.VectorField, IndexParams(cfg)); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrIndex, err)
		}
		if err := vectordb.WaitForIndex(ctx, idx, cfg.Collection, cfg.PollInterval, cfg.IndexTimeout); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrIndex, err)
		}
	}

	if err := idx.Load(ctx, cfg.Collection); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndex, err)
	}

	rt := &Runtime{
		Index:        idx,
		Collection:   cfg.Collection,
		VectorField:  cfg.VectorField,
		TextField:    cfg.TextField,
		Metric:       vectordb.Metric(cfg.Metric),
		SearchParams: map[string]any{"nprobe": cfg.NProbe},
		Caps: Capabilities{
			HasSource: schema.Has(vectordb.FieldSource),
			HasHeader: schema.Has(vectordb.FieldHeader),
		},
	}
	log.Info().Str("collection", rt.Collection).Bool("source", rt.Caps.HasSource).Bool("header", rt.Caps.HasHeader).Msg("Collection ready")
	return rt, nil
}

// OutputFields lists the payload fields a search should return
func (rt *Runtime) OutputFields() []string {
	fields := []string{rt.TextField}
	if rt.Caps.HasSource {
		fields = append(fields, vectordb.FieldSource)
	}
	if rt.Caps.HasHeader {
		fields = append(fields, vectordb.FieldHeader)
	}
	return fields
}
