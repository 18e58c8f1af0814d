package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"regulation-rag/internal/models"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"

	BackendChromem  = "chromem"
	BackendPostgres = "postgres"

	DriverPgdriver = "pgdriver"
	DriverPQ       = "pq"
	DriverPgx      = "pgx"
)

type Config struct {
	EmbedLLM     LLMConfig        `yaml:"embed_llm"`
	InferenceLLM LLMConfig        `yaml:"inference_llm"`
	Database     DatabaseConfig   `yaml:"database"`
	RAG          RAGConfig        `yaml:"rag"`
	Documents    DocumentsConfig  `yaml:"documents"`
	Server       ServerConfig     `yaml:"server"`
	Cache        CacheConfig      `yaml:"cache"`
	Resilience   ResilienceConfig `yaml:"resilience"`
	Messages     MessagesConfig   `yaml:"messages"`
	Log          LogConfig        `yaml:"log"`
}

type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type DatabaseConfig struct {
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"`
	InMemory      bool          `yaml:"in_memory"`
	EncryptionKey string        `yaml:"encryption_key"`
	DSN           string        `yaml:"dsn"`
	Driver        string        `yaml:"driver"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Name          string        `yaml:"name"`
	Debug         bool          `yaml:"debug"`
	Collection    string        `yaml:"collection"`
	Description   string        `yaml:"description"`
	VectorField   string        `yaml:"vector_field"`
	TextField     string        `yaml:"text_field"`
	Metric        string        `yaml:"metric"`
	IndexType     string        `yaml:"index_type"`
	NProbe        int           `yaml:"nprobe"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	IndexTimeout  time.Duration `yaml:"index_timeout"`
}

type RAGConfig struct {
	TopK         int     `yaml:"top_k"`
	MinScore     float32 `yaml:"min_score"`
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
	BatchSize    int     `yaml:"batch_size"`
	Reset        bool    `yaml:"reset"`
	HistoryTurns int     `yaml:"history_turns"`
	MaxItems     int     `yaml:"max_items"`

	// zero is a valid value for these two, so presence is tracked while loading
	minScoreSet bool
	overlapSet  bool
}

// UnmarshalYAML records which of the zero-valid keys the file sets explicitly
func (r *RAGConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain RAGConfig
	if err := node.Decode((*plain)(r)); err != nil {
		return err
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "min_score":
			r.minScoreSet = true
		case "chunk_overlap":
			r.overlapSet = true
		}
	}
	return nil
}

type DocumentsConfig struct {
	Root       string   `yaml:"root"`
	URLPrefix  string   `yaml:"url_prefix"`
	Extensions []string `yaml:"extensions"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	Prefix    string        `yaml:"prefix"`
}

type ResilienceConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

type MessagesConfig struct {
	Domain        string `yaml:"domain"`
	Language      string `yaml:"language"`
	Persona       string `yaml:"persona"`
	EmptyQuestion string `yaml:"empty_question"`
	Greeting      string `yaml:"greeting"`
	NoInformation string `yaml:"no_information"`
	Refusal       string `yaml:"refusal"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// LoadConfig reads the yaml file at path, the .env file in the working
// directory and the process environment, in that order of precedence
// (environment wins). A missing yaml file is not an error.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	envString("OPENAI_API_KEY", &c.EmbedLLM.Key)
	envString("OPENAI_API_KEY", &c.InferenceLLM.Key)
	envString("EMBED_MODEL", &c.EmbedLLM.Model)
	envString("CHAT_MODEL", &c.InferenceLLM.Model)
	envString("DATABASE_URL", &c.Database.DSN)
	envString("VECTOR_DB_HOST", &c.Database.Host)
	envString("COLLECTION_NAME", &c.Database.Collection)
	envString("VECTOR_FIELD", &c.Database.VectorField)
	envString("DOCS_DIR", &c.Documents.Root)
	envString("DOCS_URL_PREFIX", &c.Documents.URLPrefix)
	envString("REDIS_ADDR", &c.Cache.RedisAddr)
	envString("LOG_LEVEL", &c.Log.Level)

	ints := []struct {
		key string
		dst *int
		set *bool
	}{
		{"VECTOR_DB_PORT", &c.Database.Port, nil},
		{"VECTOR_DIM", &c.EmbedLLM.Dimension, nil},
		{"TOP_K", &c.RAG.TopK, nil},
		{"CHUNK_SIZE", &c.RAG.ChunkSize, nil},
		{"CHUNK_OVERLAP", &c.RAG.ChunkOverlap, &c.RAG.overlapSet},
		{"BATCH_SIZE", &c.RAG.BatchSize, nil},
	}
	for _, e := range ints {
		if v, ok := os.LookupEnv(e.key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return models.NewConfigError(e.key, "not an integer: %q", v)
			}
			*e.dst = n
			if e.set != nil {
				*e.set = true
			}
		}
	}

	if v, ok := os.LookupEnv("MIN_SCORE"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		if err != nil {
			return models.NewConfigError("MIN_SCORE", "not a number: %q", v)
		}
		c.RAG.MinScore = float32(f)
		c.RAG.minScoreSet = true
	}
	if v, ok := os.LookupEnv("RESET_COLLECTION"); ok {
		c.RAG.Reset = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

// ApplyDefaults fills every zero value that has a sensible default. An
// explicit 0 for rag.min_score or rag.chunk_overlap from the file or the
// environment is kept.
func (c *Config) ApplyDefaults() {
	setString(&c.EmbedLLM.Provider, ProviderOpenAI)
	setString(&c.EmbedLLM.Model, "text-embedding-3-small")
	setInt(&c.EmbedLLM.Dimension, 1536)
	setString(&c.InferenceLLM.Provider, ProviderOpenAI)
	setString(&c.InferenceLLM.Model, "gpt-4o-mini")

	setString(&c.Database.Backend, BackendChromem)
	setString(&c.Database.Path, "./chromemdb")
	setString(&c.Database.Driver, DriverPgdriver)
	setString(&c.Database.Collection, "rules_qa")
	setString(&c.Database.Description, "Regulations - RAG")
	setString(&c.Database.VectorField, "vector_context")
	setString(&c.Database.TextField, "context")
	setString(&c.Database.Metric, "IP")
	setString(&c.Database.IndexType, "AUTOINDEX")
	setInt(&c.Database.NProbe, 10)
	setDuration(&c.Database.PollInterval, time.Second)
	setDuration(&c.Database.IndexTimeout, 5*time.Minute)

	setInt(&c.RAG.TopK, 3)
	if c.RAG.MinScore == 0 && !c.RAG.minScoreSet {
		c.RAG.MinScore = 0.25
	}
	setInt(&c.RAG.ChunkSize, 800)
	if !c.RAG.overlapSet {
		setInt(&c.RAG.ChunkOverlap, 150)
	}
	setInt(&c.RAG.BatchSize, 64)
	setInt(&c.RAG.HistoryTurns, 6)
	setInt(&c.RAG.MaxItems, 5)

	setString(&c.Documents.Root, "documents")
	setString(&c.Documents.URLPrefix, "/docs")
	if len(c.Documents.Extensions) == 0 {
		c.Documents.Extensions = []string{".pdf", ".docx"}
	}

	setString(&c.Server.Addr, ":8787")
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	setDuration(&c.Server.ReadTimeout, 30*time.Second)
	setDuration(&c.Server.WriteTimeout, 2*time.Minute)
	setDuration(&c.Server.ShutdownTimeout, 10*time.Second)

	setString(&c.Cache.RedisAddr, "localhost:6379")
	setDuration(&c.Cache.TTL, 24*time.Hour)
	setString(&c.Cache.Prefix, "regrag:emb:")

	setInt(&c.Resilience.MaxRetries, 3)
	setDuration(&c.Resilience.InitialBackoff, 500*time.Millisecond)
	setDuration(&c.Resilience.MaxBackoff, 8*time.Second)
	setDuration(&c.Resilience.Timeout, 60*time.Second)
	if c.Resilience.RequestsPerSecond == 0 {
		c.Resilience.RequestsPerSecond = 5
	}
	setInt(&c.Resilience.Burst, 1)

	setString(&c.Messages.Domain, models.DefaultDomain)
	setString(&c.Messages.Language, models.DefaultLanguage)
	setString(&c.Messages.Persona, models.DefaultPersona)
	setString(&c.Messages.EmptyQuestion, models.DefaultEmptyQuestion)
	setString(&c.Messages.Greeting, models.DefaultGreeting)
	setString(&c.Messages.NoInformation, models.DefaultNoInformation)
	setString(&c.Messages.Refusal, models.DefaultRefusal)

	setString(&c.Log.Level, "info")
}

// Validate reports the first invalid setting as a *models.ConfigError
func (c *Config) Validate() error {
	for _, llm := range []struct {
		item string
		cfg  LLMConfig
	}{{"embed_llm", c.EmbedLLM}, {"inference_llm", c.InferenceLLM}} {
		switch llm.cfg.Provider {
		case ProviderOpenAI, ProviderOpenRouter:
			if llm.cfg.Key == "" {
				return models.NewConfigError(llm.item+".key", "OPENAI_API_KEY is not set")
			}
		case ProviderOllama:
		default:
			return models.NewConfigError(llm.item+".provider", "unknown provider %q", llm.cfg.Provider)
		}
		if llm.cfg.Model == "" {
			return models.NewConfigError(llm.item+".model", "model is required")
		}
	}
	if c.EmbedLLM.Dimension <= 0 {
		return models.NewConfigError("embed_llm.dimension", "must be positive, got %d", c.EmbedLLM.Dimension)
	}

	switch c.Database.Backend {
	case BackendChromem:
	case BackendPostgres:
		switch c.Database.Driver {
		case DriverPgdriver, DriverPQ, DriverPgx:
		default:
			return models.NewConfigError("database.driver", "unknown driver %q", c.Database.Driver)
		}
		if c.Database.DSN == "" && c.Database.Host == "" {
			return models.NewConfigError("database.dsn", "dsn or host is required for the postgres backend")
		}
	default:
		return models.NewConfigError("database.backend", "unknown backend %q", c.Database.Backend)
	}
	if c.Database.Collection == "" {
		return models.NewConfigError("database.collection", "collection name is required")
	}
	if c.Database.VectorField == "" {
		return models.NewConfigError("database.vector_field", "vector field name is required")
	}

	if c.RAG.ChunkSize <= 0 {
		return models.NewConfigError("rag.chunk_size", "must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return models.NewConfigError("rag.chunk_overlap", "must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return models.NewConfigError("rag.top_k", "must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.BatchSize <= 0 {
		return models.NewConfigError("rag.batch_size", "must be positive, got %d", c.RAG.BatchSize)
	}
	if c.RAG.HistoryTurns < 0 {
		return models.NewConfigError("rag.history_turns", "must not be negative")
	}
	return nil
}

// PostgresDSN returns the configured DSN or one assembled from host settings
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	port := d.Port
	if port == 0 {
		port = 5432
	}
	name := d.Name
	if name == "" {
		name = "postgres"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", d.User, d.Password, d.Host, port, name)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}
