package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgallion1/docsplit/internal/chunker"
	"github.com/dgallion1/docsplit/internal/extract"
	"github.com/dgallion1/docsplit/internal/rag"
)

// EnvPrefix is prepended to every environment variable, so chunk.size is
// read from DOCSPLIT_CHUNK_SIZE.
const EnvPrefix = "DOCSPLIT"

type Config struct {
	Port           string `mapstructure:"port"`
	APIKey         string `mapstructure:"api_key"` // Bearer token for the HTTP service
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`

	LLM      LLMConfig      `mapstructure:"llm"`
	Chunk    ChunkConfig    `mapstructure:"chunk"`
	Output   OutputConfig   `mapstructure:"output"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	RAG      RAGConfig      `mapstructure:"rag"`
}

type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ChunkConfig struct {
	Size     int    `mapstructure:"size"`
	Overlap  int    `mapstructure:"overlap"`
	Length   string `mapstructure:"length"` // chars, estimate or tokens
	Encoding string `mapstructure:"encoding"`
}

// PipelineConfig sizes the background job workers of the HTTP service.
type PipelineConfig struct {
	Workers              int           `mapstructure:"workers"`
	QueueSize            int           `mapstructure:"queue_size"`
	MaxConcurrentExtract int           `mapstructure:"max_concurrent_extract"`
	JobTTL               time.Duration `mapstructure:"job_ttl"`
}

// RAGConfig sets the embedding model and retrieval of the ask command. The
// embedding endpoint and key are those of llm.
type RAGConfig struct {
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Dimension      int     `mapstructure:"dimension"`
	BatchSize      int     `mapstructure:"batch_size"`
	TopK           int     `mapstructure:"top_k"`
	MaxChunks      int     `mapstructure:"max_chunks"`
	ScoreThreshold float32 `mapstructure:"score_threshold"`
}

type OutputConfig struct {
	Rules    string `mapstructure:"rules"`
	Fallback string `mapstructure:"fallback"`
	Chunks   string `mapstructure:"chunks"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8090")
	v.SetDefault("api_key", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "")                    // text for commands, json for serve
	v.SetDefault("max_upload_bytes", int64(52428800)) // 50MB

	v.SetDefault("llm.base_url", extract.DashScopeBaseURL)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", extract.DefaultModel)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_retries", extract.DefaultMaxRetries)
	v.SetDefault("llm.retry_delay", extract.DefaultRetryDelay)
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("chunk.size", chunker.DefaultChunkSize)
	v.SetDefault("chunk.overlap", chunker.DefaultChunkOverlap)
	v.SetDefault("chunk.length", chunker.UnitChars)
	v.SetDefault("chunk.encoding", chunker.DefaultEncoding)

	v.SetDefault("output.rules", "output.json")
	v.SetDefault("output.fallback", "fallback.json")
	v.SetDefault("output.chunks", "")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 100)
	v.SetDefault("pipeline.max_concurrent_extract", 5)
	v.SetDefault("pipeline.job_ttl", time.Hour)

	v.SetDefault("rag.embedding_model", rag.DefaultEmbeddingModel)
	v.SetDefault("rag.dimension", rag.DefaultDimension)
	v.SetDefault("rag.batch_size", rag.DefaultBatchSize)
	v.SetDefault("rag.top_k", rag.DefaultTopK)
	v.SetDefault("rag.max_chunks", rag.DefaultMaxChunks)
	v.SetDefault("rag.score_threshold", rag.DefaultScoreThreshold)
}

// Load merges defaults, the optional config file at path, and the
// environment into a Config. Values already bound on v, such as command-line
// flags, take precedence over all three. A missing file is an error only
// when path is set explicitly.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "DASHSCOPE_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		v.SetConfigName("docsplit")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative, got %d", c.LLM.MaxRetries)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.Pipeline.Workers <= 0 || c.Pipeline.QueueSize <= 0 || c.Pipeline.MaxConcurrentExtract <= 0 {
		return fmt.Errorf("pipeline.workers, pipeline.queue_size and pipeline.max_concurrent_extract must be positive")
	}
	if c.Pipeline.JobTTL <= 0 {
		return fmt.Errorf("pipeline.job_ttl must be positive, got %s", c.Pipeline.JobTTL)
	}
	if c.RAG.TopK <= 0 || c.RAG.MaxChunks <= 0 || c.RAG.BatchSize <= 0 {
		return fmt.Errorf("rag.top_k, rag.max_chunks and rag.batch_size must be positive")
	}
	if c.RAG.ScoreThreshold < -1 || c.RAG.ScoreThreshold > 1 {
		return fmt.Errorf("rag.score_threshold must be between -1 and 1, got %g", c.RAG.ScoreThreshold)
	}
	cc := chunker.Config{ChunkSize: c.Chunk.Size, ChunkOverlap: c.Chunk.Overlap}
	return cc.Validate()
}

// RequireLLM reports a missing model API key.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set DASHSCOPE_API_KEY or %s_LLM_API_KEY)", EnvPrefix)
	}
	return nil
}

// RequireServer reports settings the HTTP service cannot run without.
func (c *Config) RequireServer() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required (set %s_API_KEY)", EnvPrefix)
	}
	return c.RequireLLM()
}

// ChunkerConfig resolves the chunk settings, loading a tokenizer when the
// length unit is tokens.
func (c *Config) ChunkerConfig() (chunker.Config, error) {
	length, err := chunker.LengthFor(c.Chunk.Length, c.Chunk.Encoding)
	if err != nil {
		return chunker.Config{}, err
	}
	cfg := chunker.Config{
		ChunkSize:    c.Chunk.Size,
		ChunkOverlap: c.Chunk.Overlap,
		Length:       length,
	}
	return cfg, cfg.Validate()
}

// ClientConfig returns the model client settings.
func (c *Config) ClientConfig() extract.ClientConfig {
	return extract.ClientConfig{
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		Timeout:     c.LLM.Timeout,
	}
}

// ExtractOptions returns the retry settings.
func (c *Config) ExtractOptions() extract.Options {
	return extract.Options{
		MaxRetries: c.LLM.MaxRetries,
		RetryDelay: c.LLM.RetryDelay,
	}
}

// EmbedderConfig returns the embedding client settings. Embeddings use the
// chat model's endpoint and key.
func (c *Config) EmbedderConfig() rag.EmbedderConfig {
	return rag.EmbedderConfig{
		APIKey:    c.LLM.APIKey,
		BaseURL:   c.LLM.BaseURL,
		Model:     c.RAG.EmbeddingModel,
		Dimension: c.RAG.Dimension,
		BatchSize: c.RAG.BatchSize,
		Timeout:   c.LLM.Timeout,
	}
}

// RAGOptions returns the retrieval settings.
func (c *Config) RAGOptions() rag.Options {
	return rag.Options{
		TopK:           c.RAG.TopK,
		MaxChunks:      c.RAG.MaxChunks,
		ScoreThreshold: c.RAG.ScoreThreshold,
	}
}
