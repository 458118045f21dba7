// Package config defines the runtime configuration for conclave.
//
// Configuration is read from YAML (or JSON) through a provider, has
// ${VAR} references expanded from the environment, is decoded with
// mapstructure, and is then defaulted and validated. Every section follows
// the same SetDefaults/Validate contract.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/conclave/pkg/observability"
	"github.com/kadirpekel/conclave/pkg/vector"
)

// EmbeddingDimension is the vector width shared by every embedded entity.
const EmbeddingDimension = 768

// Config is the root configuration.
type Config struct {
	Database      DatabaseConfig        `yaml:"database"`
	LLM           LLMConfig             `yaml:"llm"`
	Embedder      EmbedderConfig        `yaml:"embedder"`
	Vector        vector.ProviderConfig `yaml:"vector"`
	Retrieval     RetrievalConfig       `yaml:"retrieval"`
	ReAct         ReActConfig           `yaml:"react"`
	Orchestrator  OrchestratorConfig    `yaml:"orchestrator"`
	Crawler       CrawlerConfig         `yaml:"crawler"`
	Risk          RiskConfig            `yaml:"risk"`
	Session       SessionConfig         `yaml:"session"`
	A2A           A2AConfig             `yaml:"a2a"`
	Resilience    ResilienceConfig      `yaml:"resilience"`
	Server        ServerConfig          `yaml:"server"`
	Observability observability.Config  `yaml:"observability"`
	Logging       LoggingConfig         `yaml:"logging"`
	Experts       []ExpertConfig        `yaml:"experts,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Retrieval.SetDefaults()
	c.ReAct.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Crawler.SetDefaults()
	c.Risk.SetDefaults()
	c.Session.SetDefaults()
	c.A2A.SetDefaults()
	c.Resilience.SetDefaults()
	c.Server.SetDefaults()
	c.Observability.SetDefaults()
	c.Logging.SetDefaults()
	for i := range c.Experts {
		c.Experts[i].SetDefaults()
	}
}

// Validate checks every section and joins the failures.
func (c *Config) Validate() error {
	var errs []error
	check := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	check("database", c.Database.Validate())
	check("llm", c.LLM.Validate())
	check("embedder", c.Embedder.Validate())
	check("vector", c.Vector.Validate())
	check("retrieval", c.Retrieval.Validate())
	check("react", c.ReAct.Validate())
	check("crawler", c.Crawler.Validate())
	check("session", c.Session.Validate())
	check("a2a", c.A2A.Validate())
	check("resilience", c.Resilience.Validate())
	check("observability", c.Observability.Validate())

	seen := make(map[string]bool, len(c.Experts))
	for i := range c.Experts {
		e := &c.Experts[i]
		check(fmt.Sprintf("experts[%d]", i), e.Validate())
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("experts[%d]: duplicate expert name %q", i, e.Name))
		}
		seen[e.Name] = true
	}

	return errors.Join(errs...)
}

// RetrievalConfig holds the similarity thresholds per caller context.
type RetrievalConfig struct {
	// ReActThreshold is the looser threshold used by exploratory tool calls.
	ReActThreshold float64 `yaml:"react_threshold"`
	// LookupThreshold is the tighter threshold used for direct lookups.
	LookupThreshold float64 `yaml:"lookup_threshold"`
	Limit           int     `yaml:"limit"`
	// Backend selects where similarity ranking runs: "sql" scans the store,
	// "index" queries the configured vector provider.
	Backend string `yaml:"backend"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.ReActThreshold == 0 {
		c.ReActThreshold = 0.3
	}
	if c.LookupThreshold == 0 {
		c.LookupThreshold = 0.5
	}
	if c.Limit == 0 {
		c.Limit = 5
	}
	if c.Backend == "" {
		c.Backend = "sql"
	}
}

func (c *RetrievalConfig) Validate() error {
	for name, v := range map[string]float64{"react_threshold": c.ReActThreshold, "lookup_threshold": c.LookupThreshold} {
		if v < -1 || v > 1 {
			return fmt.Errorf("%s must be within [-1, 1], got %v", name, v)
		}
	}
	if c.Limit < 1 {
		return fmt.Errorf("limit must be positive")
	}
	if c.Backend != "sql" && c.Backend != "index" {
		return fmt.Errorf("invalid backend %q (valid: sql, index)", c.Backend)
	}
	return nil
}

// ReActConfig bounds the reasoning loop.
type ReActConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

func (c *ReActConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 8
	}
}

func (c *ReActConfig) Validate() error {
	if c.MaxIterations < 1 || c.MaxIterations > 9 {
		return fmt.Errorf("max_iterations must be between 1 and 9, got %d", c.MaxIterations)
	}
	return nil
}

// OrchestratorConfig controls plan execution.
type OrchestratorConfig struct {
	// ParallelIndependent lets consecutive steps marked independent run
	// concurrently. Results keep plan order either way.
	ParallelIndependent bool `yaml:"parallel_independent"`
	MaxSteps            int  `yaml:"max_steps"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.MaxSteps == 0 {
		c.MaxSteps = 6
	}
}

// CrawlerConfig configures the web crawler agent.
type CrawlerConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	ChunkWords      int           `yaml:"chunk_words"`
	LLMClean        bool          `yaml:"llm_clean"`
	CleanInputLimit int           `yaml:"clean_input_limit"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	EmbedWorkers    int           `yaml:"embed_workers"`
	UserAgent       string        `yaml:"user_agent"`
}

func (c *CrawlerConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ChunkWords == 0 {
		c.ChunkWords = 800
	}
	if c.CleanInputLimit == 0 {
		c.CleanInputLimit = 3000
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 5 << 20
	}
	if c.EmbedWorkers == 0 {
		c.EmbedWorkers = 4
	}
	if c.UserAgent == "" {
		c.UserAgent = "conclave-crawler/1.0"
	}
}

func (c *CrawlerConfig) Validate() error {
	if c.ChunkWords < 1 {
		return fmt.Errorf("chunk_words must be positive")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}

// RiskConfig extends the destructive-verb lexicon.
type RiskConfig struct {
	ExtraKeywords []string `yaml:"extra_keywords,omitempty"`
}

func (c *RiskConfig) SetDefaults() {}

// SessionConfig configures the in-memory session store.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

func (c *SessionConfig) SetDefaults() {
	if c.TTL == 0 {
		c.TTL = 30 * time.Minute
	}
}

func (c *SessionConfig) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("ttl must be non-negative")
	}
	return nil
}

// A2AConfig configures the in-process agent bus.
type A2AConfig struct {
	// HistoryLimit bounds the retained message history.
	HistoryLimit int `yaml:"history_limit"`
	// Remote registers agents served by another process under a local id.
	Remote []RemoteAgentConfig `yaml:"remote,omitempty"`
}

// RemoteAgentConfig points a bus id at a remote POST /a2a endpoint.
type RemoteAgentConfig struct {
	ID      string        `yaml:"id"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

func (c *A2AConfig) SetDefaults() {
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 100
	}
	for i := range c.Remote {
		if c.Remote[i].Timeout == 0 {
			c.Remote[i].Timeout = 2 * time.Minute
		}
	}
}

func (c *A2AConfig) Validate() error {
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be positive")
	}
	for i, r := range c.Remote {
		if r.ID == "" || r.URL == "" {
			return fmt.Errorf("remote[%d]: id and url are required", i)
		}
	}
	return nil
}

// ServerConfig configures the HTTP binding.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 2 * time.Minute
	}
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// ExpertConfig overrides or adds an expert role. Unset fields keep the
// built-in values; a new role defaults to react mode.
type ExpertConfig struct {
	Name              string `yaml:"name"`
	Domain            string `yaml:"domain"`
	Instructions      string `yaml:"instructions"`
	BackgroundContext string `yaml:"background_context"`
	FewShotExamples   string `yaml:"few_shot_examples"`
	// Mode is "react" or "single".
	Mode       string `yaml:"mode"`
	AllowWrite bool   `yaml:"allow_write"`
}

func (c *ExpertConfig) SetDefaults() {}

func (c *ExpertConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Mode != "" && c.Mode != "react" && c.Mode != "single" {
		return fmt.Errorf("invalid mode %q (valid: react, single)", c.Mode)
	}
	return nil
}
