package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var ErrNoSourcesEnabled = errors.New("no evidence source enabled")

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Neo4j      Neo4jConfig
	LLM        LLMConfig
	Logging    LoggingConfig
	Sources    SourcesConfig
	OpenFDA    OpenFDAConfig
	Enrichment EnrichmentConfig
	Retrieval  RetrievalConfig
	Sections   map[string]int
	Scoring    ScoringConfig
	Feedback   FeedbackConfig
	Cache      CacheConfig
	Canonical  CanonicalConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          int
	WriteTimeout         int
	BodyLimit            int
	MaxRequestsPerMinute int
	HSTS                 bool
	AllowedOrigins       []string
}

type SQLiteConfig struct {
	// Path holds query history and the feedback log.
	Path string
	// DatasetPath holds the tabular evidence tables.
	DatasetPath string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type SourceConfig struct {
	Enabled    bool
	TimeoutSec int
	Retries    int
	// BaseLimit is the per-side row limit at multiplier 1.
	BaseLimit int
}

type SourcesConfig struct {
	// Order fixes caveat order and fan-out order.
	Order     []string
	Tabular   SourceConfig
	Graph     SourceConfig
	FAERS     SourceConfig
	Reference SourceConfig
}

type OpenFDAConfig struct {
	BaseURL       string
	APIKey        string
	FormatVersion string
	CacheTTLSec   int
}

type EnrichmentConfig struct {
	Enabled           bool
	UniProtURL        string
	ReactomeURL       string
	RequestsPerSecond float64
	Burst             int
	CacheSize         int
	TimeoutSec        int
}

type RetrievalConfig struct {
	Multiplier int
	MinQuality float64
	MinResults int
	ScoreFloor float64
}

type ScoringConfig struct {
	Canonical         float64
	PRRHigh           float64
	PRRModerate       float64
	PRRWeak           float64
	SharedPathway     float64
	SharedTarget      float64
	SharedSubstrate   float64
	Induction         float64
	Inhibition        float64
	RiskHigh          float64
	RiskModerate      float64
	DIQTHigh          float64
	DIQTModerate      float64
	CountHigh         float64
	CountModerate     float64
	CountLow          float64
	PairSpecific      float64
	PRRHighAbove      float64
	PRRModerateAbove  float64
	PRRWeakAbove      float64
	DIQTHighAbove     float64
	DIQTModerateAbove float64
	CountHighAbove    int
	CountModAbove     int
	CountLowAbove     int
}

type FeedbackConfig struct {
	Alpha   float64
	Floor   float64
	Ceiling float64
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string
	Version string
	TTLSec  int
	Size    int
}

type CanonicalConfig struct {
	SynonymsFile     string
	InteractionsFile string
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads path instead of searching the default locations. An empty
// path searches as Load does.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/infermed")
	}

	viper.SetEnvPrefix("INFERMED")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate reports the only configuration that cannot produce any bundle.
func (c *Config) Validate() error {
	if len(c.EnabledSources()) == 0 {
		return ErrNoSourcesEnabled
	}
	if c.Feedback.Floor > c.Feedback.Ceiling {
		return fmt.Errorf("feedback floor %.2f above ceiling %.2f", c.Feedback.Floor, c.Feedback.Ceiling)
	}
	if c.Feedback.Alpha < 0 || c.Feedback.Alpha > 1 {
		return fmt.Errorf("feedback alpha %.2f outside [0,1]", c.Feedback.Alpha)
	}
	return nil
}

// EnabledSources returns enabled source names in configured order.
func (c *Config) EnabledSources() []string {
	enabled := map[string]bool{
		"tabular":   c.Sources.Tabular.Enabled,
		"graph":     c.Sources.Graph.Enabled,
		"faers":     c.Sources.FAERS.Enabled,
		"reference": c.Sources.Reference.Enabled,
	}
	var out []string
	for _, name := range c.Sources.Order {
		if enabled[name] {
			out = append(out, name)
		}
	}
	return out
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 120)
	viper.SetDefault("server.bodyLimit", 1048576)
	viper.SetDefault("server.maxRequestsPerMinute", 60)
	viper.SetDefault("server.hsts", false)

	viper.SetDefault("sqlite.path", "./data/infermed.db")
	viper.SetDefault("sqlite.datasetPath", "./data/evidence.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")

	viper.SetDefault("sources.order", []string{"reference", "tabular", "graph", "faers"})
	viper.SetDefault("sources.tabular.enabled", true)
	viper.SetDefault("sources.tabular.timeoutSec", 5)
	viper.SetDefault("sources.tabular.retries", 1)
	viper.SetDefault("sources.tabular.baseLimit", 25)
	viper.SetDefault("sources.graph.enabled", true)
	viper.SetDefault("sources.graph.timeoutSec", 90)
	viper.SetDefault("sources.graph.retries", 1)
	viper.SetDefault("sources.graph.baseLimit", 32)
	viper.SetDefault("sources.faers.enabled", true)
	viper.SetDefault("sources.faers.timeoutSec", 8)
	viper.SetDefault("sources.faers.retries", 3)
	viper.SetDefault("sources.faers.baseLimit", 10)
	viper.SetDefault("sources.reference.enabled", true)
	viper.SetDefault("sources.reference.timeoutSec", 1)
	viper.SetDefault("sources.reference.retries", 1)
	viper.SetDefault("sources.reference.baseLimit", 5)

	viper.SetDefault("openfda.baseURL", "https://api.fda.gov")
	viper.SetDefault("openfda.formatVersion", "v2")
	viper.SetDefault("openfda.cacheTTLSec", 86400)

	viper.SetDefault("enrichment.enabled", true)
	viper.SetDefault("enrichment.uniprotURL", "https://rest.uniprot.org")
	viper.SetDefault("enrichment.reactomeURL", "https://reactome.org/ContentService")
	viper.SetDefault("enrichment.requestsPerSecond", 5.0)
	viper.SetDefault("enrichment.burst", 5)
	viper.SetDefault("enrichment.cacheSize", 4096)
	viper.SetDefault("enrichment.timeoutSec", 10)

	viper.SetDefault("retrieval.multiplier", 2)
	viper.SetDefault("retrieval.minQuality", 0.3)
	viper.SetDefault("retrieval.minResults", 5)
	viper.SetDefault("retrieval.scoreFloor", 0.5)

	viper.SetDefault("sections", map[string]int{
		"canonical":    5,
		"risk":         12,
		"side_effects": 25,
		"faers":        10,
		"targets":      32,
		"pathways":     24,
		"enzymes":      16,
	})

	viper.SetDefault("scoring.canonical", 10.0)
	viper.SetDefault("scoring.prrHigh", 5.0)
	viper.SetDefault("scoring.prrModerate", 2.0)
	viper.SetDefault("scoring.prrWeak", 0.5)
	viper.SetDefault("scoring.sharedPathway", 3.0)
	viper.SetDefault("scoring.sharedTarget", 2.0)
	viper.SetDefault("scoring.sharedSubstrate", 1.5)
	viper.SetDefault("scoring.induction", 3.0)
	viper.SetDefault("scoring.inhibition", 4.0)
	viper.SetDefault("scoring.riskHigh", 2.0)
	viper.SetDefault("scoring.riskModerate", 1.0)
	viper.SetDefault("scoring.diqtHigh", 1.5)
	viper.SetDefault("scoring.diqtModerate", 0.5)
	viper.SetDefault("scoring.countHigh", 2.0)
	viper.SetDefault("scoring.countModerate", 1.0)
	viper.SetDefault("scoring.countLow", 0.5)
	viper.SetDefault("scoring.pairSpecific", 1.0)
	viper.SetDefault("scoring.prrHighAbove", 2.0)
	viper.SetDefault("scoring.prrModerateAbove", 1.5)
	viper.SetDefault("scoring.prrWeakAbove", 1.0)
	viper.SetDefault("scoring.diqtHighAbove", 0.7)
	viper.SetDefault("scoring.diqtModerateAbove", 0.4)
	viper.SetDefault("scoring.countHighAbove", 1000)
	viper.SetDefault("scoring.countModAbove", 100)
	viper.SetDefault("scoring.countLowAbove", 10)

	viper.SetDefault("feedback.alpha", 0.2)
	viper.SetDefault("feedback.floor", 0.5)
	viper.SetDefault("feedback.ceiling", 1.5)

	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.version", "v1")
	viper.SetDefault("cache.ttlSec", 0)
	viper.SetDefault("cache.size", 1024)

	viper.SetDefault("canonical.synonymsFile", "")
	viper.SetDefault("canonical.interactionsFile", "./config/interactions.yaml")
}
