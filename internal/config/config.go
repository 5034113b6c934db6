// Package config loads and validates the typed configuration tree for the
// pipeline: defaults, then TOML file(s), then environment variables, in
// that priority order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration tree. Field groups mirror the config
// paths named in the external interface contract (§6).
type Config struct {
	Environment string         `toml:"environment" validate:"omitempty,oneof=development production"`
	Database    DatabaseConfig `toml:"database"`
	JobSpy      JobSpyConfig   `toml:"jobspy"`
	ETL         ETLConfig      `toml:"etl"`
	Matching    MatchingConfig `toml:"matching"`
	Notifications NotificationsConfig `toml:"notifications"`
	Schedule    ScheduleConfig `toml:"schedule"`
	Scrapers    []ScraperConfig `toml:"scrapers"`
	Logging     LoggingConfig  `toml:"logging"`
}

type DatabaseConfig struct {
	URL string `toml:"url" validate:"required"`
}

type JobSpyConfig struct {
	URL                   string `toml:"url" validate:"required"`
	PollIntervalSeconds   int    `toml:"poll_interval_seconds"`
	JobTimeoutSeconds     int    `toml:"job_timeout_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

type ETLConfig struct {
	LLM    LLMConfig    `toml:"llm"`
	Resume ResumeConfig `toml:"resume"`
}

type LLMConfig struct {
	BaseURL              string  `toml:"base_url" validate:"required"`
	APIKey               string  `toml:"api_key"`
	ExtractionModel      string  `toml:"extraction_model" validate:"required"`
	EmbeddingModel       string  `toml:"embedding_model" validate:"required"`
	EmbeddingDimensions  int     `toml:"embedding_dimensions" validate:"required,min=1"`
	ExtractionTemperature float64 `toml:"extraction_temperature"`
	EmbeddingBaseURL     string  `toml:"embedding_base_url"`
	EmbeddingAPIKey      string  `toml:"embedding_api_key"`
}

type ResumeConfig struct {
	ResumeFile string `toml:"resume_file"`
}

type MatchingConfig struct {
	Enabled                bool          `toml:"enabled"`
	UserWantsFile          string        `toml:"user_wants_file"`
	Matcher                MatcherConfig `toml:"matcher"`
	Scorer                 ScorerConfig  `toml:"scorer"`
	ResultPolicy           ResultPolicyConfig `toml:"result_policy"`
	InvalidateOnJobChange    bool `toml:"invalidate_on_job_change"`
	InvalidateOnResumeChange bool `toml:"invalidate_on_resume_change"`
	RecalculateExisting      bool `toml:"recalculate_existing"`
}

type MatcherConfig struct {
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	BatchSize           int     `toml:"batch_size"`
}

type ScorerConfig struct {
	WeightRequired  float64            `toml:"weight_required"`
	WeightPreferred float64            `toml:"weight_preferred"`
	FitWeight       float64            `toml:"fit_weight"`
	WantWeight      float64            `toml:"want_weight"`
	WeightSimilarity float64           `toml:"weight_similarity"`
	FacetWeights    map[string]float64 `toml:"facet_weights"`

	PenaltyMissingRequired      float64 `toml:"penalty_missing_required"`
	PenaltySeniorityMismatch    float64 `toml:"penalty_seniority_mismatch"`
	PenaltyCompensationMismatch float64 `toml:"penalty_compensation_mismatch"`
	PenaltyExperienceShortfallPerYear float64 `toml:"penalty_experience_shortfall_per_year"`
	PenaltyExperienceShortfallMaxMultiple float64 `toml:"penalty_experience_shortfall_max_multiple"`

	WantsRemote      bool     `toml:"wants_remote"`
	MinSalary        *float64 `toml:"min_salary"`
	TargetSeniority  string   `toml:"target_seniority"`
}

type ResultPolicyConfig struct {
	MinFit               float64  `toml:"min_fit"`
	TopK                 int      `toml:"top_k"`
	MinJDRequiredCoverage *float64 `toml:"min_jd_required_coverage"`
}

type NotificationsConfig struct {
	Enabled               bool                          `toml:"enabled"`
	UserID                string                         `toml:"user_id"`
	BaseURL               string                         `toml:"base_url"`
	MinScoreThreshold     float64                        `toml:"min_score_threshold"`
	NotifyOnNewMatch      bool                           `toml:"notify_on_new_match"`
	NotifyOnBatchComplete bool                           `toml:"notify_on_batch_complete"`
	Channels              map[string]NotificationChannelConfig `toml:"channels"`
	DeduplicationEnabled  bool                           `toml:"deduplication_enabled"`
	ResendIntervalHours   float64                        `toml:"resend_interval_hours"`
	UseAsyncQueue         bool                           `toml:"use_async_queue"`
	RedisURL              string                         `toml:"redis_url"`
	RateLimitMaxWaitSeconds int                          `toml:"rate_limit_max_wait_seconds"`
}

// NotificationChannelConfig is the per-channel configuration of
// notifications.channels.<key> (§6: {enabled, recipient?}), plus the
// transport fields the email and webhook/chat_bot channels need to send at
// all; §6 leaves those to the implementation.
type NotificationChannelConfig struct {
	Enabled   bool   `toml:"enabled"`
	Recipient string `toml:"recipient"`

	SMTPHost     string `toml:"smtp_host"`
	SMTPPort     int    `toml:"smtp_port"`
	SMTPUsername string `toml:"smtp_username"`
	SMTPPassword string `toml:"smtp_password"`
	SMTPFrom     string `toml:"smtp_from"`

	WebhookURL string `toml:"webhook_url"`
}

type ScheduleConfig struct {
	IntervalSeconds int `toml:"interval_seconds" validate:"omitempty,min=300"`
}

type ScraperConfig struct {
	SiteType       []string       `toml:"site_type"`
	SearchTerm     string         `toml:"search_term"`
	Location       string         `toml:"location"`
	Country        string         `toml:"country"`
	ResultsWanted  int            `toml:"results_wanted"`
	HoursOld       *int           `toml:"hours_old"`
	Schedule       string         `toml:"schedule"`
	Options        map[string]any `toml:"options"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Output     []string `toml:"output"`
	TimeFormat string   `toml:"time_format"`
}

// NewDefaultConfig returns a Config populated with the same conservative
// defaults the teacher ships (sane timeouts, text logging to stdout+file,
// score weights from §4.9), before any file or env override is applied.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		JobSpy: JobSpyConfig{
			PollIntervalSeconds:   5,
			JobTimeoutSeconds:     300,
			RequestTimeoutSeconds: 30,
		},
		ETL: ETLConfig{
			LLM: LLMConfig{
				ExtractionTemperature: 0.0,
				EmbeddingDimensions:   1536,
			},
		},
		Matching: MatchingConfig{
			Enabled: true,
			Matcher: MatcherConfig{
				SimilarityThreshold: 0.3,
				BatchSize:           50,
			},
			Scorer: ScorerConfig{
				WeightRequired:   0.7,
				WeightPreferred:  0.3,
				FitWeight:        0.80,
				WantWeight:       0.20,
				WeightSimilarity: 0.3,
				PenaltyMissingRequired:                 15,
				PenaltySeniorityMismatch:               10,
				PenaltyCompensationMismatch:             10,
				PenaltyExperienceShortfallPerYear:       15,
				PenaltyExperienceShortfallMaxMultiple:   3,
			},
			ResultPolicy: ResultPolicyConfig{
				MinFit: 0,
				TopK:   50,
			},
			InvalidateOnJobChange:    true,
			InvalidateOnResumeChange: true,
		},
		Notifications: NotificationsConfig{
			DeduplicationEnabled:    true,
			ResendIntervalHours:     24,
			RateLimitMaxWaitSeconds: 30,
			Channels:                map[string]NotificationChannelConfig{},
		},
		Schedule: ScheduleConfig{
			IntervalSeconds: 3600,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFiles loads configuration with priority default -> file1 -> ... ->
// env, mirroring the teacher's multi-file merge in
// internal/common/config.go. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides, using the names
// documented in §6 (DATABASE_URL, JOBSPY_URL, ETL_LLM_EXTRACTION_*,
// ETL_EMBEDDING_*, REDIS_URL, ...). Names §6 leaves to the implementation are
// mostly unprefixed as well (e.g. JOBSPY_POLL_INTERVAL_SECONDS,
// MATCHING_ENABLED); only JOBMATCH_ENV and JOBMATCH_LOG_LEVEL/FORMAT/OUTPUT
// carry the JOBMATCH_ prefix.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("JOBMATCH_ENV"); v != "" {
		cfg.Environment = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	if v := os.Getenv("JOBSPY_URL"); v != "" {
		cfg.JobSpy.URL = v
	}
	if v := os.Getenv("JOBSPY_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JobSpy.PollIntervalSeconds = n
		}
	}
	if v := os.Getenv("JOBSPY_JOB_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JobSpy.JobTimeoutSeconds = n
		}
	}
	if v := os.Getenv("JOBSPY_REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JobSpy.RequestTimeoutSeconds = n
		}
	}

	if v := os.Getenv("ETL_LLM_BASE_URL"); v != "" {
		cfg.ETL.LLM.BaseURL = v
	}
	if v := os.Getenv("ETL_LLM_API_KEY"); v != "" {
		cfg.ETL.LLM.APIKey = v
	}
	if v := os.Getenv("ETL_LLM_EXTRACTION_MODEL"); v != "" {
		cfg.ETL.LLM.ExtractionModel = v
	}
	if v := os.Getenv("ETL_LLM_EXTRACTION_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ETL.LLM.ExtractionTemperature = f
		}
	}
	if v := os.Getenv("ETL_EMBEDDING_MODEL"); v != "" {
		cfg.ETL.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("ETL_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ETL.LLM.EmbeddingDimensions = n
		}
	}
	if v := os.Getenv("ETL_EMBEDDING_BASE_URL"); v != "" {
		cfg.ETL.LLM.EmbeddingBaseURL = v
	}
	if v := os.Getenv("ETL_EMBEDDING_API_KEY"); v != "" {
		cfg.ETL.LLM.EmbeddingAPIKey = v
	}
	if v := os.Getenv("ETL_RESUME_FILE"); v != "" {
		cfg.ETL.Resume.ResumeFile = v
	}

	if v := os.Getenv("MATCHING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Matching.Enabled = b
		}
	}

	if v := os.Getenv("NOTIFICATIONS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Notifications.Enabled = b
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Notifications.RedisURL = v
	}
	if v := os.Getenv("NOTIFICATIONS_BASE_URL"); v != "" {
		cfg.Notifications.BaseURL = v
	}

	if v := os.Getenv("SCHEDULE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Schedule.IntervalSeconds = n
		}
	}

	if v := os.Getenv("JOBMATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("JOBMATCH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("JOBMATCH_LOG_OUTPUT"); v != "" {
		parts := strings.Split(v, ",")
		outputs := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				outputs = append(outputs, t)
			}
		}
		if len(outputs) > 0 {
			cfg.Logging.Output = outputs
		}
	}
}

// ValidateSchedule validates a cron-syntax scraper schedule, enforcing the
// same minimum 5-minute interval the teacher's ValidateJobSchedule does.
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}
	minute := parts[0]
	if minute == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minute, "*/") {
		if n, err := strconv.Atoi(strings.TrimPrefix(minute, "*/")); err == nil && n < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", n)
		}
	}
	return nil
}

// IsProduction reports whether Environment is set to production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// DeepClone returns a deep copy, used so callers never mutate a shared
// loaded Config.
func DeepClone(c *Config) *Config {
	if c == nil {
		return nil
	}
	clone := *c

	clone.Scrapers = make([]ScraperConfig, len(c.Scrapers))
	copy(clone.Scrapers, c.Scrapers)

	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	if len(c.Matching.Scorer.FacetWeights) > 0 {
		clone.Matching.Scorer.FacetWeights = make(map[string]float64, len(c.Matching.Scorer.FacetWeights))
		for k, v := range c.Matching.Scorer.FacetWeights {
			clone.Matching.Scorer.FacetWeights[k] = v
		}
	}

	if len(c.Notifications.Channels) > 0 {
		clone.Notifications.Channels = make(map[string]NotificationChannelConfig, len(c.Notifications.Channels))
		for k, v := range c.Notifications.Channels {
			clone.Notifications.Channels[k] = v
		}
	}

	return &clone
}

// Validate runs struct-level validation on the loaded config.
func Validate(c *Config) error {
	return validateStruct(c)
}
