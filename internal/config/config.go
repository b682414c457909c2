package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from env; a local .env file is loaded first when present.
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Followup FollowupConfig
	Pipeline PipelineConfig
	MinIO    MinIOConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is where the carrier reaches our webhooks, e.g. https://calls.example.com.
	PublicBaseURL string
	// Timezone shift dates and times are interpreted in.
	Timezone string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// APIKey lets an operator exchange a static key for a token pair.
type APIKey struct {
	Subject string
	Role    string
	Key     string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// APIKeys is parsed from AUTH_API_KEYS="subject:role:key,...".
	APIKeys []APIKey
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	APIBaseURL string

	CallsPerSecond float64
	// ValidateSignatures turns on X-Twilio-Signature checks for webhooks.
	ValidateSignatures bool
}

type FollowupConfig struct {
	FirstOffset  time.Duration
	SecondOffset time.Duration
	StaggerGap   time.Duration
	// Grace is how late a trigger may still fire.
	Grace time.Duration
}

type PipelineConfig struct {
	PrimaryLanguage string
	WorkingLanguage string

	ResolveTimeout    time.Duration
	DownloadTimeout   time.Duration
	TranscribeTimeout time.Duration
	ClassifyTimeout   time.Duration

	// UseQueue runs post-call processing through asynq instead of in-process goroutines.
	UseQueue    bool
	Queue       string
	Concurrency int

	GeminiAPIKey    string
	TranscribeModel string
	ClassifyModel   string
}

// MinIOConfig is optional; recordings are not archived when Endpoint is empty.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (m MinIOConfig) Enabled() bool { return m.Endpoint != "" }

func Load() (Config, error) {
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	c.App.Timezone = strings.TrimSpace(os.Getenv("APP_TIMEZONE"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")
	{
		keys, err := parseAPIKeys(os.Getenv("AUTH_API_KEYS"))
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Auth.APIKeys = keys
	}

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))
	c.Twilio.APIBaseURL = strings.TrimSpace(os.Getenv("TWILIO_API_BASE_URL"))
	{
		f, err := optionalFloat("TWILIO_CALLS_PER_SECOND")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Twilio.CallsPerSecond = f
	}
	c.Twilio.ValidateSignatures = optionalBool("TWILIO_VALIDATE_SIGNATURES")

	c.Followup.FirstOffset = mustDuration("FOLLOWUP_FIRST_OFFSET")
	c.Followup.SecondOffset = mustDuration("FOLLOWUP_SECOND_OFFSET")
	c.Followup.StaggerGap = mustDuration("FOLLOWUP_STAGGER_GAP")
	c.Followup.Grace = mustDuration("FOLLOWUP_GRACE")

	c.Pipeline.PrimaryLanguage = strings.TrimSpace(os.Getenv("PIPELINE_PRIMARY_LANGUAGE"))
	c.Pipeline.WorkingLanguage = strings.TrimSpace(os.Getenv("PIPELINE_WORKING_LANGUAGE"))
	c.Pipeline.ResolveTimeout = mustDuration("PIPELINE_RESOLVE_TIMEOUT")
	c.Pipeline.DownloadTimeout = mustDuration("PIPELINE_DOWNLOAD_TIMEOUT")
	c.Pipeline.TranscribeTimeout = mustDuration("PIPELINE_TRANSCRIBE_TIMEOUT")
	c.Pipeline.ClassifyTimeout = mustDuration("PIPELINE_CLASSIFY_TIMEOUT")
	c.Pipeline.UseQueue = optionalBool("PIPELINE_USE_QUEUE")
	c.Pipeline.Queue = strings.TrimSpace(os.Getenv("PIPELINE_QUEUE"))
	{
		n, err := optionalInt("PIPELINE_CONCURRENCY")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Pipeline.Concurrency = n
	}
	c.Pipeline.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	c.Pipeline.TranscribeModel = strings.TrimSpace(os.Getenv("GEMINI_TRANSCRIBE_MODEL"))
	c.Pipeline.ClassifyModel = strings.TrimSpace(os.Getenv("GEMINI_CLASSIFY_MODEL"))

	c.MinIO.Endpoint = strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	c.MinIO.AccessKey = strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	c.MinIO.SecretKey = os.Getenv("MINIO_SECRET_KEY")
	c.MinIO.Bucket = strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	c.MinIO.UseSSL = optionalBool("MINIO_USE_SSL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills optional settings. Production-sensitive values are left
// empty so Validate can flag them.
func (c *Config) ApplyDefaults() {
	if c.App.Timezone == "" {
		c.App.Timezone = "Asia/Kolkata"
	}
	if c.DB.SSLMode == "" && !c.IsProduction() {
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Twilio.CallsPerSecond <= 0 {
		c.Twilio.CallsPerSecond = 1
	}
	if c.Followup.FirstOffset <= 0 {
		c.Followup.FirstOffset = 36 * time.Minute
	}
	if c.Followup.SecondOffset <= 0 {
		c.Followup.SecondOffset = 34*time.Minute + 35*time.Second
	}
	if c.Followup.StaggerGap <= 0 {
		c.Followup.StaggerGap = time.Second
	}
	if c.Followup.Grace <= 0 {
		c.Followup.Grace = 2 * time.Minute
	}
	if c.Pipeline.PrimaryLanguage == "" {
		c.Pipeline.PrimaryLanguage = "hi"
	}
	if c.Pipeline.WorkingLanguage == "" {
		c.Pipeline.WorkingLanguage = "en"
	}
	if c.Pipeline.Queue == "" {
		c.Pipeline.Queue = "postcall"
	}
	if c.Pipeline.Concurrency <= 0 {
		c.Pipeline.Concurrency = 4
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if u, err := url.Parse(c.App.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.App.PublicBaseURL))
	}
	if c.App.Timezone != "" {
		if _, err := time.LoadLocation(c.App.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("APP_TIMEZONE is not a known zone: %q", c.App.Timezone))
		}
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if !c.Twilio.ValidateSignatures {
			errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURES must be enabled in production"))
		}
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.FromNumber == "" {
		errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required"))
	}

	if c.Followup.FirstOffset <= c.Followup.SecondOffset {
		errs = append(errs, errors.New("FOLLOWUP_FIRST_OFFSET must be greater than FOLLOWUP_SECOND_OFFSET"))
	}
	if c.Followup.SecondOffset <= 0 {
		errs = append(errs, errors.New("FOLLOWUP_SECOND_OFFSET must be positive"))
	}

	if c.Pipeline.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required"))
	}

	if c.MinIO.Enabled() && (c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "" || c.MinIO.Bucket == "") {
		errs = append(errs, errors.New("MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_BUCKET are required when MINIO_ENDPOINT is set"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Location resolves App.Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func optionalFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func optionalBool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func parseAPIKeys(raw string) ([]APIKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []APIKey
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, errors.New("AUTH_API_KEYS entries must be subject:role:key")
		}
		out = append(out, APIKey{Subject: parts[0], Role: parts[1], Key: parts[2]})
	}
	return out, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
