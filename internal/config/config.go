package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or an env file loaded via ENV_FILE / .env).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Twilio    TwilioConfig
	Dialer    DialerConfig
	Session   SessionConfig
	Events    EventsConfig
	Scheduler SchedulerConfig
	Texting   TextingConfig
	RateLimit RateLimitConfig
	Routing   RoutingConfig
}

type AppConfig struct {
	Env  string
	Port int

	// NodeID identifies this process in session leases and event relays.
	NodeID string

	// DefaultRegion is used to normalize national-format phone numbers.
	DefaultRegion string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// Migrate applies embedded migrations on startup.
	Migrate bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// API key pair used to sign softphone access tokens.
	APIKeySID    string
	APIKeySecret string
	TwiMLAppSID  string

	// PublicBaseURL is where Twilio reaches our webhooks (status callbacks).
	PublicBaseURL string

	// CallerIDs is the outbound number pool, "number[:weight]" comma separated.
	CallerIDs string

	VoicemailDropURL string
	HoldMusicURL     string

	// ValidateSignatures enables X-Twilio-Signature checks on webhooks.
	ValidateSignatures bool

	DeviceTokenTTL time.Duration
}

type DialerConfig struct {
	RingWindow     time.Duration
	MaxLegs        int
	OrphanEventTTL time.Duration
	CommandTimeout time.Duration
	LineLeaseTTL   time.Duration
}

type SessionConfig struct {
	StaleAfter   time.Duration
	IdleTimeout  time.Duration
	ReplaceStale bool
	LeaseTTL     time.Duration
	SweepEvery   time.Duration
}

type EventsConfig struct {
	Heartbeat   time.Duration
	Buffer      int
	MissedLimit int
	Channel     string
}

type SchedulerConfig struct {
	Queue         string
	Concurrency   int
	MissedGrace   time.Duration
	SweepSchedule string
}

type TextingConfig struct {
	GatewayURL     string
	APIKey         string
	From           string
	PreviewBaseURL string
}

type RateLimitConfig struct {
	DialPerMinute int
	DialBurst     int
}

type RoutingConfig struct {
	// Overflow destinations for inbound calls with no available rep,
	// "target[=weight]" comma separated.
	Overflow string
}

func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.NodeID = strings.TrimSpace(os.Getenv("NODE_ID"))
	c.App.DefaultRegion = strings.TrimSpace(os.Getenv("DEFAULT_REGION"))

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
	c.DB.Migrate = optionalBool("DB_MIGRATE", true)

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

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.APIKeySID = strings.TrimSpace(os.Getenv("TWILIO_API_KEY_SID"))
	c.Twilio.APIKeySecret = os.Getenv("TWILIO_API_KEY_SECRET")
	c.Twilio.TwiMLAppSID = strings.TrimSpace(os.Getenv("TWILIO_TWIML_APP_SID"))
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	c.Twilio.CallerIDs = strings.TrimSpace(os.Getenv("TWILIO_CALLER_IDS"))
	c.Twilio.VoicemailDropURL = strings.TrimSpace(os.Getenv("VOICEMAIL_DROP_URL"))
	c.Twilio.HoldMusicURL = strings.TrimSpace(os.Getenv("HOLD_MUSIC_URL"))
	c.Twilio.ValidateSignatures = optionalBool("TWILIO_VALIDATE_SIGNATURES", false)
	c.Twilio.DeviceTokenTTL = mustDuration("TWILIO_DEVICE_TOKEN_TTL")

	// Duration env vars are optional; defaults applied in Validate().
	c.Dialer.RingWindow = mustDuration("DIALER_RING_WINDOW")
	{
		n, err := optionalInt("DIALER_MAX_LEGS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Dialer.MaxLegs = n
	}
	c.Dialer.OrphanEventTTL = mustDuration("DIALER_ORPHAN_EVENT_TTL")
	c.Dialer.CommandTimeout = mustDuration("DIALER_COMMAND_TIMEOUT")
	c.Dialer.LineLeaseTTL = mustDuration("DIALER_LINE_LEASE_TTL")

	c.Session.StaleAfter = mustDuration("SESSION_STALE_AFTER")
	c.Session.IdleTimeout = mustDuration("SESSION_IDLE_TIMEOUT")
	c.Session.ReplaceStale = optionalBool("SESSION_REPLACE_STALE", true)
	c.Session.LeaseTTL = mustDuration("SESSION_LEASE_TTL")
	c.Session.SweepEvery = mustDuration("SESSION_SWEEP_EVERY")

	c.Events.Heartbeat = mustDuration("EVENTS_HEARTBEAT")
	{
		n, err := optionalInt("EVENTS_BUFFER")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Events.Buffer = n
	}
	{
		n, err := optionalInt("EVENTS_MISSED_LIMIT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Events.MissedLimit = n
	}
	c.Events.Channel = strings.TrimSpace(os.Getenv("EVENTS_CHANNEL"))

	c.Scheduler.Queue = strings.TrimSpace(os.Getenv("ASYNQ_QUEUE"))
	{
		n, err := optionalInt("ASYNQ_CONCURRENCY")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Scheduler.Concurrency = n
	}
	c.Scheduler.MissedGrace = mustDuration("CALLBACK_MISSED_GRACE")
	c.Scheduler.SweepSchedule = strings.TrimSpace(os.Getenv("CALLBACK_SWEEP_SCHEDULE"))

	c.Texting.GatewayURL = strings.TrimSpace(os.Getenv("SMS_GATEWAY_URL"))
	c.Texting.APIKey = os.Getenv("SMS_GATEWAY_API_KEY")
	c.Texting.From = strings.TrimSpace(os.Getenv("SMS_FROM"))
	c.Texting.PreviewBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PREVIEW_BASE_URL")), "/")

	{
		n, err := optionalInt("RATE_LIMIT_DIAL_PER_MINUTE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.RateLimit.DialPerMinute = n
	}
	{
		n, err := optionalInt("RATE_LIMIT_DIAL_BURST")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.RateLimit.DialBurst = n
	}

	c.Routing.Overflow = strings.TrimSpace(os.Getenv("ROUTING_OVERFLOW"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.NodeID == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			c.App.NodeID = h
		} else {
			c.App.NodeID = "node-1"
		}
	}
	if c.App.DefaultRegion == "" {
		c.App.DefaultRegion = "US"
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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.IsProduction() {
		if c.Twilio.AccountSID == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required in production"))
		}
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required in production"))
		}
		if c.Twilio.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		}
		if c.Twilio.CallerIDs == "" {
			errs = append(errs, errors.New("TWILIO_CALLER_IDS is required in production"))
		}
	}
	if c.Twilio.DeviceTokenTTL <= 0 {
		c.Twilio.DeviceTokenTTL = time.Hour
	}

	if c.Dialer.RingWindow <= 0 {
		// Provider default ring timeout.
		c.Dialer.RingWindow = 30 * time.Second
	}
	if c.Dialer.MaxLegs == 0 {
		c.Dialer.MaxLegs = 3
	}
	if c.Dialer.MaxLegs < 1 || c.Dialer.MaxLegs > 3 {
		errs = append(errs, fmt.Errorf("DIALER_MAX_LEGS must be between 1 and 3, got %d", c.Dialer.MaxLegs))
	}
	if c.Dialer.OrphanEventTTL <= 0 {
		c.Dialer.OrphanEventTTL = 10 * time.Second
	}
	if c.Dialer.CommandTimeout <= 0 {
		c.Dialer.CommandTimeout = 10 * time.Second
	}
	if c.Dialer.LineLeaseTTL <= 0 {
		c.Dialer.LineLeaseTTL = 2 * time.Hour
	}

	if c.Events.Heartbeat <= 0 {
		c.Events.Heartbeat = 15 * time.Second
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 32
	}
	if c.Events.MissedLimit <= 0 {
		c.Events.MissedLimit = 3
	}
	if c.Events.Channel == "" {
		c.Events.Channel = "dialer:events"
	}

	if c.Session.StaleAfter <= 0 {
		c.Session.StaleAfter = 2 * time.Minute
	}
	if c.Session.IdleTimeout <= 0 {
		c.Session.IdleTimeout = 30 * time.Minute
	}
	if c.Session.LeaseTTL <= 0 {
		c.Session.LeaseTTL = 3 * time.Minute
	}
	if c.Session.LeaseTTL <= c.Events.Heartbeat {
		errs = append(errs, errors.New("SESSION_LEASE_TTL must be greater than EVENTS_HEARTBEAT"))
	}
	if c.Session.SweepEvery <= 0 {
		c.Session.SweepEvery = time.Minute
	}

	if c.Scheduler.Queue == "" {
		c.Scheduler.Queue = "default"
	}
	if c.Scheduler.Concurrency <= 0 {
		c.Scheduler.Concurrency = 10
	}
	if c.Scheduler.MissedGrace <= 0 {
		c.Scheduler.MissedGrace = 15 * time.Minute
	}
	if c.Scheduler.SweepSchedule == "" {
		c.Scheduler.SweepSchedule = "@every 5m"
	}

	if c.RateLimit.DialPerMinute <= 0 {
		c.RateLimit.DialPerMinute = 30
	}
	if c.RateLimit.DialBurst <= 0 {
		c.RateLimit.DialBurst = 5
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

// TwilioEnabled reports whether real provider credentials are configured.
func (c Config) TwilioEnabled() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != ""
}

func loadEnvFile() error {
	if p := strings.TrimSpace(os.Getenv("ENV_FILE")); p != "" {
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("ENV_FILE %q could not be loaded: %w", p, err)
		}
		return nil
	}
	// .env is optional; real env vars always win.
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load()
	}
	return nil
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
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
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
