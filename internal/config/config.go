package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig       `yaml:"app"`
	Server        ServerConfig    `yaml:"server"`
	MetadataStore string          `yaml:"metadata_store"` // mysql, postgres, dynamodb, memory
	Database      DatabaseConfig  `yaml:"database"`
	DynamoDB      DynamoDBConfig  `yaml:"dynamodb"`
	Redis         RedisConfig     `yaml:"redis"`
	AWS           AWSConfig       `yaml:"aws"`
	Storage       StorageConfig   `yaml:"storage"`
	Imaging       ImagingConfig   `yaml:"imaging"`
	Ingestion     IngestionConfig `yaml:"ingestion"`
	Workers       WorkersConfig   `yaml:"workers"`
	Logging       LoggingConfig   `yaml:"logging"`
	Reporting     ReportingConfig `yaml:"reporting"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Domain enables TLS through ACME when set.
	Domain    string `yaml:"domain"`
	DebugPort int    `yaml:"debug_port"`
}

type DatabaseConfig struct {
	Driver             string        `yaml:"driver"` // mysql or postgres
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name"`
	Charset            string        `yaml:"charset"`
	Loc                string        `yaml:"loc"`
	SSLMode            string        `yaml:"ssl_mode"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	ConnectionLifetime time.Duration `yaml:"connection_lifetime"`
	AutoMigrate        bool          `yaml:"auto_migrate"`
}

type DynamoDBConfig struct {
	Table          string `yaml:"table"`
	SubmitterIndex string `yaml:"submitter_index"`
	Endpoint       string `yaml:"endpoint"`
}

type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	PollQueue string `yaml:"poll_queue"`
	DLQSuffix string `yaml:"dlq_suffix"`
}

type AWSConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type StorageConfig struct {
	Provider string    `yaml:"provider"` // s3 or gcs
	S3       S3Config  `yaml:"s3"`
	GCS      GCSConfig `yaml:"gcs"`
}

type S3Config struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	UseSSL   bool   `yaml:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
}

type ImagingConfig struct {
	Provider      string              `yaml:"provider"` // healthimaging or gcp
	HealthImaging HealthImagingConfig `yaml:"healthimaging"`
	GCP           GCPHealthcareConfig `yaml:"gcp"`
}

type HealthImagingConfig struct {
	DatastoreID  string `yaml:"datastore_id"`
	RoleARN      string `yaml:"role_arn"`
	OutputPrefix string `yaml:"output_prefix"`
	Endpoint     string `yaml:"endpoint"`
}

type GCPHealthcareConfig struct {
	ProjectID       string `yaml:"project_id"`
	Location        string `yaml:"location"`
	DatasetID       string `yaml:"dataset_id"`
	DicomStoreID    string `yaml:"dicom_store_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// IngestionConfig drives submission and polling. The three *_seconds options
// are pollIntervalSeconds, maxPollDeadlineSeconds and
// importTimeoutBackoffCapSeconds.
type IngestionConfig struct {
	PollIntervalSeconds            int           `yaml:"poll_interval_seconds"`
	MaxPollDeadlineSeconds         int           `yaml:"max_poll_deadline_seconds"`
	ImportTimeoutBackoffCapSeconds int           `yaml:"import_timeout_backoff_cap_seconds"`
	MaxPollAttempts                int           `yaml:"max_poll_attempts"` // 0 means unlimited
	CallTimeoutSeconds             int           `yaml:"call_timeout_seconds"`
	StartRetryAttempts             int           `yaml:"start_retry_attempts"`
	StartRetryDelay                time.Duration `yaml:"start_retry_delay"`
	// Scheduler is "redis" to hand polls to the monitor worker, or
	// "inprocess" to poll from the api process itself. It defaults to
	// inprocess with the memory store, which a separate worker cannot see.
	Scheduler string `yaml:"scheduler"`
}

func (c IngestionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c IngestionConfig) MaxPollDeadline() time.Duration {
	return time.Duration(c.MaxPollDeadlineSeconds) * time.Second
}

func (c IngestionConfig) BackoffCap() time.Duration {
	return time.Duration(c.ImportTimeoutBackoffCapSeconds) * time.Second
}

func (c IngestionConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

type WorkersConfig struct {
	Monitor MonitorWorkerConfig `yaml:"monitor"`
}

type MonitorWorkerConfig struct {
	Count         int           `yaml:"count"`
	ClaimBatch    int           `yaml:"claim_batch"`
	ClaimInterval time.Duration `yaml:"claim_interval"`
	// Lease is how long a claimed poll task stays invisible before another
	// worker may pick it up again.
	Lease time.Duration `yaml:"lease"`
	// SweepInterval is how often IMPORTING studies without a pending poll
	// are re-armed. Zero sweeps only at startup.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ReportingConfig struct {
	RollbarToken string `yaml:"rollbar_token"`
	Environment  string `yaml:"environment"`
}

func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns a configuration suitable for local runs and tests.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	setString(&c.App.Name, "dicom-ingestion")
	setString(&c.App.Env, "development")
	setInt(&c.Server.Port, 8080)
	setDuration(&c.Server.ReadTimeout, 15*time.Second)
	setDuration(&c.Server.WriteTimeout, 15*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 10*time.Second)
	setInt(&c.Server.DebugPort, 6060)

	setString(&c.MetadataStore, "memory")
	setString(&c.Database.Driver, "mysql")
	setString(&c.Database.Charset, "utf8mb4")
	setString(&c.Database.Loc, "UTC")
	setString(&c.Database.SSLMode, "disable")
	setString(&c.DynamoDB.Table, "dicom-studies")
	setString(&c.DynamoDB.SubmitterIndex, "submitter_id-submitted_at-index")

	setString(&c.Redis.Host, "localhost")
	setInt(&c.Redis.Port, 6379)
	setInt(&c.Redis.PoolSize, 10)
	setString(&c.Redis.PollQueue, "ingestion:poll")
	setString(&c.Redis.DLQSuffix, ":dlq")

	setString(&c.AWS.Region, "us-east-1")
	setString(&c.Storage.Provider, "s3")
	setString(&c.Imaging.Provider, "healthimaging")
	setString(&c.Imaging.HealthImaging.OutputPrefix, "healthimaging-output")

	setInt(&c.Ingestion.PollIntervalSeconds, 30)
	setInt(&c.Ingestion.MaxPollDeadlineSeconds, 6*60*60)
	setInt(&c.Ingestion.ImportTimeoutBackoffCapSeconds, 5*60)
	setInt(&c.Ingestion.CallTimeoutSeconds, 5)
	setInt(&c.Ingestion.StartRetryAttempts, 3)
	setDuration(&c.Ingestion.StartRetryDelay, time.Second)
	if c.MetadataStore == "memory" {
		setString(&c.Ingestion.Scheduler, "inprocess")
	} else {
		setString(&c.Ingestion.Scheduler, "redis")
	}

	setInt(&c.Workers.Monitor.Count, 4)
	setInt(&c.Workers.Monitor.ClaimBatch, 16)
	setDuration(&c.Workers.Monitor.ClaimInterval, time.Second)
	setDuration(&c.Workers.Monitor.Lease, 2*time.Minute)
	setDuration(&c.Workers.Monitor.SweepInterval, 10*time.Minute)

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "json")
}

func (c *Config) Validate() error {
	in := c.Ingestion
	if in.PollIntervalSeconds <= 0 {
		return fmt.Errorf("ingestion.poll_interval_seconds must be positive")
	}
	if in.MaxPollDeadlineSeconds < in.PollIntervalSeconds {
		return fmt.Errorf("ingestion.max_poll_deadline_seconds must be at least the poll interval")
	}
	if in.ImportTimeoutBackoffCapSeconds < in.PollIntervalSeconds {
		return fmt.Errorf("ingestion.import_timeout_backoff_cap_seconds must be at least the poll interval")
	}
	if in.MaxPollAttempts < 0 {
		return fmt.Errorf("ingestion.max_poll_attempts must not be negative")
	}

	switch in.Scheduler {
	case "redis", "inprocess":
	default:
		return fmt.Errorf("unknown ingestion.scheduler %q", in.Scheduler)
	}

	switch c.MetadataStore {
	case "mysql", "postgres", "dynamodb", "memory":
	default:
		return fmt.Errorf("unknown metadata_store %q", c.MetadataStore)
	}
	if c.MetadataStore == "memory" && in.Scheduler == "redis" {
		return fmt.Errorf("metadata_store memory requires ingestion.scheduler inprocess")
	}
	if c.Workers.Monitor.SweepInterval < 0 {
		return fmt.Errorf("workers.monitor.sweep_interval must not be negative")
	}

	switch c.Storage.Provider {
	case "s3", "gcs":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}

	switch c.Imaging.Provider {
	case "healthimaging":
		if c.Storage.Provider != "s3" {
			return fmt.Errorf("imaging provider healthimaging requires s3 storage")
		}
	case "gcp":
		if c.Storage.Provider != "gcs" {
			return fmt.Errorf("imaging provider gcp requires gcs storage")
		}
	default:
		return fmt.Errorf("unknown imaging.provider %q", c.Imaging.Provider)
	}

	return nil
}

// MySQL DSN format: [username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
// clientFoundRows makes RowsAffected count matched rows, which the
// conditional update relies on.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password,
			c.Database.Name, c.Database.SSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=%s&clientFoundRows=true",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.Charset, c.Database.Loc)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// UploadBucket is the bucket holding submitted artifacts.
func (c *Config) UploadBucket() string {
	if c.Storage.Provider == "gcs" {
		return c.Storage.GCS.Bucket
	}
	return c.Storage.S3.Bucket
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}
