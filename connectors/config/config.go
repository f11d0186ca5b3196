// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"axonflow/tabula/connectors/sdk"
)

// Image store backends.
const (
	ImageStoreAzure = "azure"
	ImageStoreS3    = "s3"
	ImageStoreGCS   = "gcs"
)

// Config is the full service configuration.
type Config struct {
	Port        int         `yaml:"port"`
	CORSOrigins []string    `yaml:"cors_origins,omitempty"`
	Postgres    Postgres    `yaml:"postgres"`
	Retry       Retry       `yaml:"retry"`
	Mongo       Mongo       `yaml:"mongo"`
	Images      Images      `yaml:"images"`
	LLM         LLM         `yaml:"llm"`
	SQLAgent    SQLAgent    `yaml:"sql_agent"`
	Redis       Redis       `yaml:"redis"`
	RateLimit   RateLimit   `yaml:"rate_limit"`
	Auth        Auth        `yaml:"auth"`
}

// Postgres holds the server the per-project databases live on.
type Postgres struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	User              string `yaml:"user"`
	Password          string `yaml:"password,omitempty"`
	PasswordSecretARN string `yaml:"password_secret_arn,omitempty"`
	DefaultDB         string `yaml:"default_db"`
	SSLMode           string `yaml:"sslmode"`
	MaxOpenConns      int    `yaml:"max_open_conns"`
}

// Retry holds the backoff used for database and LLM calls.
type Retry struct {
	Attempts   int           `yaml:"attempts"`
	Min        time.Duration `yaml:"min"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

// Policy converts the settings into a named retry policy.
func (r Retry) Policy(name string) *sdk.RetryPolicy {
	p := sdk.DefaultRetryPolicy().WithName(name)
	p.MaxAttempts = r.Attempts
	p.InitialInterval = r.Min
	p.MaxInterval = r.Max
	p.Multiplier = r.Multiplier
	return p
}

// Mongo locates the upload metadata collection.
type Mongo struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// Images selects and configures the image blob store.
type Images struct {
	Store  string        `yaml:"store"`
	URLTTL time.Duration `yaml:"url_ttl"`
	Azure  AzureBlob     `yaml:"azure"`
	S3     S3            `yaml:"s3"`
	GCS    GCS           `yaml:"gcs"`
}

type AzureBlob struct {
	AccountName        string `yaml:"account_name"`
	AccountKey         string `yaml:"account_key,omitempty"`
	ConnectionString   string `yaml:"connection_string,omitempty"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
	ServiceURL         string `yaml:"service_url,omitempty"`
	Container          string `yaml:"container"`
}

type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

type GCS struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
}

// LLM selects the completion provider.
type LLM struct {
	Provider        string        `yaml:"provider"`
	APIKey          string        `yaml:"api_key,omitempty"`
	BaseURL         string        `yaml:"base_url,omitempty"`
	Model           string        `yaml:"model,omitempty"`
	Timeout         time.Duration `yaml:"timeout"`
	AzureEndpoint   string        `yaml:"azure_endpoint,omitempty"`
	AzureDeployment string        `yaml:"azure_deployment,omitempty"`
	AzureAPIVersion string        `yaml:"azure_api_version,omitempty"`
}

// SQLAgent bounds the queries the agent runs.
type SQLAgent struct {
	RowLimit     int           `yaml:"row_limit"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

type Redis struct {
	URL string `yaml:"url,omitempty"`
}

// RateLimit caps query requests per project per window.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret,omitempty"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:        8080,
		CORSOrigins: []string{"*"},
		Postgres: Postgres{
			Host:         "localhost",
			Port:         5432,
			User:         "postgres",
			DefaultDB:    "postgres",
			SSLMode:      "disable",
			MaxOpenConns: 10,
		},
		Retry: Retry{
			Attempts:   3,
			Min:        1 * time.Second,
			Max:        10 * time.Second,
			Multiplier: 2,
		},
		Mongo: Mongo{
			URI:        "mongodb://localhost:27017",
			Database:   "tabula",
			Collection: "uploads",
		},
		Images: Images{
			Store:  ImageStoreAzure,
			URLTTL: time.Hour,
			Azure:  AzureBlob{Container: "images"},
			S3:     S3{Region: "us-east-1"},
		},
		LLM: LLM{
			Provider: "openai",
			Timeout:  120 * time.Second,
		},
		SQLAgent: SQLAgent{
			RowLimit:     200,
			QueryTimeout: 30 * time.Second,
		},
		RateLimit: RateLimit{
			Requests: 60,
			Window:   time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// TABULA_CONFIG_FILE (if any) and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("TABULA_CONFIG_FILE"); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides cfg with every recognised environment variable that is
// set. Malformed numbers and durations are reported together.
func ApplyEnv(cfg *Config) error {
	e := &envReader{}

	e.integer("PORT", &cfg.Port)
	e.list("CORS_ALLOWED_ORIGINS", &cfg.CORSOrigins)

	e.str("POSTGRES_HOST", &cfg.Postgres.Host)
	e.integer("POSTGRES_PORT", &cfg.Postgres.Port)
	e.str("POSTGRES_USER", &cfg.Postgres.User)
	e.str("POSTGRES_PASSWORD", &cfg.Postgres.Password)
	e.str("POSTGRES_PASSWORD_SECRET_ARN", &cfg.Postgres.PasswordSecretARN)
	e.str("POSTGRES_DEFAULT_DB", &cfg.Postgres.DefaultDB)
	e.str("POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	e.integer("POSTGRES_MAX_OPEN_CONNS", &cfg.Postgres.MaxOpenConns)

	e.integer("RETRY_ATTEMPTS", &cfg.Retry.Attempts)
	e.seconds("RETRY_MIN", &cfg.Retry.Min)
	e.seconds("RETRY_MAX", &cfg.Retry.Max)
	e.number("RETRY_MULTIPLIER", &cfg.Retry.Multiplier)

	e.str("MONGO_URI", &cfg.Mongo.URI)
	e.str("MONGO_DB_DATABASE", &cfg.Mongo.Database)
	e.str("MONGO_DB_COLLECTION", &cfg.Mongo.Collection)

	e.str("IMAGE_STORE", &cfg.Images.Store)
	e.seconds("IMAGE_URL_TTL", &cfg.Images.URLTTL)
	e.str("AZURE_STORAGE_ACCOUNT", &cfg.Images.Azure.AccountName)
	e.str("AZURE_STORAGE_KEY", &cfg.Images.Azure.AccountKey)
	e.str("AZURE_STORAGE_CONNECTION_STRING", &cfg.Images.Azure.ConnectionString)
	e.flag("AZURE_USE_MANAGED_IDENTITY", &cfg.Images.Azure.UseManagedIdentity)
	e.str("AZURE_STORAGE_URL", &cfg.Images.Azure.ServiceURL)
	e.str("AZURE_STORAGE_CONTAINER", &cfg.Images.Azure.Container)
	e.str("S3_BUCKET", &cfg.Images.S3.Bucket)
	e.str("AWS_REGION", &cfg.Images.S3.Region)
	e.str("S3_ENDPOINT", &cfg.Images.S3.Endpoint)
	e.flag("S3_FORCE_PATH_STYLE", &cfg.Images.S3.ForcePathStyle)
	e.str("S3_ACCESS_KEY_ID", &cfg.Images.S3.AccessKeyID)
	e.str("S3_SECRET_ACCESS_KEY", &cfg.Images.S3.SecretAccessKey)
	e.str("GCS_BUCKET", &cfg.Images.GCS.Bucket)
	e.str("GCS_CREDENTIALS_FILE", &cfg.Images.GCS.CredentialsFile)
	e.str("GCS_ENDPOINT", &cfg.Images.GCS.Endpoint)

	e.str("LLM_PROVIDER", &cfg.LLM.Provider)
	e.str("LLM_BASE_URL", &cfg.LLM.BaseURL)
	e.str("LLM_MODEL", &cfg.LLM.Model)
	e.seconds("LLM_TIMEOUT", &cfg.LLM.Timeout)
	e.str("AZURE_OPENAI_ENDPOINT", &cfg.LLM.AzureEndpoint)
	e.str("AZURE_OPENAI_DEPLOYMENT", &cfg.LLM.AzureDeployment)
	e.str("AZURE_OPENAI_API_VERSION", &cfg.LLM.AzureAPIVersion)
	// The generic key wins over the provider-specific one.
	e.str(providerKeyEnv(cfg.LLM.Provider), &cfg.LLM.APIKey)
	e.str("LLM_API_KEY", &cfg.LLM.APIKey)

	e.integer("SQL_ROW_LIMIT", &cfg.SQLAgent.RowLimit)
	e.seconds("SQL_QUERY_TIMEOUT", &cfg.SQLAgent.QueryTimeout)

	e.str("REDIS_URL", &cfg.Redis.URL)
	e.integer("RATE_LIMIT_REQUESTS", &cfg.RateLimit.Requests)
	e.seconds("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)

	e.str("AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)

	return errors.Join(e.errs...)
}

func providerKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "groq":
		return "GROQ_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "azure", "azure-openai":
		return "AZURE_OPENAI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// Validate checks values that would otherwise fail late at first use.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.Postgres.Host == "" {
		errs = append(errs, errors.New("postgres host is required"))
	}
	if c.Postgres.DefaultDB == "" {
		errs = append(errs, errors.New("postgres default database is required"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry attempts must be at least 1, got %d", c.Retry.Attempts))
	}
	if c.Retry.Min < 0 || c.Retry.Max < c.Retry.Min {
		errs = append(errs, fmt.Errorf("retry interval range invalid: min %s, max %s", c.Retry.Min, c.Retry.Max))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry multiplier must be at least 1, got %g", c.Retry.Multiplier))
	}
	switch c.Images.Store {
	case ImageStoreAzure, ImageStoreS3, ImageStoreGCS:
	default:
		errs = append(errs, fmt.Errorf("image store must be one of azure, s3, gcs; got %q", c.Images.Store))
	}
	if c.SQLAgent.RowLimit <= 0 {
		errs = append(errs, fmt.Errorf("sql row limit must be positive, got %d", c.SQLAgent.RowLimit))
	}
	if c.RateLimit.Requests < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %d", c.RateLimit.Requests))
	}
	return errors.Join(errs...)
}

// envReader collects parse errors so one bad variable doesn't hide others.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %q is not an integer", key, v))
		return
	}
	*dst = n
}

func (e *envReader) number(key string, dst *float64) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %q is not a number", key, v))
		return
	}
	*dst = f
}

func (e *envReader) flag(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %q is not a boolean", key, v))
		return
	}
	*dst = b
}

// seconds accepts a bare number of seconds ("1.5") or a Go duration ("1500ms").
func (e *envReader) seconds(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := parseSeconds(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return
	}
	*dst = d
}

func parseSeconds(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f < 0 {
			return 0, fmt.Errorf("%q is negative", v)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%q is neither seconds nor a duration", v)
	}
	if d < 0 {
		return 0, fmt.Errorf("%q is negative", v)
	}
	return d, nil
}
