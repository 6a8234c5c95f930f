// server/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// --- Các struct con, phản ánh cấu trúc của YAML ---

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
}

// CRMConfig mô tả kết nối tới Dynamics 365 Web API.
type CRMConfig struct {
	BaseURL    string        `mapstructure:"baseURL"`  // ví dụ https://org.crm5.dynamics.com/api/data/v9.2
	TokenURL   string        `mapstructure:"tokenURL"` // Logic App trả về access token
	Timeout    time.Duration `mapstructure:"timeout"`
	PendingTop int           `mapstructure:"pendingTop"`
	AllTop     int           `mapstructure:"allTop"`
	TokenSkew  time.Duration `mapstructure:"tokenSkew"`
}

type AuthConfig struct {
	// DefaultPassword cho tài khoản chưa có mật khẩu. Để trống để tắt.
	DefaultPassword string `mapstructure:"defaultPassword"`
	BcryptCost      int    `mapstructure:"bcryptCost"`
}

type MongoConfig struct {
	URI    string `mapstructure:"uri"`
	DBName string `mapstructure:"dbName"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

type S3Config struct {
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	AccessKeyID      string `mapstructure:"accessKeyID"`
	SecretAccessKey  string `mapstructure:"secretAccessKey"`
	CloudFrontDomain string `mapstructure:"cloudFrontDomain"`
}

type WorkflowConfig struct {
	CapToOriginal bool          `mapstructure:"capToOriginal"`
	MaxQuantity   int           `mapstructure:"maxQuantity"`
	MaxLeadDays   int           `mapstructure:"maxLeadDays"`
	Timezone      string        `mapstructure:"timezone"`
	PendingWindow time.Duration `mapstructure:"pendingWindow"`
	UrgentWindow  time.Duration `mapstructure:"urgentWindow"`
}

type SyncConfig struct {
	Workers         int           `mapstructure:"workers"`
	InitialInterval time.Duration `mapstructure:"initialInterval"`
	MaxInterval     time.Duration `mapstructure:"maxInterval"`
	MaxAttempts     int           `mapstructure:"maxAttempts"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// --- Struct Config chính, bao gồm tất cả các struct con ---

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	CRM      CRMConfig      `mapstructure:"crm"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	S3       S3Config       `mapstructure:"s3"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Log      LogConfig      `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdownTimeout", 30*time.Second)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("crm.timeout", 20*time.Second)
	v.SetDefault("crm.pendingTop", 50)
	v.SetDefault("crm.allTop", 100)
	v.SetDefault("crm.tokenSkew", time.Minute)
	v.SetDefault("auth.bcryptCost", 12)
	v.SetDefault("mongo.dbName", "supplier_portal")
	v.SetDefault("jwt.expiration", 24*time.Hour)
	v.SetDefault("workflow.capToOriginal", true)
	v.SetDefault("workflow.maxQuantity", 999999)
	v.SetDefault("workflow.maxLeadDays", 30)
	v.SetDefault("workflow.timezone", "Asia/Ho_Chi_Minh")
	v.SetDefault("workflow.pendingWindow", 6*time.Hour)
	v.SetDefault("workflow.urgentWindow", 30*time.Minute)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.initialInterval", 2*time.Second)
	v.SetDefault("sync.maxInterval", 5*time.Minute)
	v.SetDefault("sync.maxAttempts", 8)
	v.SetDefault("sync.writeTimeout", 20*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig đọc cấu hình từ file và ghi đè bằng các biến môi trường.
func LoadConfig(path string) (config Config, err error) {
	// File .env là tùy chọn, dùng khi chạy local.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)

	v.AutomaticEnv()
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("crm.baseURL", "CRM_BASE_URL")
	v.BindEnv("crm.tokenURL", "CRM_TOKEN_URL")
	v.BindEnv("crm.timeout", "CRM_TIMEOUT")
	v.BindEnv("auth.defaultPassword", "AUTH_DEFAULT_PASSWORD")
	v.BindEnv("mongo.uri", "MONGO_URI")
	v.BindEnv("mongo.dbName", "MONGO_DBNAME")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	v.BindEnv("s3.bucket", "S3_BUCKET")
	v.BindEnv("s3.region", "S3_REGION")
	v.BindEnv("s3.accessKeyID", "S3_ACCESS_KEY_ID")
	v.BindEnv("s3.secretAccessKey", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("s3.cloudFrontDomain", "S3_CLOUDFRONT_DOMAIN")
	v.BindEnv("workflow.capToOriginal", "WORKFLOW_CAP_TO_ORIGINAL")
	v.BindEnv("workflow.timezone", "WORKFLOW_TIMEZONE")
	v.BindEnv("log.level", "LOG_LEVEL")

	// Nếu file không tồn tại, Viper sẽ chỉ sử dụng các biến môi trường.
	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}

// Validate kiểm tra các giá trị bắt buộc.
func (c Config) Validate() error {
	if c.CRM.BaseURL == "" || c.CRM.TokenURL == "" {
		return errors.New("config: crm.baseURL and crm.tokenURL are required")
	}
	if c.JWT.Secret == "" {
		return errors.New("config: jwt.secret is required")
	}
	if _, err := c.Workflow.LoadLocation(); err != nil {
		return err
	}
	return nil
}

// LoadLocation trả về múi giờ dùng cho so sánh ngày giao.
func (w WorkflowConfig) LoadLocation() (*time.Location, error) {
	if w.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: workflow.timezone: %w", err)
	}
	return loc, nil
}
