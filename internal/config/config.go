package config

import (
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Risk     RiskConfig
	Planning PlanningConfig
	Purchase PurchaseConfig
	Forecast ForecastConfig
	LogLevel string
}

type ServerConfig struct {
	Port           string
	WebhookPort    string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Driver   string
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type CacheConfig struct {
	Enabled             bool
	RedisURL            string
	RedisHost           string
	RedisPort           string
	RedisPassword       string
	RedisDB             int
	DashboardTTLSeconds int
	ParamsTTLHours      int
}

type StorageConfig struct {
	Backend              string // none, minio or drive
	Endpoint             string
	AccessKey            string
	SecretKey            string
	Bucket               string
	Region               string
	UseSSL               bool
	DriveCredentialsJSON string
	DriveFolderID        string
}

// PipelineConfig controls store I/O shared by every stage.
type PipelineConfig struct {
	BatchSize    int
	BatchDelay   time.Duration
	MaxRetries   int
	RetryBackoff time.Duration // multiplied by attempt number
	PageSize     int
	WorkerCount  int
}

type RiskWeights struct {
	Stockout float64
	Excess   float64
	Delivery float64
	Margin   float64
}

// GradeBound is an inclusive upper bound on total_risk for a grade.
type GradeBound struct {
	Grade string
	Upper float64
}

type RiskConfig struct {
	Weights         RiskWeights
	Grades          []GradeBound
	ActionThreshold float64
	SubThreshold    float64
	DemandLookback  int // days
	DefaultLeadAvg  float64
	DefaultLeadP90  float64
}

type PlanningConfig struct {
	HorizonDays    int
	CapacityBuffer float64
	LookbackDays   int
	ExcessDiscount float64
}

type SupplierWeights struct {
	LeadTime    float64
	UnitPrice   float64
	Reliability float64
}

type PurchaseConfig struct {
	OrderingCost    float64
	HoldingRate     float64
	SupplierWeights SupplierWeights
	UrgencyDays     int
	OnTimeLimitDays int
}

// GranularityConfig carries per-granularity forecasting knobs.
type GranularityConfig struct {
	ModelID      string
	CVFolds      int
	MinSamples   int
	MinTrainSize int
	FallbackTail int // trailing periods used by the naive strategy
	FeatureCols  []string
	ParamGrid    map[string][]float64
}

type ForecastConfig struct {
	Strategy     string // gbm or naive
	TrainRatio   float64
	TuneSample   int
	TuningMetric string
	Seed         int64
	Weekly       GranularityConfig
	Monthly      GranularityConfig
	NEstimators  int
	MaxDepth     int
	LearningRate float64
	MinChildSize int
	Subsample    float64
}

var (
	once     sync.Once
	instance *Config
)

// Load reads .env and the process environment once and returns the shared config.
func Load() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		v := viper.GetViper()
		setDefaults(v)
		v.AutomaticEnv()

		instance = build(v)
	})

	return instance
}

// Defaults returns a config populated only from built-in defaults.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	return build(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("WEBHOOK_PORT", "8081")
	v.SetDefault("SERVER_MODE", "release")
	v.SetDefault("SERVER_READ_TIMEOUT", 15)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 600)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "controltower")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_DASHBOARD_TTL_SECONDS", 60)
	v.SetDefault("CACHE_PARAMS_TTL_HOURS", 24*14)

	v.SetDefault("STORAGE_BACKEND", "none")
	v.SetDefault("STORAGE_ENDPOINT", "")
	v.SetDefault("STORAGE_ACCESS_KEY", "")
	v.SetDefault("STORAGE_SECRET_KEY", "")
	v.SetDefault("STORAGE_BUCKET", "controltower")
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_USE_SSL", true)
	v.SetDefault("GOOGLE_DRIVE_CREDENTIALS_JSON", "")
	v.SetDefault("GOOGLE_DRIVE_FOLDER_ID", "")

	v.SetDefault("PIPELINE_BATCH_SIZE", 500)
	v.SetDefault("PIPELINE_BATCH_DELAY_MS", 300)
	v.SetDefault("PIPELINE_MAX_RETRIES", 3)
	v.SetDefault("PIPELINE_RETRY_BACKOFF_SECONDS", 3)
	v.SetDefault("PIPELINE_PAGE_SIZE", 1000)
	v.SetDefault("PIPELINE_WORKERS", 4)

	v.SetDefault("RISK_WEIGHT_STOCKOUT", 0.35)
	v.SetDefault("RISK_WEIGHT_EXCESS", 0.25)
	v.SetDefault("RISK_WEIGHT_DELIVERY", 0.25)
	v.SetDefault("RISK_WEIGHT_MARGIN", 0.15)
	v.SetDefault("RISK_GRADE_BOUNDS", "A:20,B:40,C:60,D:80,F:100")
	v.SetDefault("RISK_ACTION_THRESHOLD", 40)
	v.SetDefault("RISK_SUB_THRESHOLD", 40)
	v.SetDefault("RISK_DEMAND_LOOKBACK_DAYS", 90)
	v.SetDefault("RISK_DEFAULT_LEAD_AVG", 7)
	v.SetDefault("RISK_DEFAULT_LEAD_P90", 14)
	v.SetDefault("SUPPLIER_ON_TIME_DAYS", 30)

	v.SetDefault("PRODUCTION_PLAN_DAYS", 7)
	v.SetDefault("PRODUCTION_CAPACITY_BUFFER", 1.2)
	v.SetDefault("PRODUCTION_LOOKBACK_DAYS", 90)
	v.SetDefault("PRODUCTION_EXCESS_DISCOUNT", 0.9)

	v.SetDefault("ORDERING_COST", 50000)
	v.SetDefault("HOLDING_RATE", 0.2)
	v.SetDefault("SUPPLIER_WEIGHT_LEAD_TIME", 0.4)
	v.SetDefault("SUPPLIER_WEIGHT_UNIT_PRICE", 0.3)
	v.SetDefault("SUPPLIER_WEIGHT_RELIABILITY", 0.3)
	v.SetDefault("PURCHASE_URGENCY_DAYS", 3)

	v.SetDefault("FORECAST_STRATEGY", "gbm")
	v.SetDefault("FORECAST_TRAIN_RATIO", 0.8)
	v.SetDefault("FORECAST_TUNE_SAMPLE", 20)
	v.SetDefault("FORECAST_TUNING_METRIC", "pinball_p50")
	v.SetDefault("FORECAST_SEED", 42)
	v.SetDefault("FORECAST_N_ESTIMATORS", 100)
	v.SetDefault("FORECAST_MAX_DEPTH", 4)
	v.SetDefault("FORECAST_LEARNING_RATE", 0.05)
	v.SetDefault("FORECAST_MIN_CHILD", 5)
	v.SetDefault("FORECAST_SUBSAMPLE", 1.0)
	v.SetDefault("FORECAST_WEEKLY_CV_FOLDS", 3)
	v.SetDefault("FORECAST_WEEKLY_MIN_SAMPLES", 26)
	v.SetDefault("FORECAST_WEEKLY_MIN_TRAIN", 20)
	v.SetDefault("FORECAST_MONTHLY_CV_FOLDS", 3)
	v.SetDefault("FORECAST_MONTHLY_MIN_SAMPLES", 6)
	v.SetDefault("FORECAST_MONTHLY_MIN_TRAIN", 4)
}

func build(v *viper.Viper) *Config {
	return &Config{
		LogLevel: v.GetString("LOG_LEVEL"),
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			WebhookPort:    v.GetString("WEBHOOK_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Driver:   v.GetString("DB_DRIVER"),
			URL:      v.GetString("DATABASE_URL"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Cache: CacheConfig{
			Enabled:             v.GetBool("CACHE_ENABLED"),
			RedisURL:            v.GetString("REDIS_URL"),
			RedisHost:           v.GetString("REDIS_HOST"),
			RedisPort:           v.GetString("REDIS_PORT"),
			RedisPassword:       v.GetString("REDIS_PASSWORD"),
			RedisDB:             v.GetInt("REDIS_DB"),
			DashboardTTLSeconds: v.GetInt("CACHE_DASHBOARD_TTL_SECONDS"),
			ParamsTTLHours:      v.GetInt("CACHE_PARAMS_TTL_HOURS"),
		},
		Storage: StorageConfig{
			Backend:              strings.ToLower(v.GetString("STORAGE_BACKEND")),
			Endpoint:             v.GetString("STORAGE_ENDPOINT"),
			AccessKey:            v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey:            v.GetString("STORAGE_SECRET_KEY"),
			Bucket:               v.GetString("STORAGE_BUCKET"),
			Region:               v.GetString("STORAGE_REGION"),
			UseSSL:               v.GetBool("STORAGE_USE_SSL"),
			DriveCredentialsJSON: v.GetString("GOOGLE_DRIVE_CREDENTIALS_JSON"),
			DriveFolderID:        v.GetString("GOOGLE_DRIVE_FOLDER_ID"),
		},
		Pipeline: PipelineConfig{
			BatchSize:    v.GetInt("PIPELINE_BATCH_SIZE"),
			BatchDelay:   time.Duration(v.GetInt("PIPELINE_BATCH_DELAY_MS")) * time.Millisecond,
			MaxRetries:   v.GetInt("PIPELINE_MAX_RETRIES"),
			RetryBackoff: time.Duration(v.GetInt("PIPELINE_RETRY_BACKOFF_SECONDS")) * time.Second,
			PageSize:     v.GetInt("PIPELINE_PAGE_SIZE"),
			WorkerCount:  v.GetInt("PIPELINE_WORKERS"),
		},
		Risk: RiskConfig{
			Weights: RiskWeights{
				Stockout: v.GetFloat64("RISK_WEIGHT_STOCKOUT"),
				Excess:   v.GetFloat64("RISK_WEIGHT_EXCESS"),
				Delivery: v.GetFloat64("RISK_WEIGHT_DELIVERY"),
				Margin:   v.GetFloat64("RISK_WEIGHT_MARGIN"),
			},
			Grades:          ParseGradeBounds(v.GetString("RISK_GRADE_BOUNDS")),
			ActionThreshold: v.GetFloat64("RISK_ACTION_THRESHOLD"),
			SubThreshold:    v.GetFloat64("RISK_SUB_THRESHOLD"),
			DemandLookback:  v.GetInt("RISK_DEMAND_LOOKBACK_DAYS"),
			DefaultLeadAvg:  v.GetFloat64("RISK_DEFAULT_LEAD_AVG"),
			DefaultLeadP90:  v.GetFloat64("RISK_DEFAULT_LEAD_P90"),
		},
		Planning: PlanningConfig{
			HorizonDays:    v.GetInt("PRODUCTION_PLAN_DAYS"),
			CapacityBuffer: v.GetFloat64("PRODUCTION_CAPACITY_BUFFER"),
			LookbackDays:   v.GetInt("PRODUCTION_LOOKBACK_DAYS"),
			ExcessDiscount: v.GetFloat64("PRODUCTION_EXCESS_DISCOUNT"),
		},
		Purchase: PurchaseConfig{
			OrderingCost:    v.GetFloat64("ORDERING_COST"),
			HoldingRate:     v.GetFloat64("HOLDING_RATE"),
			SupplierWeights: SupplierWeights{
				LeadTime:    v.GetFloat64("SUPPLIER_WEIGHT_LEAD_TIME"),
				UnitPrice:   v.GetFloat64("SUPPLIER_WEIGHT_UNIT_PRICE"),
				Reliability: v.GetFloat64("SUPPLIER_WEIGHT_RELIABILITY"),
			},
			UrgencyDays:     v.GetInt("PURCHASE_URGENCY_DAYS"),
			OnTimeLimitDays: v.GetInt("SUPPLIER_ON_TIME_DAYS"),
		},
		Forecast: ForecastConfig{
			Strategy:     strings.ToLower(v.GetString("FORECAST_STRATEGY")),
			TrainRatio:   v.GetFloat64("FORECAST_TRAIN_RATIO"),
			TuneSample:   v.GetInt("FORECAST_TUNE_SAMPLE"),
			TuningMetric: v.GetString("FORECAST_TUNING_METRIC"),
			Seed:         v.GetInt64("FORECAST_SEED"),
			NEstimators:  v.GetInt("FORECAST_N_ESTIMATORS"),
			MaxDepth:     v.GetInt("FORECAST_MAX_DEPTH"),
			LearningRate: v.GetFloat64("FORECAST_LEARNING_RATE"),
			MinChildSize: v.GetInt("FORECAST_MIN_CHILD"),
			Subsample:    v.GetFloat64("FORECAST_SUBSAMPLE"),
			Weekly: GranularityConfig{
				ModelID:      "gbm_q_weekly_v1",
				CVFolds:      v.GetInt("FORECAST_WEEKLY_CV_FOLDS"),
				MinSamples:   v.GetInt("FORECAST_WEEKLY_MIN_SAMPLES"),
				MinTrainSize: v.GetInt("FORECAST_WEEKLY_MIN_TRAIN"),
				FallbackTail: 13,
				FeatureCols:  WeeklyFeatureCols,
				ParamGrid: map[string][]float64{
					"n_estimators":  {100, 200},
					"max_depth":     {3, 5},
					"learning_rate": {0.03, 0.1},
				},
			},
			Monthly: GranularityConfig{
				ModelID:      "gbm_q_monthly_v1",
				CVFolds:      v.GetInt("FORECAST_MONTHLY_CV_FOLDS"),
				MinSamples:   v.GetInt("FORECAST_MONTHLY_MIN_SAMPLES"),
				MinTrainSize: v.GetInt("FORECAST_MONTHLY_MIN_TRAIN"),
				FallbackTail: 6,
				FeatureCols:  MonthlyFeatureCols,
				ParamGrid: map[string][]float64{
					"n_estimators":  {50, 100},
					"max_depth":     {2, 3},
					"learning_rate": {0.05, 0.1},
				},
			},
		},
	}
}
