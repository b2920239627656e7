package config

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Env     string
	Network string
	Index   string
	Debug   bool
	LogPath string

	GenesisFile string
	DevCalls    bool

	Api           ApiConfig
	Market        MarketConfig
	Currency      CurrencyConfig
	Webhook       WebhookConfig
	ElasticSearch ElasticSearchConfig
	Aws           AwsConfig
}

type ApiConfig struct {
	Port      string
	RateLimit float64
	RateBurst int
}

type MarketConfig struct {
	Address  string
	Owner    string
	Treasury string
	FeeBps   uint64
}

type CurrencyConfig struct {
	Symbol   string
	Decimals int32
}

type WebhookConfig struct {
	Url     string
	Retries int
}

type AwsConfig struct {
	AccessKey string
	SecretKey string
	Token     string
	Region    string
}

type ElasticSearchConfig struct {
	Enabled          bool
	Hosts            []string
	Sniff            bool
	HealthCheck      bool
	Debug            bool
	Username         string
	Password         string
	Aws              bool
	BulkPersistCount int
	Refresh          string
}

var v = newViper()

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	return v
}

// Init loads .env (when present) and the optional CONFIG_FILE, then installs the logger.
func Init() {
	if err := godotenv.Load(".env"); err != nil {
		zap.L().With(zap.Error(err)).Debug("No .env file loaded")
	}

	if file := getString("CONFIG_FILE", ""); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			zap.L().With(zap.Error(err), zap.String("file", file)).Fatal("Unable to read config file")
		}
	}

	initLogger()
}

func initLogger() {
	if err := log.NewLogger(Get().LogPath, Get().Debug, zap.String("network", Get().Network)); err != nil {
		zap.L().With(zap.Error(err), zap.String("path", Get().LogPath)).Fatal("Unable to open log file")
	}
}

func Get() *Config {
	return &Config{
		Env:         getString("ENV", ""),
		Network:     getString("NETWORK", "devnet"),
		Index:       getString("INDEX_NAME", "marketplace"),
		Debug:       getBool("DEBUG", false),
		LogPath:     getString("LOG_PATH", "/tmp/marketplace.log"),
		GenesisFile: getString("GENESIS_FILE", ""),
		DevCalls:    getBool("DEV_CALLS", false),
		Api: ApiConfig{
			Port:      getString("API_PORT", "8080"),
			RateLimit: getFloat("API_RATE_LIMIT", 20),
			RateBurst: getInt("API_RATE_BURST", 40),
		},
		Market: MarketConfig{
			Address:  getString("MARKET_ADDRESS", "0x000000000000000000000000000000000000aa01"),
			Owner:    getString("MARKET_OWNER", ""),
			Treasury: getString("MARKET_TREASURY", ""),
			FeeBps:   getUint64("MARKET_FEE_BPS", 250),
		},
		Currency: CurrencyConfig{
			Symbol:   getString("CURRENCY_SYMBOL", "ZIL"),
			Decimals: int32(getInt("CURRENCY_DECIMALS", 12)),
		},
		Webhook: WebhookConfig{
			Url:     getString("WEBHOOK_URL", ""),
			Retries: getInt("WEBHOOK_RETRIES", 3),
		},
		Aws: AwsConfig{
			AccessKey: getString("AWS_ACCESS_KEY_ID", ""),
			SecretKey: getString("AWS_SECRET_KEY_ID", ""),
			Token:     getString("AWS_TOKEN", ""),
			Region:    getString("AWS_REGION", ""),
		},
		ElasticSearch: ElasticSearchConfig{
			Enabled:          getBool("ELASTIC_SEARCH_ENABLED", false),
			Hosts:            getSlice("ELASTIC_SEARCH_HOSTS", make([]string, 0), ","),
			Sniff:            getBool("ELASTIC_SEARCH_SNIFF", true),
			HealthCheck:      getBool("ELASTIC_SEARCH_HEALTH_CHECK", true),
			Debug:            getBool("ELASTIC_SEARCH_DEBUG", false),
			Username:         getString("ELASTIC_SEARCH_USERNAME", ""),
			Password:         getString("ELASTIC_SEARCH_PASSWORD", ""),
			Aws:              getBool("ELASTIC_SEARCH_AWS", false),
			BulkPersistCount: getInt("ELASTIC_SEARCH_BULK_PERSIST_COUNT", 300),
			Refresh:          getString("ELASTIC_SEARCH_REFRESH", "wait_for"),
		},
	}
}

func getString(key string, defaultValue string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}

	return defaultValue
}

func getInt(key string, defaultValue int) int {
	valStr := getString(key, "")
	val, _, err := big.ParseFloat(valStr, 10, 0, big.ToNearestEven)
	if err != nil {
		return defaultValue
	}

	intVal, _ := val.Int64()
	return int(intVal)
}

func getUint64(key string, defaultValue uint) uint64 {
	return uint64(getInt(key, int(defaultValue)))
}

func getFloat(key string, defaultValue float64) float64 {
	if val, err := strconv.ParseFloat(getString(key, ""), 64); err == nil {
		return val
	}

	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	valStr := getString(key, "")
	if val, err := strconv.ParseBool(valStr); err == nil {
		return val
	}

	return defaultValue
}

func getSlice(key string, defaultVal []string, sep string) []string {
	valStr := getString(key, "")
	if valStr == "" {
		return defaultVal
	}

	return strings.Split(valStr, sep)
}
