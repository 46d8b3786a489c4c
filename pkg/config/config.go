package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/granola/granola/internal/domain"
)

// OrderServiceConfig 远端订单服务
type OrderServiceConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int // 只对 GET 生效
	// RateLimit 每秒请求数上限，0 表示不限制
	RateLimit float64
}

// StoreConfig 本地订单簿同步
type StoreConfig struct {
	PollInterval   time.Duration
	GraceWindow    time.Duration
	RequestTimeout time.Duration
}

// RelayConfig relay 连接
type RelayConfig struct {
	Defaults       []string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	Handshake      []json.RawMessage
}

// LogConfig 日志
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // 天
	Compress   bool
}

// ServerConfig 参考订单服务（cmd/order-server）
type ServerConfig struct {
	Addr      string
	Backend   string // sqlite | badger
	DBPath    string
	SeedCount int // 0 表示不写入假订单
}

// Config 运行配置
type Config struct {
	OrderService OrderServiceConfig
	Store        StoreConfig
	Relay        RelayConfig
	// InitialBalances 启动时的可用余额；未列出的币种为 0
	InitialBalances map[domain.Currency]decimal.Decimal
	// ReserveMinimums 每个币种锁定后必须保留的最低可用余额
	ReserveMinimums map[domain.Currency]decimal.Decimal
	Log             LogConfig
	MetricsAddr     string // 为空则不启动 metrics 服务
	Server          ServerConfig
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
// 时长字段用字符串（"10s"、"1m30s"），两种格式写法一致
type ConfigFile struct {
	OrderService struct {
		BaseURL    string   `yaml:"base_url" json:"base_url"`
		Timeout    string   `yaml:"timeout" json:"timeout"`
		RetryCount *int     `yaml:"retry_count" json:"retry_count"`
		RateLimit  *float64 `yaml:"rate_limit" json:"rate_limit"`
	} `yaml:"order_service" json:"order_service"`
	Store struct {
		PollInterval   string `yaml:"poll_interval" json:"poll_interval"`
		GraceWindow    string `yaml:"grace_window" json:"grace_window"`
		RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
	} `yaml:"store" json:"store"`
	Relay struct {
		Defaults       []string `yaml:"defaults" json:"defaults"`
		ReconnectDelay string   `yaml:"reconnect_delay" json:"reconnect_delay"`
		DialTimeout    string   `yaml:"dial_timeout" json:"dial_timeout"`
		// Handshake 每条是一段 JSON 文本
		Handshake []string `yaml:"handshake" json:"handshake"`
	} `yaml:"relay" json:"relay"`
	Balances struct {
		Initial map[string]decimal.Decimal `yaml:"initial" json:"initial"`
		Reserve map[string]decimal.Decimal `yaml:"reserve" json:"reserve"`
	} `yaml:"balances" json:"balances"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		Compress   *bool  `yaml:"compress" json:"compress"`
	} `yaml:"log" json:"log"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	Server      struct {
		Addr      string `yaml:"addr" json:"addr"`
		Backend   string `yaml:"backend" json:"backend"`
		DBPath    string `yaml:"db_path" json:"db_path"`
		SeedCount *int   `yaml:"seed_count" json:"seed_count"`
	} `yaml:"server" json:"server"`
}

// DefaultInitialBalances 演示账户的初始余额
func DefaultInitialBalances() map[domain.Currency]decimal.Decimal {
	return map[domain.Currency]decimal.Decimal{
		domain.CurrencySat: decimal.NewFromInt(212121),
		domain.CurrencyBRL: decimal.NewFromInt(4242),
		domain.CurrencyUSD: decimal.NewFromInt(1031),
		domain.CurrencyEUR: decimal.NewFromInt(2140),
		domain.CurrencyCHF: decimal.NewFromInt(6102),
	}
}

// Default 默认配置（不读环境变量）
func Default() *Config {
	return &Config{
		OrderService: OrderServiceConfig{
			BaseURL:    "http://localhost:8080",
			Timeout:    10 * time.Second,
			RetryCount: 2,
			RateLimit:  10,
		},
		Store: StoreConfig{
			PollInterval:   10 * time.Second,
			GraceWindow:    30 * time.Second,
			RequestTimeout: 8 * time.Second,
		},
		Relay: RelayConfig{
			Defaults:       []string{"wss://relay.example.com"},
			ReconnectDelay: 5 * time.Second,
			DialTimeout:    15 * time.Second,
		},
		InitialBalances: DefaultInitialBalances(),
		ReserveMinimums: map[domain.Currency]decimal.Decimal{},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:8080",
			Backend:   "sqlite",
			DBPath:    "granola.db",
			SeedCount: 7,
		},
	}
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置
// 优先级：配置文件 > 环境变量（GRANOLA_*）> 默认值
func LoadFromFile(filePath string) (*Config, error) {
	config := Default()
	applyEnv(config)

	if filePath != "" {
		configFile, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := applyFile(config, configFile); err != nil {
			return nil, fmt.Errorf("配置文件 %s 无效: %w", filePath, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	configFilePath = filePath
	globalConfig = config
	return config, nil
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func applyEnv(c *Config) {
	c.OrderService.BaseURL = getEnv("GRANOLA_API_BASE", c.OrderService.BaseURL)
	c.OrderService.RetryCount = parseIntEnv("GRANOLA_API_RETRY_COUNT", c.OrderService.RetryCount)
	c.Store.PollInterval = parseDurationEnv("GRANOLA_POLL_INTERVAL", c.Store.PollInterval)
	c.Store.GraceWindow = parseDurationEnv("GRANOLA_GRACE_WINDOW", c.Store.GraceWindow)
	c.Relay.ReconnectDelay = parseDurationEnv("GRANOLA_RECONNECT_DELAY", c.Relay.ReconnectDelay)
	if v, ok := os.LookupEnv("GRANOLA_RELAYS"); ok {
		c.Relay.Defaults = parseList(v)
	}
	c.Log.Level = getEnv("GRANOLA_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("GRANOLA_LOG_FILE", c.Log.File)
	c.MetricsAddr = getEnv("GRANOLA_METRICS_ADDR", c.MetricsAddr)
	c.Server.Addr = getEnv("GRANOLA_SERVER_ADDR", c.Server.Addr)
	c.Server.Backend = getEnv("GRANOLA_DB_BACKEND", c.Server.Backend)
	c.Server.DBPath = getEnv("GRANOLA_DB_PATH", c.Server.DBPath)
	c.Server.SeedCount = parseIntEnv("GRANOLA_SEED_COUNT", c.Server.SeedCount)
}

// applyFile 只覆盖配置文件里出现的字段
func applyFile(c *Config, cf *ConfigFile) error {
	var err error
	set := func(dst *time.Duration, field, raw string) {
		if err != nil || raw == "" {
			return
		}
		d, perr := time.ParseDuration(raw)
		if perr != nil {
			err = fmt.Errorf("%s: %w", field, perr)
			return
		}
		*dst = d
	}

	if cf.OrderService.BaseURL != "" {
		c.OrderService.BaseURL = cf.OrderService.BaseURL
	}
	set(&c.OrderService.Timeout, "order_service.timeout", cf.OrderService.Timeout)
	if cf.OrderService.RetryCount != nil {
		c.OrderService.RetryCount = *cf.OrderService.RetryCount
	}
	if cf.OrderService.RateLimit != nil {
		c.OrderService.RateLimit = *cf.OrderService.RateLimit
	}

	set(&c.Store.PollInterval, "store.poll_interval", cf.Store.PollInterval)
	set(&c.Store.GraceWindow, "store.grace_window", cf.Store.GraceWindow)
	set(&c.Store.RequestTimeout, "store.request_timeout", cf.Store.RequestTimeout)

	// 显式写了空列表也算覆盖
	if cf.Relay.Defaults != nil {
		c.Relay.Defaults = cf.Relay.Defaults
	}
	set(&c.Relay.ReconnectDelay, "relay.reconnect_delay", cf.Relay.ReconnectDelay)
	set(&c.Relay.DialTimeout, "relay.dial_timeout", cf.Relay.DialTimeout)
	if err != nil {
		return err
	}
	for i, raw := range cf.Relay.Handshake {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("relay.handshake[%d] 不是合法 JSON", i)
		}
		c.Relay.Handshake = append(c.Relay.Handshake, json.RawMessage(raw))
	}

	if cf.Balances.Initial != nil {
		m, perr := currencyMap(cf.Balances.Initial)
		if perr != nil {
			return fmt.Errorf("balances.initial: %w", perr)
		}
		c.InitialBalances = m
	}
	if cf.Balances.Reserve != nil {
		m, perr := currencyMap(cf.Balances.Reserve)
		if perr != nil {
			return fmt.Errorf("balances.reserve: %w", perr)
		}
		c.ReserveMinimums = m
	}

	if cf.Log.Level != "" {
		c.Log.Level = cf.Log.Level
	}
	if cf.Log.File != "" {
		c.Log.File = cf.Log.File
	}
	if cf.Log.MaxSize > 0 {
		c.Log.MaxSize = cf.Log.MaxSize
	}
	if cf.Log.MaxBackups > 0 {
		c.Log.MaxBackups = cf.Log.MaxBackups
	}
	if cf.Log.MaxAge > 0 {
		c.Log.MaxAge = cf.Log.MaxAge
	}
	if cf.Log.Compress != nil {
		c.Log.Compress = *cf.Log.Compress
	}

	if cf.MetricsAddr != "" {
		c.MetricsAddr = cf.MetricsAddr
	}

	if cf.Server.Addr != "" {
		c.Server.Addr = cf.Server.Addr
	}
	if cf.Server.Backend != "" {
		c.Server.Backend = cf.Server.Backend
	}
	if cf.Server.DBPath != "" {
		c.Server.DBPath = cf.Server.DBPath
	}
	if cf.Server.SeedCount != nil {
		c.Server.SeedCount = *cf.Server.SeedCount
	}
	return nil
}

func currencyMap(in map[string]decimal.Decimal) (map[domain.Currency]decimal.Decimal, error) {
	out := make(map[domain.Currency]decimal.Decimal, len(in))
	for k, v := range in {
		c, err := domain.ParseCurrency(k)
		if err != nil {
			return nil, err
		}
		out[c] = v
	}
	return out, nil
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	u, err := url.Parse(c.OrderService.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("order_service.base_url 无效: %q", c.OrderService.BaseURL)
	}
	if c.OrderService.RetryCount < 0 {
		return fmt.Errorf("order_service.retry_count 不能为负数")
	}
	if c.OrderService.RateLimit < 0 {
		return fmt.Errorf("order_service.rate_limit 不能为负数")
	}
	if c.Store.PollInterval <= 0 {
		return fmt.Errorf("store.poll_interval 必须大于 0")
	}
	if c.Store.GraceWindow < 0 {
		return fmt.Errorf("store.grace_window 不能为负数")
	}
	if c.Relay.ReconnectDelay <= 0 {
		return fmt.Errorf("relay.reconnect_delay 必须大于 0")
	}
	for _, raw := range c.Relay.Defaults {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("relay 地址无效: %q (需要 ws:// 或 wss://)", raw)
		}
	}
	for cur, v := range c.InitialBalances {
		if v.IsNegative() {
			return fmt.Errorf("%s 初始余额不能为负数", cur)
		}
	}
	for cur, v := range c.ReserveMinimums {
		if v.IsNegative() {
			return fmt.Errorf("%s 最低保留余额不能为负数", cur)
		}
	}
	switch c.Server.Backend {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("server.backend 不支持: %q (支持 sqlite, badger)", c.Server.Backend)
	}
	if c.Server.SeedCount < 0 {
		return fmt.Errorf("server.seed_count 不能为负数")
	}
	return nil
}

func parseList(str string) []string {
	out := []string{}
	for _, s := range strings.Split(str, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnv 获取环境变量
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseDurationEnv 解析时长环境变量（"10s"）
func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
