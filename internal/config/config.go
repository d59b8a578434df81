package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 是所有环境变量的前缀，例如 GOALY_LISTEN_ADDR。
const EnvPrefix = "GOALY"

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string
	DatabasePath      string
	SessionSecret     string
	GinMode           string
	LogLevel          string
	LogFile           string
	SuperRootUserName string
	SuperRootPassword string

	RemoteBaseURL      string
	RemoteClientID     string
	RemoteClientSecret string
	SyncDebounce       time.Duration
	SyncAuto           bool

	DocstoreListenAddr   string
	DocstoreDatabasePath string
	DocstoreTokenTTL     time.Duration

	// ConfigFile 是实际读取到的配置文件路径，没有时为空。
	ConfigFile string
}

var defaults = map[string]any{
	"listen_addr":            ":8080",
	"database_path":          "goaly.db",
	"session_secret":         "goaly-dev-secret",
	"gin_mode":               "release",
	"log_level":              "info",
	"log_file":               "",
	"super_root_user_name":   "",
	"super_root_password":    "",
	"remote_base_url":        "",
	"remote_client_id":       "goaly",
	"remote_client_secret":   "",
	"sync_debounce":          "2s",
	"sync_auto":              true,
	"docstore_listen_addr":   ":8090",
	"docstore_database_path": "docstore.db",
	"docstore_token_ttl":     "1h",
}

// Load 读取应用配置：先加载工作目录下的 .env（不存在时忽略），
// 再合并 goaly.yaml/goaly.toml 配置文件（GOALY_CONFIG 可指定路径）与 GOALY_ 前缀的环境变量，
// 缺失项使用安全的默认值。
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG")); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("goaly")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return AppConfig{}, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) AppConfig {
	str := func(key string) string {
		return strings.TrimSpace(v.GetString(key))
	}
	duration := func(key string) time.Duration {
		d := v.GetDuration(key)
		if d <= 0 {
			fallback, _ := time.ParseDuration(defaults[key].(string))
			return fallback
		}
		return d
	}

	cfg := AppConfig{
		ListenAddr:           str("listen_addr"),
		DatabasePath:         str("database_path"),
		SessionSecret:        str("session_secret"),
		GinMode:              str("gin_mode"),
		LogLevel:             strings.ToLower(str("log_level")),
		LogFile:              str("log_file"),
		SuperRootUserName:    str("super_root_user_name"),
		SuperRootPassword:    str("super_root_password"),
		RemoteBaseURL:        strings.TrimRight(str("remote_base_url"), "/"),
		RemoteClientID:       str("remote_client_id"),
		RemoteClientSecret:   str("remote_client_secret"),
		SyncDebounce:         duration("sync_debounce"),
		SyncAuto:             v.GetBool("sync_auto"),
		DocstoreListenAddr:   str("docstore_listen_addr"),
		DocstoreDatabasePath: str("docstore_database_path"),
		DocstoreTokenTTL:     duration("docstore_token_ttl"),
		ConfigFile:           v.ConfigFileUsed(),
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults["listen_addr"].(string)
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaults["database_path"].(string)
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = defaults["session_secret"].(string)
	}
	if cfg.GinMode == "" {
		cfg.GinMode = defaults["gin_mode"].(string)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults["log_level"].(string)
	}
	if cfg.RemoteClientID == "" {
		cfg.RemoteClientID = defaults["remote_client_id"].(string)
	}
	if cfg.DocstoreListenAddr == "" {
		cfg.DocstoreListenAddr = defaults["docstore_listen_addr"].(string)
	}
	if cfg.DocstoreDatabasePath == "" {
		cfg.DocstoreDatabasePath = defaults["docstore_database_path"].(string)
	}
	return cfg
}

// RemoteConfigured 报告是否配置了远端文档存储。
func (c AppConfig) RemoteConfigured() bool {
	return c.RemoteBaseURL != ""
}
