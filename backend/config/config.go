package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds runtime options for the overlay service.
type Config struct {
	ListenAddr       string `json:"listenAddr"`
	DataDir          string `json:"dataDir"`
	DBPath           string `json:"dbPath"`
	APIBase          string `json:"apiBase"`
	AllowOrigin      string `json:"allowOrigin"`
	DebugMode        bool   `json:"debugMode"`
	EnableDebugLogs  bool   `json:"enableDebugLogs"`
	BiliAccessKey    string `json:"biliAccessKey"`
	BiliAccessSecret string `json:"biliAccessSecret"`
	BiliAppID        int64  `json:"biliAppId"`
	ConfigFile       string `json:"configFile"`
}

func resolveConfigFilePath() (string, error) {
	path := strings.TrimSpace(os.Getenv("DOVE_CONFIG_FILE"))
	if path == "" {
		path = defaultConfigFilePath()
	}
	return filepath.Abs(path)
}

func defaultConfigFilePath() string {
	defaultPath := filepath.FromSlash("./data/config.json")
	repoPath := filepath.FromSlash("./dove/data/config.json")
	for _, candidate := range []string{defaultPath, repoPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	if info, err := os.Stat(filepath.FromSlash("./dove")); err == nil && info.IsDir() {
		return repoPath
	}
	return defaultPath
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt64OrDefault(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed <= 0 {
		return fallback
	}
	return parsed
}

func defaultConfig(configFile string) Config {
	baseDir := filepath.Dir(configFile)
	cfg := Config{
		ListenAddr:       envOrDefault("DOVE_LISTEN", ":18080"),
		DataDir:          envOrDefault("DOVE_DATA_DIR", baseDir),
		APIBase:          envOrDefault("DOVE_API_BASE", "/api/v1"),
		AllowOrigin:      envOrDefault("DOVE_ALLOW_ORIGIN", "*"),
		DebugMode:        strings.EqualFold(envOrDefault("DOVE_DEBUG", "false"), "true"),
		EnableDebugLogs:  strings.EqualFold(envOrDefault("DOVE_DEBUG", "false"), "true"),
		BiliAccessKey:    envOrDefault("DOVE_BILI_ACCESS_KEY", ""),
		BiliAccessSecret: envOrDefault("DOVE_BILI_ACCESS_SECRET", ""),
		BiliAppID:        envInt64OrDefault("DOVE_BILI_APP_ID", 0),
		ConfigFile:       configFile,
	}
	cfg = normalizeConfig(cfg, configFile)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "db", "app.db")
	}
	cfg.ConfigFile = configFile
	return cfg
}

func normalizeConfig(cfg Config, configFile string) Config {
	configDir := filepath.Dir(configFile)
	cfg.ConfigFile = configFile

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":18080"
	}
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = "/api/v1"
	}
	if !strings.HasPrefix(cfg.APIBase, "/") {
		cfg.APIBase = "/" + cfg.APIBase
	}
	cfg.APIBase = strings.TrimSuffix(cfg.APIBase, "/")
	if cfg.APIBase == "" {
		cfg.APIBase = "/api/v1"
	}
	if strings.TrimSpace(cfg.AllowOrigin) == "" {
		cfg.AllowOrigin = "*"
	}
	if cfg.DebugMode {
		cfg.EnableDebugLogs = true
	}
	cfg.DebugMode = cfg.EnableDebugLogs

	cfg.DataDir = absPathWithBase(cfg.DataDir, configDir)
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = configDir
	}

	cfg.DBPath = absPathWithBase(cfg.DBPath, configDir)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "db", "app.db")
	}
	return cfg
}

func absPathWithBase(target string, base string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	if filepath.IsAbs(target) {
		return target
	}
	if base == "" {
		if abs, err := filepath.Abs(target); err == nil {
			return abs
		}
		return target
	}
	if abs, err := filepath.Abs(filepath.Join(base, target)); err == nil {
		return abs
	}
	return filepath.Join(base, target)
}

// Load keeps backward compatibility by returning the current config snapshot.
func Load() (Config, error) {
	manager, err := NewManager()
	if err != nil {
		return Config{}, err
	}
	cfg := manager.Current()
	manager.StopWatching()
	return cfg, nil
}
