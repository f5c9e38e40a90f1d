package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	// Optional queue backend. Empty RedisAddr means jobs run in-process.
	RedisAddr     string
	RedisPassword string

	InboxDir string
	StateDir string

	ScanimageBin string
	ScanadfBin   string
	TiffcpBin    string
	ConvertBin   string

	ScanMock      bool
	MockPageCount int

	ExcludeBackends []string
	PreferBackends  []string

	PersistLastDevice bool

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	TaskMaxRetries int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() Config {
	cfg := Config{
		AppEnv:   getenv("APP_ENV", "development"),
		HTTPAddr: getenv("HTTP_ADDR", ":8081"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		InboxDir: getenv("INBOX_DIR", "inbox"),
		StateDir: os.Getenv("STATE_DIR"),

		ScanimageBin: getenv("SCANIMAGE_BIN", "scanimage"),
		ScanadfBin:   getenv("SCANADF_BIN", "scanadf"),
		TiffcpBin:    getenv("TIFFCP_BIN", "tiffcp"),
		ConvertBin:   getenv("IM_CONVERT_BIN", "convert"),

		ScanMock:      getenvBool("SCAN_MOCK", false),
		MockPageCount: getenvInt("SCAN_MOCK_PAGES", 2),

		ExcludeBackends: getenvList("SCAN_EXCLUDE_BACKENDS", []string{"v4l"}),
		PreferBackends:  getenvList("SCAN_PREFER_BACKENDS", nil),

		PersistLastDevice: getenvBool("SCAN_PERSIST_LAST_DEVICE", true),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getenv("SUPABASE_STORAGE_BUCKET", "scans"),

		TaskMaxRetries: getenvInt("TASK_MAX_RETRIES", 1),
	}

	if path := os.Getenv("SCAN_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			panic(fmt.Errorf("load %s: %w", path, err))
		}
	}

	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(filepath.Dir(cfg.InboxDir), ".state")
	}
	return cfg
}

// fileConfig is the YAML overlay shape; only set keys override env values.
type fileConfig struct {
	HTTPAddr          *string  `yaml:"http_addr"`
	RedisAddr         *string  `yaml:"redis_addr"`
	InboxDir          *string  `yaml:"inbox_dir"`
	StateDir          *string  `yaml:"state_dir"`
	ScanimageBin      *string  `yaml:"scanimage_bin"`
	ScanadfBin        *string  `yaml:"scanadf_bin"`
	TiffcpBin         *string  `yaml:"tiffcp_bin"`
	ConvertBin        *string  `yaml:"convert_bin"`
	ExcludeBackends   []string `yaml:"exclude_backends"`
	PreferBackends    []string `yaml:"prefer_backends"`
	PersistLastDevice *bool    `yaml:"persist_last_device"`
}

func applyFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return err
	}
	if fc.HTTPAddr != nil {
		cfg.HTTPAddr = *fc.HTTPAddr
	}
	if fc.RedisAddr != nil {
		cfg.RedisAddr = *fc.RedisAddr
	}
	if fc.InboxDir != nil {
		cfg.InboxDir = *fc.InboxDir
	}
	if fc.StateDir != nil {
		cfg.StateDir = *fc.StateDir
	}
	if fc.ScanimageBin != nil {
		cfg.ScanimageBin = *fc.ScanimageBin
	}
	if fc.ScanadfBin != nil {
		cfg.ScanadfBin = *fc.ScanadfBin
	}
	if fc.TiffcpBin != nil {
		cfg.TiffcpBin = *fc.TiffcpBin
	}
	if fc.ConvertBin != nil {
		cfg.ConvertBin = *fc.ConvertBin
	}
	if fc.ExcludeBackends != nil {
		cfg.ExcludeBackends = fc.ExcludeBackends
	}
	if fc.PreferBackends != nil {
		cfg.PreferBackends = fc.PreferBackends
	}
	if fc.PersistLastDevice != nil {
		cfg.PersistLastDevice = *fc.PersistLastDevice
	}
	return nil
}
