package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"chatd/internal/config"
	"chatd/internal/convstore"
)

// resolveConfig merges the three setting sources. Precedence: explicit flag,
// then config file, then the flag default (the CHATD_* environment value
// when set, or the built-in).
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	fl := cmd.Flags()

	var cfg config.Config
	if path, _ := fl.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	flagStr := func(name string, dst *string) {
		if v, _ := fl.GetString(name); fl.Changed(name) || *dst == "" {
			*dst = v
		}
	}
	flagInt := func(name string, dst *int) {
		if v, _ := fl.GetInt(name); fl.Changed(name) || *dst == 0 {
			*dst = v
		}
	}

	flagStr("addr", &cfg.Addr)
	flagStr("models-dir", &cfg.ModelsDir)
	flagStr("data-dir", &cfg.DataDir)
	flagStr("worker-bin", &cfg.WorkerBin)
	flagStr("default-model", &cfg.DefaultModel)
	flagStr("embed-model", &cfg.EmbedModel)
	flagStr("log-level", &cfg.LogLevel)
	flagInt("ctx-size", &cfg.CtxSize)
	// GPULayers zero in a file means "unspecified" (CPU-only loads are
	// requested per call through the API), so the flag default applies.
	flagInt("gpu-layers", &cfg.GPULayers)

	if v, _ := fl.GetString("cors-origins"); fl.Changed("cors-origins") || len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}

	if cfg.ConvStore == "" {
		cfg.ConvStore = convstore.DriverFile
	}
	if cfg.CacheFile == "" {
		cfg.CacheFile = "capacity.json"
	}
	return cfg, nil
}

// splitCSV splits a comma-separated flag value, trimming whitespace and
// dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Env helpers for flag defaults.

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
