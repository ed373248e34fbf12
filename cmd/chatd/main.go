// Command chatd runs the character chat daemon: it owns the one
// conversation, supervises the inference worker processes and serves the
// HTTP API on the configured address.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// buildRootCmd constructs the cobra command tree. The root command is the
// daemon itself. Flag defaults come from CHATD_* environment variables where
// noted; explicit flags override config-file values.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Character chat daemon over local llama.cpp workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	fl := root.Flags()
	fl.String("config", "", "Config file (.yaml, .json or .toml)")
	fl.String("addr", envStr("CHATD_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	fl.String("models-dir", envStr("CHATD_MODELS_DIR", "~/models/llm"), "Directory scanned for *.gguf model files")
	fl.String("data-dir", envStr("CHATD_DATA_DIR", "~/.local/share/chatd"), "Directory for conversations and the offload cache")
	fl.String("worker-bin", envStr("CHATD_WORKER_BIN", ""), "Worker binary (default: chatd-worker next to this executable)")
	fl.String("default-model", envStr("CHATD_DEFAULT_MODEL", ""), "Model id or gguf path to load at startup")
	fl.String("embed-model", envStr("CHATD_EMBED_MODEL", ""), "Embedding model id or gguf path; required for retrieval")
	fl.Int("ctx-size", envInt("CHATD_CTX_SIZE", 8192), "Context size in tokens for model loads")
	fl.Int("gpu-layers", envInt("CHATD_GPU_LAYERS", -1), "GPU layers: -1 all, 0 CPU only, N a specific count")
	fl.String("log-level", envStr("CHATD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error|off")
	fl.String("cors-origins", envStr("CHATD_CORS_ORIGINS", ""), "Comma-separated allowed CORS origins; empty disables CORS")

	return root
}
