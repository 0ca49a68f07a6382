// cmd/personakit/main.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Corphon/PersonaKit/internal/app"
	"github.com/Corphon/PersonaKit/internal/config"
	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/llm"
	"github.com/Corphon/PersonaKit/internal/utils"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// 测试注入的提供者，为 nil 时使用配置
	providerOverride llm.Provider
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "personakit",
		Short: "PersonaKit - persona generation, dialogue and multi-perspective validation",
		Long: `PersonaKit generates synthetic personas (users, experts, organizations),
holds multi-turn conversations with them through pluggable LLM providers,
and asks one question to several personas at once to compare perspectives.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $PERSONAKIT_CONFIG or ~/.personakit/config.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newCharacterCmd(),
		newChatCmd(),
		newValidateCmd(),
		newReportCmd(),
		newDataCmd(),
		newServeCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", summarize(err))
		os.Exit(1)
	}
}

// summarize 单行错误摘要
func summarize(err error) string {
	msg := err.Error()
	if kind := apperrors.KindOf(err); kind != "" {
		msg = fmt.Sprintf("[%s] %s", kind, msg)
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}

// openApp 加载配置并组装服务；CLI 默认静默日志
func openApp() (*app.App, error) {
	return buildApp(verbose)
}

func buildApp(logging bool) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := utils.NopLogger()
	if logging {
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = utils.NewLogger(utils.LoggerOptions{Level: level, File: cfg.Logging.File, JSON: cfg.Logging.JSON})
		if err != nil {
			return nil, err
		}
	}

	opts := []app.Option{app.WithLogger(logger)}
	if providerOverride != nil {
		opts = append(opts, app.WithProvider(providerOverride))
	}
	return app.New(cfg, opts...)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
