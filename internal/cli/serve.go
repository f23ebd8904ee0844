package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hakim/nexo/internal/backends"
	"github.com/hakim/nexo/internal/config"
	"github.com/hakim/nexo/internal/gateway"
	"github.com/hakim/nexo/internal/logger"
	"github.com/hakim/nexo/pkg/hub"
	"github.com/hakim/nexo/pkg/llm"
	"github.com/hakim/nexo/pkg/mcp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent gateway",
	Long: `Starts the HTTP gateway: streaming chat sessions, capability
listing and the builtin file backend.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return err
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	provider, err := providerFromConfig(cfg)
	if err != nil {
		return err
	}

	sessions := hub.New(hub.Config{
		Provider:     provider,
		Model:        cfg.Model.Name,
		SystemPrompt: cfg.Model.SystemPrompt,
		Temperature:  cfg.Model.Temperature,
		MaxTokens:    cfg.Model.MaxTokens,
		MaxRetries:   cfg.Model.MaxRetries,
		MaxRounds:    cfg.Model.MaxRounds,
		Backends:     cfg.Backends,
	}, zl)

	fileServer, err := backends.NewFileServer(defaultFileRoot(), zl)
	if err != nil {
		return err
	}

	server, err := gateway.NewServer(gateway.Config{
		Addr:   cfg.Server.Addr(),
		Hub:    sessions,
		Logger: zl,
		Backends: map[string]*mcp.Server{
			"files": fileServer,
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		zl.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// providerFromConfig picks the provider by model-name prefix and binds
// the matching credentials.
func providerFromConfig(cfg *config.Config) (llm.Provider, error) {
	name := llm.ProviderForModel(cfg.Model.Name)
	profile, ok := cfg.ProfileFor(name)
	if !ok {
		return nil, fmt.Errorf("no AI profile configured for provider %s (model %s)", name, cfg.Model.Name)
	}
	return llm.NewProvider(llm.Credentials{
		Provider: profile.Provider,
		APIKey:   profile.APIKey,
		BaseURL:  profile.BaseURL,
	})
}

func defaultFileRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "files"
	}
	return filepath.Join(home, ".nexo", "files")
}
