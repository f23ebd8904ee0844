package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hakim/nexo/internal/config"
	"github.com/hakim/nexo/pkg/hub"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools exposed by the configured backends",
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Capability listing needs no model provider.
	zl := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	sessions := hub.New(hub.Config{Backends: cfg.Backends}, zl)
	tools := sessions.Capabilities(ctx)

	if len(tools) == 0 {
		fmt.Println("No tools available.")
		return nil
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(tools)
}
