package cli

import (
	"os"

	"github.com/hakim/nexo/internal/backends"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var backendRoot string

var backendCmd = &cobra.Command{
	Use:   "serve-backend",
	Short: "Serve the builtin file backend over stdio",
	Long: `Runs the builtin file backend as a standalone process speaking
newline-delimited JSON-RPC on stdin/stdout, for use as a stdio backend.`,
	RunE: runBackend,
}

func init() {
	backendCmd.Flags().StringVar(&backendRoot, "root", "", "directory the file tools operate on (default $HOME/.nexo/files)")
	rootCmd.AddCommand(backendCmd)
}

func runBackend(cmd *cobra.Command, args []string) error {
	root := backendRoot
	if root == "" {
		root = defaultFileRoot()
	}

	// Log to stderr only; stdout carries the protocol.
	zl := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)

	server, err := backends.NewFileServer(root, zl)
	if err != nil {
		return err
	}
	return server.ServeStdio(cmd.Context(), os.Stdin, os.Stdout)
}
