package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatmirror/chatmirror/internal/version"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "chatmirror",
		Short: "chatmirror mirrors chat history into a local archive",
		Long:  "chatmirror fetches chat history from a messaging platform, resolves media and embeddings, archives everything locally, and serves it over HTTP and WebSocket.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (default: ./config.toml)")

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the mirror service",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Version)
		},
	}
}
