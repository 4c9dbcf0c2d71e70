package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pdfmarkd/internal/config"
	"github.com/JakeFAU/pdfmarkd/internal/server"
)

func newServeCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the conversion HTTP service",
		Long: `Starts the HTTP listener immediately and loads the conversion engine in the
background. /health reports loading until the engine is ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
