package main

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/pdfmarkd/internal/config"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "pdfmarkd",
		Short: "Convert PDF documents to Markdown.",
		Long: `pdfmarkd converts PDF documents to Markdown, either as an HTTP service that
accepts uploads and remote file identifiers, or as a one-shot local command.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	load := func() (config.Config, error) {
		return config.Load(cfgFile)
	}
	cmd.AddCommand(newServeCmd(load), newConvertCmd(load))
	return cmd
}
