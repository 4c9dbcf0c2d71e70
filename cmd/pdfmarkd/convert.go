package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfmarkd/internal/config"
	"github.com/JakeFAU/pdfmarkd/internal/converter"
	"github.com/JakeFAU/pdfmarkd/internal/engine"
	"github.com/JakeFAU/pdfmarkd/internal/id/uuid"
	"github.com/JakeFAU/pdfmarkd/internal/logging"
	"github.com/JakeFAU/pdfmarkd/internal/staging"
)

func newConvertCmd(load func() (config.Config, error)) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "convert <file.pdf>",
		Short: "Convert a local PDF and print the Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer func() {
					if cerr := f.Close(); cerr != nil {
						logger.Warn("close output failed", zap.Error(cerr))
					}
				}()
				out = f
			}
			return convertFile(cmd.Context(), cfg, args[0], out, cmd.ErrOrStderr(), logger)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write Markdown to this file instead of stdout")
	return cmd
}

func convertFile(ctx context.Context, cfg config.Config, input string, out, progress io.Writer, logger *zap.Logger) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	bar := newPageBar(progress)
	eng := engine.New(cfg.Engine.Options(), bar.observe, logger.Named("engine"))
	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("load engine: %w", err)
	}

	area, err := staging.New(cfg.Staging, uuid.New(), logger.Named("staging"))
	if err != nil {
		return fmt.Errorf("staging init failed: %w", err)
	}
	defer func() {
		if cerr := area.Close(); cerr != nil {
			logger.Warn("staging close failed", zap.Error(cerr))
		}
	}()

	payload, err := area.Stage(ctx, data)
	if err != nil {
		return fmt.Errorf("stage input: %w", err)
	}
	result, err := eng.Convert(ctx, payload)
	if rerr := payload.Release(); rerr != nil {
		logger.Warn("release staged payload failed", zap.String("payload", payload.Name()), zap.Error(rerr))
	}
	if err != nil {
		return converter.NewConversionError(converter.ReasonOf(err), err)
	}
	bar.finish()

	if _, err := io.WriteString(out, result.Markdown); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	logger.Debug("conversion finished", zap.String("input", input), zap.Int("pages", result.Pages))
	return nil
}

// pageBar renders engine page progress. The bar is created on the first callback, once the page
// count is known.
type pageBar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newPageBar(w io.Writer) *pageBar {
	return &pageBar{w: w}
}

func (p *pageBar) observe(_ string, page, total int) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription("converting"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("pages"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(p.w) }),
		)
	}
	_ = p.bar.Set(page)
}

func (p *pageBar) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
