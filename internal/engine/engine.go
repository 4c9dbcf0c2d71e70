// Package engine implements the PDF to Markdown conversion engine. Structural validation and page
// counting use pdfcpu; the text layer is read with ledongthuc/pdf and laid out as Markdown.
// Scanned, image-only documents have no text layer and convert to an empty document.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
)

// OutputMarkdown is the only supported output format.
const OutputMarkdown = "markdown"

// Options are fixed at construction and never change afterwards.
type Options struct {
	DisableImageExtraction bool   `mapstructure:"disable_image_extraction"`
	OutputFormat           string `mapstructure:"output_format"`
	DisableProgressOutput  bool   `mapstructure:"disable_progress_output"`
	// MaxPages rejects larger documents when > 0.
	MaxPages int `mapstructure:"max_pages"`
}

// Observer receives page progress for one conversion.
type Observer func(payload string, page, total int)

// ErrNotLoaded is returned by Convert before Load has succeeded.
var ErrNotLoaded = errors.New("engine not loaded")

// Engine converts staged PDFs. Each Convert opens its own reader, so concurrent calls share no
// mutable state once Load has returned.
type Engine struct {
	opts     Options
	observer Observer
	logger   *zap.Logger

	loadOnce sync.Once
	conf     atomic.Pointer[model.Configuration]
}

// New constructs an Engine. It does no work; call Load before converting.
func New(opts Options, observer Observer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = OutputMarkdown
	}
	return &Engine{opts: opts, observer: observer, logger: logger}
}

// Options returns the construction options.
func (e *Engine) Options() Options {
	return e.opts
}

// ConcurrencySafe implements converter.ConcurrencyReporter.
func (e *Engine) ConcurrencySafe() bool {
	return true
}

// Load performs the one-time warm-up. Only the first call does any work.
func (e *Engine) Load(ctx context.Context) error {
	err := errors.New("engine load already attempted")
	e.loadOnce.Do(func() {
		err = e.load(ctx)
	})
	return err
}

func (e *Engine) load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("load engine: %w", err)
	}
	if !strings.EqualFold(e.opts.OutputFormat, OutputMarkdown) {
		return fmt.Errorf("unsupported output format %q", e.opts.OutputFormat)
	}
	if e.opts.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0, got %d", e.opts.MaxPages)
	}
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	e.conf.Store(conf)
	e.logger.Info("conversion engine loaded",
		zap.Bool("image_extraction", !e.opts.DisableImageExtraction),
		zap.Bool("progress_output", !e.opts.DisableProgressOutput),
		zap.Int("max_pages", e.opts.MaxPages),
	)
	return nil
}

// Convert reads the staged payload and returns its Markdown. The context is not consulted once
// conversion has started.
func (e *Engine) Convert(_ context.Context, payload converter.Staged) (out converter.Output, err error) {
	conf := e.conf.Load()
	if conf == nil {
		return converter.Output{}, ErrNotLoaded
	}
	defer func() {
		if r := recover(); r != nil {
			out = converter.Output{}
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	pages, err := e.pageCount(payload, conf)
	if err != nil {
		return converter.Output{}, err
	}
	if e.opts.MaxPages > 0 && pages > e.opts.MaxPages {
		return converter.Output{}, converter.MalformedInput(
			fmt.Errorf("document has %d pages, limit is %d", pages, e.opts.MaxPages))
	}

	f, reader, err := pdf.Open(payload.Path())
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return converter.Output{}, fmt.Errorf("open staged payload: %w", err)
		}
		return converter.Output{}, converter.MalformedInput(fmt.Errorf("open pdf: %w", err))
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			e.logger.Warn("close staged pdf failed", zap.String("payload", payload.Name()), zap.Error(cerr))
		}
	}()

	total := reader.NumPage()
	rendered := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		blocks := layoutPage(runsFromContent(page.Content().Text))
		if !e.opts.DisableImageExtraction {
			blocks = append(blocks, imageReferences(i, page)...)
		}
		if len(blocks) > 0 {
			rendered = append(rendered, strings.Join(blocks, "\n\n"))
		}
		e.progress(payload.Name(), i, total)
	}

	markdown := strings.Join(rendered, "\n\n")
	if markdown != "" {
		markdown += "\n"
	}
	e.logger.Debug("conversion finished",
		zap.String("payload", payload.Name()),
		zap.Int("pages", pages),
		zap.Int("markdown_bytes", len(markdown)),
	)
	return converter.Output{Markdown: markdown, Pages: pages}, nil
}

func (e *Engine) pageCount(payload converter.Staged, conf *model.Configuration) (int, error) {
	rs, err := payload.Open()
	if err != nil {
		return 0, fmt.Errorf("open staged payload: %w", err)
	}
	defer rs.Close()
	n, err := api.PageCount(rs, conf)
	if err != nil {
		return 0, converter.MalformedInput(fmt.Errorf("read pdf structure: %w", err))
	}
	return n, nil
}

func (e *Engine) progress(payload string, page, total int) {
	if e.opts.DisableProgressOutput || e.observer == nil {
		return
	}
	e.observer(payload, page, total)
}

func imageReferences(pageNum int, page pdf.Page) []string {
	xobjects := page.Resources().Key("XObject")
	var refs []string
	for _, name := range xobjects.Keys() {
		if xobjects.Key(name).Key("Subtype").Name() != "Image" {
			continue
		}
		refs = append(refs, fmt.Sprintf("![page %d image %s](page-%d-%s)", pageNum, name, pageNum, name))
	}
	return refs
}
