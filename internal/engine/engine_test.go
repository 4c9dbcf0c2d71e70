package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
	"github.com/JakeFAU/pdfmarkd/internal/id/uuid"
	"github.com/JakeFAU/pdfmarkd/internal/staging"
	"github.com/JakeFAU/pdfmarkd/internal/testsupport"
)

func stage(t *testing.T, data []byte) converter.Staged {
	t.Helper()
	area, err := staging.New(staging.Config{Dir: t.TempDir()}, uuid.New(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = area.Close() })
	staged, err := area.Stage(context.Background(), data)
	require.NoError(t, err)
	t.Cleanup(func() { _ = staged.Release() })
	return staged
}

func loadedEngine(t *testing.T, opts Options, observer Observer) *Engine {
	t.Helper()
	e := New(opts, observer, zap.NewNop())
	require.NoError(t, e.Load(context.Background()))
	return e
}

func TestLoadRejectsUnsupportedOutputFormat(t *testing.T) {
	t.Parallel()

	e := New(Options{OutputFormat: "html"}, nil, nil)
	err := e.Load(context.Background())
	require.ErrorContains(t, err, "unsupported output format")

	_, err = e.Convert(context.Background(), stage(t, testsupport.PDF()))
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestLoadRunsOnce(t *testing.T) {
	t.Parallel()

	e := New(Options{}, nil, nil)
	require.Equal(t, OutputMarkdown, e.Options().OutputFormat)
	require.NoError(t, e.Load(context.Background()))
	require.Error(t, e.Load(context.Background()))
}

func TestLoadHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, New(Options{}, nil, nil).Load(ctx), context.Canceled)
}

func TestConvertProducesMarkdown(t *testing.T) {
	t.Parallel()

	doc := testsupport.PDF(
		[]testsupport.Line{
			{Text: "Title", Size: 24, X: 72, Y: 720},
			{Text: "Hello world", Size: 12, X: 72, Y: 680},
		},
		[]testsupport.Line{
			{Text: "Second page", Size: 12, X: 72, Y: 720},
		},
	)

	var mu sync.Mutex
	var progress []int
	e := loadedEngine(t, Options{DisableImageExtraction: true}, func(_ string, page, total int) {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, 2, total)
		progress = append(progress, page)
	})

	out, err := e.Convert(context.Background(), stage(t, doc))
	require.NoError(t, err)
	require.Equal(t, 2, out.Pages)
	require.Contains(t, out.Markdown, "# Title")
	require.Contains(t, out.Markdown, "Hello world")
	require.Contains(t, out.Markdown, "Second page")
	require.Equal(t, []int{1, 2}, progress)
}

func TestConvertSuppressesProgressWhenDisabled(t *testing.T) {
	t.Parallel()

	called := false
	e := loadedEngine(t, Options{DisableProgressOutput: true}, func(string, int, int) { called = true })
	doc := testsupport.PDF([]testsupport.Line{{Text: "quiet", Size: 12, X: 72, Y: 700}})

	_, err := e.Convert(context.Background(), stage(t, doc))
	require.NoError(t, err)
	require.False(t, called)
}

func TestConvertRejectsCorruptInputAsMalformed(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t, Options{}, nil)
	_, err := e.Convert(context.Background(), stage(t, []byte("this is not a pdf at all")))
	require.Error(t, err)
	require.Equal(t, converter.ReasonMalformedInput, converter.ReasonOf(err))
}

func TestConvertUnreadablePayloadIsInternal(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t, Options{}, nil)
	payload := stage(t, testsupport.PDF([]testsupport.Line{{Text: "gone", Size: 12, X: 72, Y: 700}}))
	require.NoError(t, payload.Release())

	_, err := e.Convert(context.Background(), payload)
	require.Error(t, err)
	require.Equal(t, converter.ReasonInternal, converter.ReasonOf(err))
	require.Contains(t, err.Error(), "open staged payload")
}

func TestConvertEnforcesMaxPages(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t, Options{MaxPages: 1}, nil)
	doc := testsupport.PDF(
		[]testsupport.Line{{Text: "one", Size: 12, X: 72, Y: 700}},
		[]testsupport.Line{{Text: "two", Size: 12, X: 72, Y: 700}},
	)
	_, err := e.Convert(context.Background(), stage(t, doc))
	require.ErrorContains(t, err, "limit is 1")
	require.Equal(t, converter.ReasonMalformedInput, converter.ReasonOf(err))
}

func TestConvertConcurrentCalls(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t, Options{}, nil)
	require.True(t, e.ConcurrencySafe())
	doc := testsupport.PDF([]testsupport.Line{{Text: "shared engine", Size: 12, X: 72, Y: 700}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		staged := stage(t, doc)
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Convert(context.Background(), staged)
			if err == nil {
				require.Contains(t, out.Markdown, "shared engine")
			} else {
				t.Errorf("Convert() error = %v", err)
			}
		}()
	}
	wg.Wait()
}
