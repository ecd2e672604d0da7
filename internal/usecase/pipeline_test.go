package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsrag/internal/adapter/chunker"
	"newsrag/internal/adapter/embedding"
	"newsrag/internal/adapter/llm"
	"newsrag/internal/adapter/loader"
	"newsrag/internal/adapter/store"
	"newsrag/internal/domain"
	"newsrag/internal/port"
)

const (
	urlA = "https://news.example/ev-sales"
	urlB = "https://market.example/ev-pricing"
)

var articles = map[string]domain.SourceDocument{
	urlA: {
		URL:   urlA,
		Title: "EV sales keep climbing",
		Text: "Electric vehicle sales rose 40% in Europe last year. The main trend is a shift toward cheaper models.\n\n" +
			"BYD and Tesla remain the key players, while legacy automakers struggle to keep up.\n\n" +
			"Analysts expect the trend to continue as charging networks expand.",
	},
	urlB: {
		URL:   urlB,
		Title: "Price war in electric vehicles",
		Text: "Tesla cut prices again this quarter, pushing rivals into a price war.\n\n" +
			"Pricing pressure is the main trend for electric vehicle makers, squeezing margins.\n\n" +
			"Battery costs fell, giving manufacturers room to lower sticker prices.",
	},
}

type fakeLoader struct {
	docs map[string]domain.SourceDocument
}

func (l fakeLoader) Load(ctx context.Context, urls []string) ([]domain.SourceDocument, []*domain.FetchError) {
	var (
		docs []domain.SourceDocument
		errs []*domain.FetchError
	)
	for _, u := range urls {
		if doc, ok := l.docs[u]; ok {
			docs = append(docs, doc)
			continue
		}
		errs = append(errs, &domain.FetchError{URL: u, Reason: "unreachable"})
	}
	return docs, errs
}

type brokenEmbedder struct {
	*embedding.MockEmbedder
}

func (brokenEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, &domain.EmbeddingServiceError{StatusCode: 401, Err: errors.New("API key not valid")}
}

type testPipeline struct {
	*Pipeline
	dir      string
	embedder *embedding.MockEmbedder

	mu     sync.Mutex
	stages []domain.Progress
}

func (tp *testPipeline) progress() []domain.Progress {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return append([]domain.Progress(nil), tp.stages...)
}

type pipelineOption func(*Deps, *Options)

func withEmbedder(e port.Embedder) pipelineOption {
	return func(d *Deps, _ *Options) { d.Embedder = e }
}

func withLLM(l port.LLM) pipelineOption {
	return func(d *Deps, _ *Options) { d.LLM = l }
}

func withLoader(l port.Loader) pipelineOption {
	return func(d *Deps, _ *Options) { d.Loader = l }
}

func newTestPipeline(t *testing.T, dir string, opts ...pipelineOption) *testPipeline {
	t.Helper()
	tp := &testPipeline{dir: dir, embedder: embedding.NewMockEmbedder(64)}

	deps := Deps{
		Loader:   fakeLoader{docs: articles},
		Chunker:  chunker.NewRecursiveChunker(120, nil),
		Embedder: tp.embedder,
		LLM:      llm.NewMockLLM(),
		Progress: func(p domain.Progress) {
			tp.mu.Lock()
			tp.stages = append(tp.stages, p)
			tp.mu.Unlock()
		},
	}
	options := Options{
		SnapshotDir: dir,
		ChunkSize:   120,
		LockTimeout: time.Second,
		TopK:        4,
	}
	for _, opt := range opts {
		opt(&deps, &options)
	}

	p, err := NewPipeline(deps, options)
	require.NoError(t, err)
	tp.Pipeline = p
	return tp
}

func TestBuildAndQuery(t *testing.T) {
	tp := newTestPipeline(t, t.TempDir())

	res := tp.Build(context.Background(), []string{urlA, urlB})
	require.True(t, res.Success, "build failed: %+v", res.Error)
	assert.Equal(t, 2, res.Documents)
	assert.Greater(t, res.Chunks, 2)
	assert.Empty(t, res.FetchErrors)
	assert.NotEmpty(t, res.BuildID)
	assert.FileExists(t, res.SnapshotPath)

	q := tp.Query(context.Background(), "What is the main trend?")
	require.Nil(t, q.Error)
	assert.NotEmpty(t, q.Answer)
	assert.NotEmpty(t, q.Sources)
	for _, s := range q.Sources {
		assert.Contains(t, []string{urlA, urlB}, s)
	}
	assert.False(t, q.Degraded)
}

func TestBuildProgress(t *testing.T) {
	tp := newTestPipeline(t, t.TempDir())

	res := tp.Build(context.Background(), []string{urlA, urlB})
	require.True(t, res.Success)

	var stages []domain.Stage
	last := -1
	for _, p := range tp.progress() {
		if len(stages) == 0 || stages[len(stages)-1] != p.Stage {
			stages = append(stages, p.Stage)
		}
		assert.GreaterOrEqual(t, p.Percent, last, "progress went backwards at %s", p.Stage)
		last = p.Percent
	}
	assert.Equal(t, []domain.Stage{
		domain.StageIdle,
		domain.StageLoading,
		domain.StageChunking,
		domain.StageEmbedding,
		domain.StageIndexBuilding,
		domain.StagePersisted,
	}, stages)
	assert.Equal(t, 100, last)
}

func TestBuildPartialFetchFailure(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><head><title>EV</title></head><body><p>Electric vehicle sales rose sharply.</p><p>Prices fell.</p></body></html>")
	}))
	defer site.Close()

	gone := httptest.NewServer(http.NotFoundHandler())
	goneURL := gone.URL + "/b"
	gone.Close()

	web := loader.NewWebLoader(loader.Options{Timeout: 2 * time.Second})
	tp := newTestPipeline(t, t.TempDir(), withLoader(web))

	res := tp.Build(context.Background(), []string{site.URL + "/a", goneURL})

	require.True(t, res.Success)
	assert.Equal(t, 1, res.Documents)
	require.Len(t, res.FetchErrors, 1)
	assert.Equal(t, goneURL, res.FetchErrors[0].URL)

	info, err := tp.Info()
	require.NoError(t, err)
	assert.Equal(t, []string{site.URL + "/a"}, info.Sources)
}

func TestQueryWithoutIndex(t *testing.T) {
	tp := newTestPipeline(t, t.TempDir())

	q := tp.Query(context.Background(), "anything?")

	require.NotNil(t, q.Error)
	assert.Equal(t, domain.KindNoIndex, q.Error.Kind)
	assert.Equal(t, domain.StageRetrieving, q.Error.Stage)
	assert.Empty(t, q.Answer)
}

func TestQueryEmptyQuestion(t *testing.T) {
	tp := newTestPipeline(t, t.TempDir())

	q := tp.Query(context.Background(), "   ")
	require.NotNil(t, q.Error)
	assert.Equal(t, domain.KindInvalidInput, q.Error.Kind)
}

func TestCompareAcrossSources(t *testing.T) {
	tp := newTestPipeline(t, t.TempDir())
	require.True(t, tp.Build(context.Background(), []string{urlA, urlB}).Success)

	rows, qerr := tp.CompareAcrossSources(context.Background(), []string{urlA, urlB}, "pricing")
	require.Nil(t, qerr)
	require.Len(t, rows, 2)
	assert.Equal(t, urlA, rows[0].URL)
	assert.Equal(t, urlB, rows[1].URL)
	for _, row := range rows {
		assert.Nil(t, row.Error)
		assert.NotEmpty(t, row.Summary)
	}
	assert.Contains(t, rows[0].Summary, "perspective of "+urlA+" on pricing")
}

func TestCompareWithoutIndex(t *testing.T) {
	tp := newTestPipeline(t, t.TempDir())

	rows, qerr := tp.CompareAcrossSources(context.Background(), []string{urlA}, "pricing")
	assert.Nil(t, rows)
	require.NotNil(t, qerr)
	assert.Equal(t, domain.KindNoIndex, qerr.Kind)
}

func TestGenerateReport(t *testing.T) {
	tp := newTestPipeline(t, t.TempDir())
	require.True(t, tp.Build(context.Background(), []string{urlA, urlB}).Success)

	report := tp.GenerateReport(context.Background())
	require.Nil(t, report.Error)
	assert.Contains(t, report.ReportText, "market research report")
	assert.NotEmpty(t, report.Sources)
}

func TestEmbeddingFailureKeepsPriorSnapshot(t *testing.T) {
	dir := t.TempDir()
	good := newTestPipeline(t, dir)
	require.True(t, good.Build(context.Background(), []string{urlA}).Success)
	before, err := os.ReadFile(store.SnapshotPath(dir))
	require.NoError(t, err)

	broken := newTestPipeline(t, dir, withEmbedder(brokenEmbedder{embedding.NewMockEmbedder(64)}))
	res := broken.Build(context.Background(), []string{urlA, urlB})

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, domain.StageEmbedding, res.Error.Stage)
	assert.Equal(t, domain.KindEmbedding, res.Error.Kind)
	assert.Contains(t, res.Error.Error(), "embedding failed")

	after, err := os.ReadFile(store.SnapshotPath(dir))
	require.NoError(t, err)
	assert.Equal(t, before, after, "prior snapshot must be byte-identical")

	stages := broken.progress()
	assert.Equal(t, domain.StageFailed, stages[len(stages)-1].Stage)
}

func TestCanceledBuildKeepsPriorSnapshot(t *testing.T) {
	dir := t.TempDir()
	tp := newTestPipeline(t, dir)
	require.True(t, tp.Build(context.Background(), []string{urlA}).Success)
	before, err := os.ReadFile(store.SnapshotPath(dir))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := tp.Build(ctx, []string{urlA, urlB})

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, domain.KindCanceled, res.Error.Kind)

	after, err := os.ReadFile(store.SnapshotPath(dir))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBuildEmptyURLList(t *testing.T) {
	tp := newTestPipeline(t, t.TempDir())

	res := tp.Build(context.Background(), nil)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Chunks)

	q := tp.Query(context.Background(), "What is the main trend?")
	require.Nil(t, q.Error)
	assert.Empty(t, q.Sources)
}

func TestBuildAllFetchesFail(t *testing.T) {
	tp := newTestPipeline(t, t.TempDir())

	res := tp.Build(context.Background(), []string{"https://down.example/1", "https://down.example/2"})
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Chunks)
	assert.Len(t, res.FetchErrors, 2)
}

func TestQueryDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	require.True(t, newTestPipeline(t, dir).Build(context.Background(), []string{urlA}).Success)

	other := newTestPipeline(t, dir, withEmbedder(embedding.NewMockEmbedder(32)))
	q := other.Query(context.Background(), "What is the main trend?")

	require.NotNil(t, q.Error)
	assert.Equal(t, domain.KindDimensionMismatch, q.Error.Kind)
}

func TestQuerySynthesisFailure(t *testing.T) {
	dir := t.TempDir()
	tp := newTestPipeline(t, dir, withLLM(&scriptedLLM{err: &domain.SynthesisError{StatusCode: 503, Err: errors.New("overloaded")}}))
	require.True(t, tp.Build(context.Background(), []string{urlA}).Success)

	q := tp.Query(context.Background(), "What is the main trend?")
	require.NotNil(t, q.Error)
	assert.Equal(t, domain.KindSynthesis, q.Error.Kind)
	assert.Equal(t, domain.StageSynthesizing, q.Error.Stage)
	assert.Empty(t, q.Answer)
}

func TestQueryDegradedAnswer(t *testing.T) {
	dir := t.TempDir()
	tp := newTestPipeline(t, dir, withLLM(&scriptedLLM{reply: "Prices are falling everywhere."}))
	require.True(t, tp.Build(context.Background(), []string{urlA}).Success)

	q := tp.Query(context.Background(), "What is the main trend?")
	require.Nil(t, q.Error)
	assert.True(t, q.Degraded)
	assert.Equal(t, "Prices are falling everywhere.", q.Answer)
	assert.Empty(t, q.Sources)
}

func TestQueryReusesSnapshotAndQuestionEmbedding(t *testing.T) {
	tp := newTestPipeline(t, t.TempDir())
	require.True(t, tp.Build(context.Background(), []string{urlA, urlB}).Success)
	calls := tp.embedder.Calls()

	first := tp.Query(context.Background(), "Who are the key players?")
	second := tp.Query(context.Background(), "Who are the key players?")

	require.Nil(t, first.Error)
	assert.Equal(t, first, second)
	assert.Equal(t, calls+1, tp.embedder.Calls())
}

func TestQuerySeesRebuiltSnapshot(t *testing.T) {
	dir := t.TempDir()
	tp := newTestPipeline(t, dir)
	require.True(t, tp.Build(context.Background(), []string{urlA}).Success)

	info, err := tp.Info()
	require.NoError(t, err)
	assert.Equal(t, []string{urlA}, info.Sources)

	other := newTestPipeline(t, dir)
	require.True(t, other.Build(context.Background(), []string{urlB}).Success)

	info, err = tp.Info()
	require.NoError(t, err)
	assert.Equal(t, []string{urlB}, info.Sources)
}

func TestConcurrentBuildsAreSerialized(t *testing.T) {
	tp := newTestPipeline(t, t.TempDir())

	var wg sync.WaitGroup
	results := make([]domain.BuildResult, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = tp.Build(context.Background(), []string{urlA, urlB})
		}()
	}
	wg.Wait()

	for _, res := range results {
		assert.True(t, res.Success, "build failed: %+v", res.Error)
	}
	q := tp.Query(context.Background(), "What is the main trend?")
	assert.Nil(t, q.Error)
}

func TestNewPipelineValidates(t *testing.T) {
	_, err := NewPipeline(Deps{}, Options{SnapshotDir: "x"})
	assert.Error(t, err)

	_, err = NewPipeline(Deps{
		Loader:   fakeLoader{},
		Chunker:  chunker.NewRecursiveChunker(10, nil),
		Embedder: embedding.NewMockEmbedder(8),
		LLM:      llm.NewMockLLM(),
	}, Options{})
	assert.True(t, err != nil && strings.Contains(err.Error(), "snapshot dir"))
}

type countingLLM struct {
	port.LLM
	mu      sync.Mutex
	systems []string
}

func (c *countingLLM) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.mu.Lock()
	c.systems = append(c.systems, systemPrompt)
	c.mu.Unlock()
	return c.LLM.GenerateWithSystem(ctx, systemPrompt, userPrompt)
}

func TestQueryWithHyDE(t *testing.T) {
	model := &countingLLM{LLM: llm.NewMockLLM()}
	tp := newTestPipeline(t, t.TempDir(), withLLM(model), func(_ *Deps, o *Options) { o.HyDE = true })

	require.True(t, tp.Build(context.Background(), []string{urlA, urlB}).Success)

	q := tp.Query(context.Background(), "Who are the key players?")
	require.Nil(t, q.Error)
	assert.NotEmpty(t, q.Sources)

	model.mu.Lock()
	defer model.mu.Unlock()
	require.Len(t, model.systems, 2)
	assert.Contains(t, model.systems[0], "news writer")
}

// unsizedEmbedder reports an unknown dimension, like a remote embedder
// before its first response.
type unsizedEmbedder struct {
	*embedding.MockEmbedder
}

func (unsizedEmbedder) Dimension() int { return 0 }

func TestQueryDimensionMismatchWithUnknownDimension(t *testing.T) {
	dir := t.TempDir()
	require.True(t, newTestPipeline(t, dir).Build(context.Background(), []string{urlA}).Success)

	model := &countingLLM{LLM: llm.NewMockLLM()}
	other := newTestPipeline(t, dir,
		withEmbedder(unsizedEmbedder{embedding.NewMockEmbedder(32)}),
		withLLM(model),
		func(_ *Deps, o *Options) { o.HyDE = true },
	)
	q := other.Query(context.Background(), "What is the main trend?")

	require.NotNil(t, q.Error)
	assert.Equal(t, domain.KindDimensionMismatch, q.Error.Kind)
	assert.Equal(t, domain.StageRetrieving, q.Error.Stage)

	model.mu.Lock()
	defer model.mu.Unlock()
	assert.Empty(t, model.systems)
}
