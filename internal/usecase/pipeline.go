package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"newsrag/internal/adapter/analyzer"
	"newsrag/internal/adapter/cache"
	"newsrag/internal/adapter/retriever"
	"newsrag/internal/adapter/store"
	"newsrag/internal/domain"
	"newsrag/internal/metrics"
	"newsrag/internal/port"
)

const (
	// ReportPrompt is the question GenerateReport asks of the whole index.
	ReportPrompt = "Generate a comprehensive market research report based on the analyzed articles. " +
		"Include sections on market trends, key players, opportunities, and challenges."

	comparePrompt = "Summarize the perspective of %s on %s"

	// embedGroup is how many chunks are embedded between progress reports.
	embedGroup = 256
)

// ProgressFunc receives every pipeline stage transition.
type ProgressFunc func(domain.Progress)

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Loader   port.Loader
	Chunker  port.Chunker
	Embedder port.Embedder
	LLM      port.LLM
	Progress ProgressFunc
	Logger   *zap.Logger
}

// Options tune a Pipeline.
type Options struct {
	SnapshotDir        string
	ChunkSize          int
	LockTimeout        time.Duration
	TopK               int
	MinScore           float64
	MMRLambda          float64
	NeighborWindow     int
	HyDE               bool
	ContextTokenBudget int
	CacheSize          int
	CacheTTL           time.Duration
}

// Pipeline sequences the build path (load, chunk, embed, index, persist) and
// the query path (retrieve, synthesize) around one snapshot directory.
type Pipeline struct {
	loader   port.Loader
	chunker  port.Chunker
	embedder port.Embedder
	llm      port.LLM
	synth    *Synthesizer
	progress ProgressFunc
	logger   *zap.Logger
	opts     Options

	buildMu sync.Mutex

	snapMu    sync.Mutex
	snap      *store.Index
	snapStamp snapshotStamp
}

// snapshotStamp identifies one version of the snapshot file. Save renames a
// fresh file into place, so a rebuild always changes the file identity.
type snapshotStamp struct {
	file    os.FileInfo
	modTime int64
	size    int64
}

func stampOf(fi os.FileInfo) snapshotStamp {
	return snapshotStamp{file: fi, modTime: fi.ModTime().UnixNano(), size: fi.Size()}
}

func (s snapshotStamp) same(o snapshotStamp) bool {
	return s.file != nil && o.file != nil && os.SameFile(s.file, o.file) &&
		s.modTime == o.modTime && s.size == o.size
}

func NewPipeline(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Loader == nil || deps.Chunker == nil || deps.Embedder == nil || deps.LLM == nil {
		return nil, errors.New("pipeline: loader, chunker, embedder and llm are required")
	}
	if opts.SnapshotDir == "" {
		return nil, errors.New("pipeline: snapshot dir is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = func(domain.Progress) {}
	}

	synth, err := NewSynthesizer(deps.LLM, NewContextPacker(analyzer.NewTokenizer(false)), opts.ContextTokenBudget, deps.Logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		loader:   deps.Loader,
		chunker:  deps.Chunker,
		embedder: cache.NewCachedEmbedder(deps.Embedder, cache.NewEmbeddingCache(opts.CacheSize, opts.CacheTTL)),
		llm:      deps.LLM,
		synth:    synth,
		progress: deps.Progress,
		logger:   deps.Logger,
		opts:     opts,
	}, nil
}

func (p *Pipeline) report(stage domain.Stage, percent int, msg string) {
	p.logger.Debug("stage", zap.String("stage", string(stage)), zap.Int("percent", percent), zap.String("message", msg))
	p.progress(domain.Progress{Stage: stage, Percent: percent, Message: msg})
}

// Build fetches urls and replaces the snapshot with an index of their
// chunks. Unreachable URLs are reported in the result and skipped. Any
// failure after loading leaves the previous snapshot untouched.
func (p *Pipeline) Build(ctx context.Context, urls []string) domain.BuildResult {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	start := time.Now()
	p.report(domain.StageIdle, 0, "waiting for build lock")

	lock, err := store.AcquireBuildLock(p.opts.SnapshotDir, p.opts.LockTimeout)
	if err != nil {
		return p.failBuild(domain.StageIdle, err, nil)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			p.logger.Warn("release build lock", zap.Error(err))
		}
	}()

	// Loading
	if len(urls) == 0 {
		p.logger.Warn("no URLs given, building an empty index")
	}
	p.report(domain.StageLoading, 0, fmt.Sprintf("fetching %d URLs", len(urls)))
	docs, fetchErrs := p.loader.Load(ctx, urls)
	if err := ctx.Err(); err != nil {
		return p.failBuild(domain.StageLoading, err, fetchErrs)
	}
	for _, fe := range fetchErrs {
		p.logger.Warn("skipping URL", zap.String("url", fe.URL), zap.String("reason", fe.Reason))
	}

	// Chunking
	p.report(domain.StageChunking, 25, fmt.Sprintf("chunking %d documents", len(docs)))
	var chunks []domain.Chunk
	for _, doc := range docs {
		chunks = append(chunks, p.chunker.Chunk(doc)...)
	}
	if len(chunks) == 0 {
		p.logger.Warn("no text to index", zap.Int("documents", len(docs)), zap.Int("failed_urls", len(fetchErrs)))
	}

	// Embedding
	p.report(domain.StageEmbedding, 50, fmt.Sprintf("embedding %d chunks", len(chunks)))
	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return p.failBuild(domain.StageEmbedding, err, fetchErrs)
	}

	// IndexBuilding
	p.report(domain.StageIndexBuilding, 75, "writing snapshot")
	dim := p.embedder.Dimension()
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	entries := make([]domain.IndexEntry, len(chunks))
	for i := range chunks {
		entries[i] = domain.IndexEntry{Vector: vectors[i], Chunk: chunks[i]}
	}
	idx, err := store.Build(dim, p.embedder.ModelName(), entries)
	if err != nil {
		return p.failBuild(domain.StageIndexBuilding, err, fetchErrs)
	}
	idx.WithChunkSize(p.opts.ChunkSize)
	if err := ctx.Err(); err != nil {
		return p.failBuild(domain.StageIndexBuilding, err, fetchErrs)
	}
	if err := store.Save(p.opts.SnapshotDir, idx); err != nil {
		return p.failBuild(domain.StageIndexBuilding, err, fetchErrs)
	}
	p.remember(idx)

	info := idx.Info()
	p.report(domain.StagePersisted, 100, fmt.Sprintf("indexed %d chunks from %d documents", len(chunks), len(docs)))
	metrics.BuildsTotal.WithLabelValues(string(domain.StagePersisted)).Inc()
	p.logger.Info("build finished",
		zap.String("build_id", info.BuildID),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Int("failed_urls", len(fetchErrs)),
		zap.Duration("took", time.Since(start)),
	)

	return domain.BuildResult{
		Success:      true,
		FetchErrors:  fetchErrs,
		Documents:    len(docs),
		Chunks:       len(chunks),
		SnapshotPath: store.SnapshotPath(p.opts.SnapshotDir),
		BuildID:      info.BuildID,
	}
}

func (p *Pipeline) embedChunks(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedGroup {
		end := min(start+embedGroup, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		got, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(got) != len(texts) {
			return nil, &domain.EmbeddingServiceError{Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(got))}
		}
		for _, v := range got {
			if len(vectors) > 0 && len(v) != len(vectors[0]) {
				return nil, &domain.DimensionMismatchError{Expected: len(vectors[0]), Actual: len(v)}
			}
			vectors = append(vectors, v)
		}

		p.report(domain.StageEmbedding, 50+25*end/len(chunks), fmt.Sprintf("embedded %d/%d chunks", end, len(chunks)))
	}
	return vectors, nil
}

func (p *Pipeline) failBuild(stage domain.Stage, err error, fetchErrs []*domain.FetchError) domain.BuildResult {
	stageErr := &domain.StageError{
		Stage:   stage,
		Kind:    domain.KindOf(err),
		Message: err.Error(),
		Err:     err,
	}
	metrics.BuildsTotal.WithLabelValues(string(stage)).Inc()
	p.logger.Error("build failed", zap.String("stage", string(stage)), zap.Error(err))
	p.report(domain.StageFailed, 0, stageErr.Error())
	return domain.BuildResult{
		Error:       stageErr,
		FetchErrors: fetchErrs,
	}
}

// Query answers question from the current snapshot. Failures are returned
// inside the result.
func (p *Pipeline) Query(ctx context.Context, question string) domain.QueryResult {
	result := domain.QueryResult{Question: question}

	answer, qerr := p.ask(ctx, question)
	if qerr != nil {
		result.Error = qerr
		metrics.QueriesTotal.WithLabelValues(string(qerr.Kind)).Inc()
		return result
	}

	metrics.QueriesTotal.WithLabelValues("ok").Inc()
	result.Answer = answer.Text
	result.Sources = answer.Sources
	result.Degraded = answer.Degraded
	return result
}

func (p *Pipeline) ask(ctx context.Context, question string) (domain.Answer, *domain.QueryError) {
	if strings.TrimSpace(question) == "" {
		return domain.Answer{}, &domain.QueryError{Kind: domain.KindInvalidInput, Stage: domain.StageIdle, Message: "question is empty"}
	}

	p.report(domain.StageRetrieving, 0, "retrieving context")
	idx, err := p.loadSnapshot()
	if err != nil {
		return domain.Answer{}, p.failQuery(domain.StageRetrieving, err)
	}

	if err := p.checkDimension(ctx, idx, question); err != nil {
		return domain.Answer{}, p.failQuery(domain.StageRetrieving, err)
	}

	var r port.Retriever = retriever.NewSemanticRetriever(idx, p.embedder, retriever.Options{
		TopK:      p.opts.TopK,
		MinScore:  p.opts.MinScore,
		MMRLambda: p.opts.MMRLambda,
		Logger:    p.logger,
	})
	if p.opts.HyDE {
		r = retriever.NewHyDERetriever(p.llm, r, p.logger)
	}
	chunks, err := r.Retrieve(ctx, question)
	if err != nil {
		return domain.Answer{}, p.failQuery(domain.StageRetrieving, err)
	}
	chunks = NewContextExpander(idx, p.opts.NeighborWindow).Expand(chunks)

	p.report(domain.StageSynthesizing, 50, fmt.Sprintf("asking model with %d chunks", len(chunks)))
	answer, err := p.synth.Synthesize(ctx, question, chunks)
	if err != nil {
		return domain.Answer{}, p.failQuery(domain.StageSynthesizing, err)
	}

	p.report(domain.StageAnswered, 100, "answered")
	return answer, nil
}

func (p *Pipeline) failQuery(stage domain.Stage, err error) *domain.QueryError {
	qerr := &domain.QueryError{Kind: domain.KindOf(err), Stage: stage, Message: err.Error()}
	p.logger.Warn("query failed", zap.String("stage", string(stage)), zap.String("kind", string(qerr.Kind)), zap.Error(err))
	p.report(domain.StageFailed, 0, qerr.Error())
	return qerr
}

// CompareAcrossSources asks one question per URL about topic. Rows follow
// the input order; a failed row carries its own error. The returned error
// is set only when no question can be asked at all.
func (p *Pipeline) CompareAcrossSources(ctx context.Context, urls []string, topic string) ([]domain.ComparisonRow, *domain.QueryError) {
	if strings.TrimSpace(topic) == "" {
		return nil, &domain.QueryError{Kind: domain.KindInvalidInput, Stage: domain.StageIdle, Message: "topic is empty"}
	}
	if _, err := p.loadSnapshot(); err != nil {
		return nil, p.failQuery(domain.StageRetrieving, err)
	}

	rows := make([]domain.ComparisonRow, 0, len(urls))
	for _, url := range urls {
		res := p.Query(ctx, fmt.Sprintf(comparePrompt, url, topic))
		rows = append(rows, domain.ComparisonRow{
			URL:     url,
			Summary: res.Answer,
			Sources: res.Sources,
			Error:   res.Error,
		})
	}
	return rows, nil
}

// GenerateReport asks for a market research report over the whole index.
func (p *Pipeline) GenerateReport(ctx context.Context) domain.ReportResult {
	res := p.Query(ctx, ReportPrompt)
	return domain.ReportResult{
		ReportText: res.Answer,
		Sources:    res.Sources,
		Error:      res.Error,
	}
}

// Info describes the current snapshot.
func (p *Pipeline) Info() (domain.IndexInfo, error) {
	idx, err := p.loadSnapshot()
	if err != nil {
		return domain.IndexInfo{}, err
	}
	return idx.Info(), nil
}

// checkDimension compares the index dimension with the embedder's. An
// embedder that has not learned its dimension yet embeds the question; the
// cache hands that vector back to the retriever.
func (p *Pipeline) checkDimension(ctx context.Context, idx *store.Index, question string) error {
	if idx.Len() == 0 {
		return nil
	}
	dim := p.embedder.Dimension()
	if dim == 0 {
		vecs, err := p.embedder.Embed(ctx, []string{question})
		if err != nil {
			return fmt.Errorf("embed question: %w", err)
		}
		if len(vecs) != 1 {
			return &domain.EmbeddingServiceError{Err: fmt.Errorf("expected 1 embedding, got %d", len(vecs))}
		}
		dim = len(vecs[0])
	}
	if dim != idx.Dimension() {
		return &domain.DimensionMismatchError{Expected: idx.Dimension(), Actual: dim}
	}
	return nil
}

// loadSnapshot returns the persisted index, reparsing it only when the file
// changed since the last load.
func (p *Pipeline) loadSnapshot() (*store.Index, error) {
	path := store.SnapshotPath(p.opts.SnapshotDir)
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.NoIndexError{Path: p.opts.SnapshotDir}
		}
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	stamp := stampOf(fi)

	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	if p.snap != nil && p.snapStamp.same(stamp) {
		return p.snap, nil
	}

	idx, err := store.Load(p.opts.SnapshotDir, p.embedder.Dimension())
	if err != nil {
		return nil, err
	}
	if s := store.CheckStale(idx.Info(), p.embedder.ModelName(), p.opts.ChunkSize); s.Stale {
		p.logger.Warn("snapshot does not match configuration, rebuild recommended", zap.String("reason", s.Reason))
	}

	p.snap = idx
	p.snapStamp = stamp
	return idx, nil
}

func (p *Pipeline) remember(idx *store.Index) {
	fi, err := os.Stat(store.SnapshotPath(p.opts.SnapshotDir))
	if err != nil {
		return
	}
	p.snapMu.Lock()
	p.snap = idx
	p.snapStamp = stampOf(fi)
	p.snapMu.Unlock()
}
