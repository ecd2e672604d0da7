package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"newsrag/internal/domain"
	"newsrag/internal/metrics"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultWorkers  = 4
	DefaultMaxBytes = 5 << 20
)

// Options configures a WebLoader.
type Options struct {
	Timeout   time.Duration
	Workers   int
	MaxBytes  int64
	UserAgent string
	Excludes  []string
	Client    *http.Client
	Logger    *zap.Logger
}

// WebLoader fetches pages over HTTP and extracts their readable text.
type WebLoader struct {
	client    *http.Client
	timeout   time.Duration
	workers   int
	maxBytes  int64
	userAgent string
	excludes  []string
	logger    *zap.Logger
}

func NewWebLoader(opts Options) *WebLoader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &WebLoader{
		client:    opts.Client,
		timeout:   opts.Timeout,
		workers:   opts.Workers,
		maxBytes:  opts.MaxBytes,
		userAgent: opts.UserAgent,
		excludes:  opts.Excludes,
		logger:    opts.Logger,
	}
}

// Load fetches every URL with bounded parallelism. Documents come back in
// input order; failed URLs are reported separately and never abort the batch.
func (l *WebLoader) Load(ctx context.Context, urls []string) ([]domain.SourceDocument, []*domain.FetchError) {
	urls = dedupe(urls)

	docs := make([]*domain.SourceDocument, len(urls))
	errs := make([]*domain.FetchError, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, u := range urls {
		g.Go(func() error {
			doc, err := l.fetch(gctx, u)
			if err != nil {
				errs[i] = err
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	_ = g.Wait()

	var (
		out      []domain.SourceDocument
		failures []*domain.FetchError
	)
	for i := range urls {
		switch {
		case errs[i] != nil:
			failures = append(failures, errs[i])
		case docs[i] != nil:
			out = append(out, *docs[i])
		}
	}
	return out, failures
}

func (l *WebLoader) fetch(ctx context.Context, rawURL string) (*domain.SourceDocument, *domain.FetchError) {
	fail := func(reason string, err error) *domain.FetchError {
		metrics.FetchTotal.WithLabelValues("error").Inc()
		l.logger.Warn("fetch failed", zap.String("url", rawURL), zap.String("reason", reason), zap.Error(err))
		return &domain.FetchError{URL: rawURL, Reason: reason, Err: err}
	}

	if strings.TrimSpace(rawURL) == "" {
		return nil, fail("empty URL", nil)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fail("invalid URL", err)
	}
	if pattern, ok := l.excluded(parsed); ok {
		metrics.FetchTotal.WithLabelValues("excluded").Inc()
		return nil, &domain.FetchError{URL: rawURL, Reason: "excluded by pattern " + pattern}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fail("invalid request", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.8")
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fail(fmt.Sprintf("timed out after %s", l.timeout), err)
		}
		return nil, fail("unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fail(fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}

	kind, ok := contentKind(resp.Header.Get("Content-Type"))
	if !ok {
		return nil, fail("unsupported content type "+resp.Header.Get("Content-Type"), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fail(fmt.Sprintf("timed out after %s", l.timeout), err)
		}
		return nil, fail("read body", err)
	}
	truncated := int64(len(body)) > l.maxBytes
	if truncated {
		body = body[:l.maxBytes]
		l.logger.Warn("page exceeds size limit, keeping the first part",
			zap.String("url", rawURL),
			zap.Int64("max_bytes", l.maxBytes),
		)
	}

	doc := &domain.SourceDocument{URL: rawURL, Truncated: truncated}
	if kind == kindHTML {
		doc.Title, doc.Text, err = ExtractText(bytes.NewReader(body))
		if err != nil {
			return nil, fail("parse HTML", err)
		}
	} else {
		doc.Text = string(body)
	}

	metrics.FetchTotal.WithLabelValues("ok").Inc()
	l.logger.Debug("fetched page",
		zap.String("url", rawURL),
		zap.Int("bytes", len(body)),
		zap.Int("text_len", len(doc.Text)),
		zap.Duration("took", time.Since(start)),
	)
	return doc, nil
}

// excluded matches host/path against the configured doublestar globs.
func (l *WebLoader) excluded(u *url.URL) (string, bool) {
	target := u.Host + u.EscapedPath()
	for _, pattern := range l.excludes {
		matched, err := doublestar.Match(pattern, target)
		if err == nil && matched {
			return pattern, true
		}
	}
	return "", false
}

type pageKind int

const (
	kindHTML pageKind = iota
	kindText
)

func contentKind(header string) (pageKind, bool) {
	if header == "" {
		// Servers that omit the header are almost always serving HTML.
		return kindHTML, true
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return 0, false
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return kindHTML, true
	case "text/plain":
		return kindText, true
	default:
		return 0, false
	}
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
