package usecase

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"unicode"

	"go.uber.org/zap"

	"newsrag/internal/domain"
	"newsrag/internal/port"
)

//go:embed templates/*.txt
var promptTemplates embed.FS

// DefaultContextTokenBudget bounds the retrieved text sent with a question.
const DefaultContextTokenBudget = 6000

// sourcesMarker only counts at the start of a line, optionally behind
// markdown emphasis or heading characters.
var sourcesMarker = regexp.MustCompile(`(?im)^[ \t*_#>]*sources:`)

// Synthesizer turns a question and retrieved chunks into a grounded answer.
type Synthesizer struct {
	llm    port.LLM
	packer *ContextPacker
	budget int
	system string
	user   *template.Template
	logger *zap.Logger
}

func NewSynthesizer(llm port.LLM, packer *ContextPacker, budget int, logger *zap.Logger) (*Synthesizer, error) {
	if budget <= 0 {
		budget = DefaultContextTokenBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	system, err := promptTemplates.ReadFile("templates/system_prompt.txt")
	if err != nil {
		return nil, fmt.Errorf("template not found: %w", err)
	}
	userTmpl, err := promptTemplates.ReadFile("templates/answer_prompt.txt")
	if err != nil {
		return nil, fmt.Errorf("template not found: %w", err)
	}
	user, err := template.New("answer").Funcs(templateFuncs()).Parse(string(userTmpl))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &Synthesizer{
		llm:    llm,
		packer: packer,
		budget: budget,
		system: strings.TrimSpace(string(system)),
		user:   user,
		logger: logger,
	}, nil
}

type promptData struct {
	Question string
	Chunks   []domain.ScoredChunk
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"inc":  func(i int) int { return i + 1 },
		"trim": strings.TrimSpace,
	}
}

// Synthesize asks the LLM to answer question from chunks. A failed call is a
// SynthesisError; a reply without a usable SOURCES line comes back degraded
// with the raw text as the answer.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, chunks []domain.ScoredChunk) (domain.Answer, error) {
	packed := s.packer.Pack(chunks, s.budget)

	var buf bytes.Buffer
	if err := s.user.Execute(&buf, promptData{Question: question, Chunks: packed}); err != nil {
		return domain.Answer{}, fmt.Errorf("failed to render template: %w", err)
	}

	s.logger.Debug("synthesizing answer",
		zap.Int("chunks", len(packed)),
		zap.Int("context_tokens", s.packer.UsedTokens(packed)),
	)

	raw, err := s.llm.GenerateWithSystem(ctx, s.system, buf.String())
	if err != nil {
		if ctx.Err() != nil {
			return domain.Answer{}, ctx.Err()
		}
		var synthErr *domain.SynthesisError
		if errors.As(err, &synthErr) {
			return domain.Answer{}, err
		}
		return domain.Answer{}, &domain.SynthesisError{Err: err}
	}

	urls := make([]string, len(packed))
	for i, c := range packed {
		urls[i] = c.Chunk.URL
	}

	answer, ok := ParseAnswer(raw, urls)
	if !ok {
		s.logger.Warn("could not parse model reply, returning raw text",
			zap.Int("reply_len", len(raw)),
		)
	}
	return answer, nil
}

// ParseAnswer splits a model reply on its last SOURCES: marker. Cited
// sources are kept only if they are among urls; "[n]" or "n" refers to the
// n-th entry of urls. ok is false when the reply has no marker or no answer
// text, in which case the raw reply is returned as a degraded answer.
func ParseAnswer(raw string, urls []string) (answer domain.Answer, ok bool) {
	locs := sourcesMarker.FindAllStringIndex(raw, -1)
	if len(locs) == 0 {
		return domain.Answer{Text: strings.TrimSpace(raw), Degraded: true}, false
	}
	last := locs[len(locs)-1]

	text := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(raw[:last[0]]), "*_#"))
	if text == "" {
		return domain.Answer{Text: strings.TrimSpace(raw), Degraded: true}, false
	}

	allowed := make(map[string]bool, len(urls))
	for _, u := range urls {
		allowed[u] = true
	}

	seen := make(map[string]bool)
	sources := []string{}
	fields := strings.FieldsFunc(raw[last[1]:], func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
	for _, f := range fields {
		f = strings.Trim(f, "*_`'\"<>()")
		f = strings.TrimRight(f, ".")
		if n, err := strconv.Atoi(strings.Trim(f, "[]")); err == nil {
			if n < 1 || n > len(urls) {
				continue
			}
			f = urls[n-1]
		}
		if !allowed[f] || seen[f] {
			continue
		}
		seen[f] = true
		sources = append(sources, f)
	}

	return domain.Answer{Text: text, Sources: sources}, true
}
