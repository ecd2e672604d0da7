package domain

import "time"

// SourceDocument is the extracted text of one fetched page.
type SourceDocument struct {
	URL   string
	Title string
	Text  string
	// Truncated is set when the body hit the loader's size cap.
	Truncated bool
}

type Chunk struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Seq  int    `json:"seq"`
	Text string `json:"text"`
}

// IndexEntry pairs a chunk with its embedding.
type IndexEntry struct {
	Vector []float32
	Chunk  Chunk
}

type ScoredChunk struct {
	Chunk  Chunk
	Score  float64
	Vector []float32
}

// Answer is the parsed output of a grounded LLM call.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []string `json:"sources"`
	// Degraded is set when the model reply could not be parsed and Text
	// carries the raw response.
	Degraded bool `json:"degraded,omitempty"`
}

// IndexInfo describes a persisted snapshot.
type IndexInfo struct {
	BuildID   string    `json:"build_id"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	ChunkSize int       `json:"chunk_size"`
	Sources   []string  `json:"sources"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

type Stage string

const (
	StageIdle          Stage = "idle"
	StageLoading       Stage = "loading"
	StageChunking      Stage = "chunking"
	StageEmbedding     Stage = "embedding"
	StageIndexBuilding Stage = "index_building"
	StagePersisted     Stage = "persisted"
	StageRetrieving    Stage = "retrieving"
	StageSynthesizing  Stage = "synthesizing"
	StageAnswered      Stage = "answered"
	StageFailed        Stage = "failed"
)

// Progress is emitted on every pipeline stage transition.
type Progress struct {
	Stage   Stage
	Percent int
	Message string
}

type BuildResult struct {
	Success      bool          `json:"success"`
	Error        *StageError   `json:"error,omitempty"`
	FetchErrors  []*FetchError `json:"fetch_errors,omitempty"`
	Documents    int           `json:"documents"`
	Chunks       int           `json:"chunks"`
	SnapshotPath string        `json:"snapshot_path,omitempty"`
	BuildID      string        `json:"build_id,omitempty"`
}

// QueryError is the structured failure returned by the query entry points.
type QueryError struct {
	Kind    ErrorKind `json:"kind"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
}

func (e *QueryError) Error() string {
	return string(e.Stage) + ": " + e.Message
}

type QueryResult struct {
	Question string      `json:"question"`
	Answer   string      `json:"answer,omitempty"`
	Sources  []string    `json:"sources,omitempty"`
	Degraded bool        `json:"degraded,omitempty"`
	Error    *QueryError `json:"error,omitempty"`
}

type ComparisonRow struct {
	URL     string      `json:"url"`
	Summary string      `json:"summary"`
	Sources []string    `json:"sources,omitempty"`
	Error   *QueryError `json:"error,omitempty"`
}

type ReportResult struct {
	ReportText string      `json:"report_text"`
	Sources    []string    `json:"sources,omitempty"`
	Error      *QueryError `json:"error,omitempty"`
}
