package ingestion

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/hamdam-go/internal/rag"
)

// lengthEmbedder returns a 2-dimensional vector derived from the text length.
type lengthEmbedder struct {
	calls int
	dim   int
}

func (e *lengthEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	dim := e.dim
	if dim == 0 {
		dim = 2
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

type recordingSink struct {
	chunks  []rag.Chunk
	vectors [][]float32
}

func (s *recordingSink) Write(_ context.Context, chunks []rag.Chunk, vectors [][]float32) error {
	s.chunks, s.vectors = chunks, vectors
	return nil
}

func words(n int, w string) string {
	return strings.TrimSpace(strings.Repeat(w+" ", n))
}

func TestReadJSONL(t *testing.T) {
	t.Parallel()

	input := `{"chunk_id": 7, "content": "first", "source": "book-a.pdf"}

{"chunk_id": "x-2", "text": "second from an old run"}
{"content": "third"}
`
	chunks, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	want := []rag.Chunk{
		{ChunkID: "7", Content: "first", Source: "book-a.pdf"},
		{ChunkID: "x-2", Content: "second from an old run"},
		{ChunkID: "2", Content: "third"},
	}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d: got %+v, want %+v", i, chunks[i], want[i])
		}
	}
}

func TestReadJSONL_ReportsLine(t *testing.T) {
	t.Parallel()

	_, err := ReadJSONL(strings.NewReader("{\"content\": \"ok\"}\n{broken\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 error, got %v", err)
	}
}

func TestWriteJSONL_ReadBack(t *testing.T) {
	t.Parallel()

	in := []rag.Chunk{
		{ChunkID: "0", Content: "من امروز احساس اضطراب دارم", Source: "fa.pdf"},
		{ChunkID: "1", Content: "<thoughts> & feelings"},
	}
	var buf bytes.Buffer
	if err := WriteJSONL(&buf, in); err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}
	if !strings.Contains(buf.String(), "اضطراب") || !strings.Contains(buf.String(), "<thoughts>") {
		t.Errorf("expected unescaped output, got %s", buf.String())
	}
	out, err := ReadJSONL(&buf)
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Errorf("got %+v", out)
	}
}

func TestChunkWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		size      int
		wantCount int
		wantLast  int
	}{
		{"empty", "   ", 10, 0, 0},
		{"exact", words(20, "w"), 10, 2, 10},
		{"remainder", words(25, "w"), 10, 3, 5},
		{"default size", words(1200, "w"), 0, 3, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ChunkWords(tt.text, "src.txt", tt.size, 100)
			if len(got) != tt.wantCount {
				t.Fatalf("got %d chunks, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount == 0 {
				return
			}
			if got[0].ChunkID != "100" || got[0].Source != "src.txt" {
				t.Errorf("first chunk: got %+v", got[0])
			}
			if n := len(strings.Fields(got[len(got)-1].Content)); n != tt.wantLast {
				t.Errorf("last chunk words: got %d, want %d", n, tt.wantLast)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()

	in := []rag.Chunk{
		{ChunkID: "short", Content: words(10, "w")},
		{ChunkID: "ok", Content: words(40, "w")},
		{ChunkID: "garbled", Content: words(40, "w") + " \ufffd\ufffd\ufffd\ufffd"},
		{ChunkID: "few-marks", Content: words(40, "w") + " \u200c\u200e"},
	}
	kept, dropped := Filter(in, FilterConfig{})
	if dropped != 2 {
		t.Errorf("dropped: got %d, want 2", dropped)
	}
	if len(kept) != 2 || kept[0].ChunkID != "ok" || kept[1].ChunkID != "few-marks" {
		t.Errorf("kept: got %+v", kept)
	}

	kept, _ = Filter(in, FilterConfig{MinWords: 5})
	if len(kept) != 3 {
		t.Errorf("MinWords 5: got %d chunks, want 3", len(kept))
	}
}

func TestNewPipeline_NilEmbedder(t *testing.T) {
	t.Parallel()

	if _, err := NewPipeline(nil, nil); err == nil {
		t.Fatal("expected error for nil embedder")
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	emb := &lengthEmbedder{}
	p, err := NewPipeline(emb, &Config{BatchSize: 2})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	chunks := ChunkWords(words(5, "w"), "s", 1, 0)
	sink := &recordingSink{}

	var last int
	stats, err := p.Build(context.Background(), chunks, sink, func(done, total int) {
		last = done
		if total != 5 {
			t.Errorf("total: got %d, want 5", total)
		}
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Chunks != 5 || stats.Dimensions != 2 {
		t.Errorf("stats: got %+v", stats)
	}
	if emb.calls != 3 || last != 5 {
		t.Errorf("calls %d, last progress %d", emb.calls, last)
	}
	if len(sink.vectors) != 5 || len(sink.chunks) != 5 {
		t.Errorf("sink got %d chunks, %d vectors", len(sink.chunks), len(sink.vectors))
	}
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	chunks := []rag.Chunk{{ChunkID: "0", Content: "hello"}}

	p, _ := NewPipeline(&lengthEmbedder{}, nil)
	if _, err := p.Build(context.Background(), nil, &recordingSink{}, nil); !errors.Is(err, ErrNoChunks) {
		t.Errorf("empty input: got %v, want ErrNoChunks", err)
	}
	if _, err := p.Build(context.Background(), chunks, nil, nil); err == nil {
		t.Error("expected error for nil sink")
	}

	p, _ = NewPipeline(&lengthEmbedder{dim: 4}, &Config{Dimensions: 384})
	if _, err := p.Build(context.Background(), chunks, &recordingSink{}, nil); err == nil || !strings.Contains(err.Error(), "384") {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestFlatSink_LoadsAsCorpus(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "retriever")
	sink := &FlatSink{
		IndexPath: filepath.Join(dir, "index_en.bin"),
		MetaPath:  filepath.Join(dir, "meta_en.json"),
	}
	chunks := []rag.Chunk{
		{ChunkID: "0", Content: "a"},
		{ChunkID: "1", Content: "bbbbbbbb"},
	}
	p, _ := NewPipeline(&lengthEmbedder{}, nil)
	if _, err := p.Build(context.Background(), chunks, sink, nil); err != nil {
		t.Fatalf("Build: %v", err)
	}

	corpus, err := rag.LoadFlatCorpus("en", sink.IndexPath, sink.MetaPath)
	if err != nil || corpus == nil {
		t.Fatalf("LoadFlatCorpus: %v, %v", corpus, err)
	}
	if len(corpus.Chunks) != 2 {
		t.Fatalf("got %d chunks", len(corpus.Chunks))
	}
	ids, err := corpus.Index.Search(context.Background(), []float32{8, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || corpus.Chunks[ids[0]].ChunkID != "1" {
		t.Errorf("nearest: got %v", ids)
	}
}

func TestFlatSink_MismatchedInput(t *testing.T) {
	t.Parallel()

	sink := &FlatSink{IndexPath: filepath.Join(t.TempDir(), "i.bin"), MetaPath: filepath.Join(t.TempDir(), "m.json")}
	err := sink.Write(context.Background(), []rag.Chunk{{ChunkID: "0"}}, nil)
	if err == nil {
		t.Fatal("expected error for mismatched chunks and vectors")
	}
}
