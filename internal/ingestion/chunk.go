package ingestion

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/54b3r/hamdam-go/internal/rag"
)

// DefaultChunkWords is the number of words per chunk produced by ChunkWords.
const DefaultChunkWords = 500

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 16 << 20

// jsonlRecord is one line of a chunk file. Older chunking runs wrote the
// chunk body under "text" instead of "content".
type jsonlRecord struct {
	ChunkID rag.ChunkID `json:"chunk_id"`
	Content string      `json:"content"`
	Text    string      `json:"text"`
	Source  string      `json:"source"`
}

// ReadJSONL decodes one chunk per line. Blank lines are skipped. A record
// without a chunk_id gets its position in the file.
func ReadJSONL(r io.Reader) ([]rag.Chunk, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var chunks []rag.Chunk
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("ingestion: line %d: %w", line, err)
		}
		content := rec.Content
		if content == "" {
			content = rec.Text
		}
		id := rec.ChunkID
		if id == "" {
			id = rag.ChunkID(strconv.Itoa(len(chunks)))
		}
		chunks = append(chunks, rag.Chunk{ChunkID: id, Content: content, Source: rec.Source})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ingestion: read chunks: %w", err)
	}
	return chunks, nil
}

// WriteJSONL encodes chunks one per line.
func WriteJSONL(w io.Writer, chunks []rag.Chunk) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("ingestion: write chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("ingestion: write chunks: %w", err)
	}
	return nil
}

// ChunkWords splits text into consecutive chunks of size words. Chunk ids
// count up from startID so several documents can share one id space.
func ChunkWords(text, source string, size, startID int) []rag.Chunk {
	if size <= 0 {
		size = DefaultChunkWords
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]rag.Chunk, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		chunks = append(chunks, rag.Chunk{
			ChunkID: rag.ChunkID(strconv.Itoa(startID + len(chunks))),
			Content: strings.Join(words[start:end], " "),
			Source:  source,
		})
	}
	return chunks
}

// FilterConfig holds the thresholds used by Filter.
type FilterConfig struct {
	// MinWords drops chunks shorter than this. Defaults to 30 if zero.
	MinWords int

	// MaxBadChars drops chunks with more extraction artefacts than this.
	// Defaults to 3 if zero.
	MaxBadChars int
}

// badChars are characters left behind by broken PDF text extraction:
// replacement characters plus stray joiners and bidi marks.
var badChars = []string{"\ufffd", "\u200c", "\u200e", "\u202a", "\u202c"}

// Filter returns the chunks that pass the length and artefact checks and
// the number dropped.
func Filter(chunks []rag.Chunk, cfg FilterConfig) ([]rag.Chunk, int) {
	if cfg.MinWords <= 0 {
		cfg.MinWords = 30
	}
	if cfg.MaxBadChars <= 0 {
		cfg.MaxBadChars = 3
	}

	kept := make([]rag.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if len(strings.Fields(c.Content)) < cfg.MinWords {
			continue
		}
		if countBadChars(c.Content) > cfg.MaxBadChars {
			continue
		}
		kept = append(kept, c)
	}
	return kept, len(chunks) - len(kept)
}

func countBadChars(s string) int {
	n := 0
	for _, b := range badChars {
		n += strings.Count(s, b)
	}
	return n
}
