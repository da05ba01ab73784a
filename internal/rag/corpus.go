package rag

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/54b3r/hamdam-go/internal/langdetect"
)

// ReadMetadata loads the JSON array of chunk records that parallels an index.
func ReadMetadata(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rag: read metadata %s: %w", path, err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("rag: parse metadata %s: %w", path, err)
	}
	return chunks, nil
}

// WriteMetadata writes chunks as an indented JSON array, keeping non-ASCII
// text (Persian) unescaped.
func WriteMetadata(path string, chunks []Chunk) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rag: create metadata %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(chunks); err != nil {
		_ = f.Close()
		return fmt.Errorf("rag: write metadata %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("rag: close metadata %s: %w", path, err)
	}
	return nil
}

// LoadFlatCorpus opens a flat index blob and its metadata file for lang.
// A missing file on either side is not an error: the language simply has no
// corpus and (nil, nil) is returned.
func LoadFlatCorpus(lang langdetect.Language, indexPath, metaPath string) (*Corpus, error) {
	if !exists(indexPath) || !exists(metaPath) {
		return nil, nil
	}

	idx, err := ReadFlatIndex(indexPath)
	if err != nil {
		return nil, err
	}
	chunks, err := ReadMetadata(metaPath)
	if err != nil {
		return nil, err
	}
	return &Corpus{Language: lang, Index: idx, Chunks: chunks}, nil
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
