package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/hamdam-go/internal/config"
	"github.com/54b3r/hamdam-go/internal/embedder"
	"github.com/54b3r/hamdam-go/internal/ingestion"
	"github.com/54b3r/hamdam-go/internal/langdetect"
	"github.com/54b3r/hamdam-go/internal/logging"
	"github.com/54b3r/hamdam-go/internal/rag"
)

// NewCorpusCmd constructs the `hamdam corpus` command group.
func NewCorpusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Build and inspect the retrieval corpora",
		Long: `Build and inspect the per-language retrieval corpora.

A corpus is a vector index plus a metadata file listing the chunks in index
order. With corpus.backend: flat both live under corpus.dir as
index_<lang>.bin and meta_<lang>.json; with corpus.backend: qdrant the
vectors go to the <prefix>_<lang> collection and only the metadata file is
written locally.`,
	}
	cmd.AddCommand(newCorpusChunkCmd(), newCorpusBuildCmd(), newCorpusClearCmd(), newCorpusStatsCmd())
	return cmd
}

func parseLang(s string) (langdetect.Language, error) {
	switch l := langdetect.Language(strings.ToLower(strings.TrimSpace(s))); l {
	case langdetect.Fa, langdetect.En:
		return l, nil
	default:
		return "", fmt.Errorf("--lang must be fa or en, got %q", s)
	}
}

func newCorpusChunkCmd() *cobra.Command {
	var out string
	var words int
	var filter bool
	var minWords, maxBad int

	cmd := &cobra.Command{
		Use:   "chunk FILE...",
		Short: "Split extracted text files into a JSONL chunk file",
		Long: `Split plain-text files into chunks of --words words and write them as
JSONL records {chunk_id, content, source}, ready for 'hamdam corpus build'.
Chunk ids count up across all files. With --filter, chunks that are too
short or full of extraction artefacts are dropped.

Examples:
  hamdam corpus chunk books/fa/*.txt --out all_chunks_fa.jsonl
  hamdam corpus chunk notes.txt --words 300 --filter=false`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.FromContext(cmd.Context())

			var chunks []rag.Chunk
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("corpus chunk: %w", err)
				}
				chunks = append(chunks, ingestion.ChunkWords(string(data), filepath.Base(path), words, len(chunks))...)
			}

			if filter {
				var dropped int
				chunks, dropped = ingestion.Filter(chunks, ingestion.FilterConfig{MinWords: minWords, MaxBadChars: maxBad})
				log.Info("corpus chunk: filtered", slog.Int("dropped", dropped), slog.Int("kept", len(chunks)))
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("corpus chunk: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := ingestion.WriteJSONL(w, chunks); err != nil {
				return fmt.Errorf("corpus chunk: %w", err)
			}
			log.Info("corpus chunk: done", slog.Int("files", len(args)), slog.Int("chunks", len(chunks)), slog.String("out", out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output JSONL path (default: stdout)")
	cmd.Flags().IntVar(&words, "words", ingestion.DefaultChunkWords, "Words per chunk")
	cmd.Flags().BoolVar(&filter, "filter", true, "Drop short or garbled chunks")
	cmd.Flags().IntVar(&minWords, "min-words", 30, "Minimum words per chunk when filtering")
	cmd.Flags().IntVar(&maxBad, "max-bad-chars", 3, "Maximum extraction artefacts per chunk when filtering")

	return cmd
}

func newCorpusBuildCmd() *cobra.Command {
	var langFlag string
	var chunksPath string
	var batchSize int
	var filter bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Embed a JSONL chunk file into a language corpus",
		Long: `Embed every chunk of a JSONL file and write the corpus for one language.

Each line must be a JSON object {chunk_id, content, source}; "text" is
accepted in place of "content". An existing corpus for the language is
replaced.

The embedding model must match the one used at query time (embedding.model).

Examples:
  hamdam corpus build --lang fa --chunks all_chunks_fa.jsonl
  HAMDAM_CORPUS_BACKEND=qdrant hamdam corpus build --lang en --chunks en.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			cfg := loadedConfig

			lang, err := parseLang(langFlag)
			if err != nil {
				return fmt.Errorf("corpus build: %w", err)
			}

			f, err := os.Open(chunksPath)
			if err != nil {
				return fmt.Errorf("corpus build: %w", err)
			}
			chunks, err := ingestion.ReadJSONL(f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("corpus build: %s: %w", chunksPath, err)
			}
			if filter {
				var dropped int
				chunks, dropped = ingestion.Filter(chunks, ingestion.FilterConfig{})
				log.Info("corpus build: filtered", slog.Int("dropped", dropped))
			}

			embCfg := cfg.EmbedderConfig()
			if err := embedder.Validate(embCfg, log); err != nil {
				return fmt.Errorf("corpus build: %w", err)
			}
			emb, err := embedder.New(embCfg)
			if err != nil {
				return fmt.Errorf("corpus build: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised", slog.String("provider", cfg.Embedding.Provider), slog.String("model", cfg.Embedding.Model))

			pipeline, err := ingestion.NewPipeline(emb, &ingestion.Config{
				BatchSize:  batchSize,
				Dimensions: cfg.Embedding.Dimensions,
			})
			if err != nil {
				return fmt.Errorf("corpus build: failed to create pipeline: %w", err)
			}

			sink, closeSink, err := corpusSink(cfg, lang)
			if err != nil {
				return fmt.Errorf("corpus build: %w", err)
			}
			defer closeSink()

			log.Info("corpus build: starting",
				slog.String("language", string(lang)),
				slog.String("backend", cfg.Corpus.Backend),
				slog.Int("chunks", len(chunks)),
			)
			stats, err := pipeline.Build(ctx, chunks, sink, func(done, total int) {
				log.Info("corpus build: embedded", slog.Int("done", done), slog.Int("total", total))
			})
			if err != nil {
				return fmt.Errorf("corpus build: %w", err)
			}

			log.Info("corpus build: complete",
				slog.String("language", string(lang)),
				slog.Int("chunks", stats.Chunks),
				slog.Int("dimensions", stats.Dimensions),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&langFlag, "lang", "l", "", "Corpus language: fa or en")
	cmd.Flags().StringVarP(&chunksPath, "chunks", "c", "", "JSONL chunk file to embed")
	cmd.Flags().IntVar(&batchSize, "batch-size", 32, "Chunks per embedding request")
	cmd.Flags().BoolVar(&filter, "filter", false, "Drop short or garbled chunks before embedding")
	_ = cmd.MarkFlagRequired("lang")
	_ = cmd.MarkFlagRequired("chunks")

	return cmd
}

// corpusSink returns the sink for lang's corpus on the configured backend
// and a func releasing its connection.
func corpusSink(cfg *config.Config, lang langdetect.Language) (ingestion.Sink, func(), error) {
	index, meta := cfg.CorpusPaths(lang)
	if cfg.Corpus.Backend != config.CorpusQdrant {
		return &ingestion.FlatSink{IndexPath: index, MetaPath: meta}, func() {}, nil
	}

	qcfg := cfg.QdrantConfig()
	client, err := rag.NewQdrantClient(qcfg)
	if err != nil {
		return nil, nil, err
	}
	sink := &ingestion.QdrantSink{
		Index:    rag.NewQdrantIndex(client, qcfg.Collection(lang)),
		MetaPath: meta,
	}
	return sink, func() { _ = client.Close() }, nil
}

func newCorpusClearCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove built corpus files (and Qdrant collections)",
		Long: `Remove every index_* and meta_* file (and legacy faiss_index* / faiss_meta*
files) from the corpus directory. With corpus.backend: qdrant the
per-language collections are dropped as well.

Examples:
  hamdam corpus clear
  hamdam corpus clear --dir data/retriever`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := loadedConfig
			if dir == "" {
				dir = cfg.Corpus.Dir
			}

			removed, err := clearCorpusDir(dir)
			for _, p := range removed {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✅ Removed: %s\n", p)
			}
			if err != nil {
				return fmt.Errorf("corpus clear: %w", err)
			}

			if cfg.Corpus.Backend == config.CorpusQdrant {
				return dropCollections(ctx, cfg, cmd.OutOrStdout())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Corpus directory (default: corpus.dir)")

	return cmd
}

// corpusFilePrefixes are the file name prefixes clearCorpusDir removes.
var corpusFilePrefixes = []string{"index_", "meta_", "faiss_index", "faiss_meta"}

// clearCorpusDir removes corpus files from dir and returns their paths. A
// missing dir is not an error.
func clearCorpusDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if e.IsDir() || !hasAnyPrefix(e.Name(), corpusFilePrefixes) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func dropCollections(ctx context.Context, cfg *config.Config, w io.Writer) error {
	qcfg := cfg.QdrantConfig()
	client, err := rag.NewQdrantClient(qcfg)
	if err != nil {
		return fmt.Errorf("corpus clear: %w", err)
	}
	defer client.Close()

	for _, lang := range corpusLanguages {
		idx := rag.NewQdrantIndex(client, qcfg.Collection(lang))
		dropped, err := idx.Drop(ctx)
		if err != nil {
			return fmt.Errorf("corpus clear: %w", err)
		}
		if dropped {
			_, _ = fmt.Fprintf(w, "✅ Dropped collection: %s\n", idx.Collection())
		}
	}
	return nil
}

func newCorpusStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show chunk counts and dimensions per language",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := loadedConfig

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "LANGUAGE\tBACKEND\tCHUNKS\tVECTORS\tDIMENSIONS\tSTATUS")
			for _, lang := range corpusLanguages {
				st := corpusStats(ctx, cfg, lang)
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", lang, cfg.Corpus.Backend, st.chunks, st.vectors, st.dim, st.status)
			}
			return tw.Flush()
		},
	}
}

type langStats struct {
	chunks  int
	vectors uint64
	dim     string
	status  string
}

// corpusStats inspects lang's corpus without loading it into a retriever.
func corpusStats(ctx context.Context, cfg *config.Config, lang langdetect.Language) langStats {
	index, meta := cfg.CorpusPaths(lang)

	st := langStats{dim: "-", status: "ok"}
	chunks, err := rag.ReadMetadata(meta)
	if err != nil {
		st.status = "missing metadata"
		return st
	}
	st.chunks = len(chunks)

	switch cfg.Corpus.Backend {
	case config.CorpusQdrant:
		qcfg := cfg.QdrantConfig()
		client, err := rag.NewQdrantClient(qcfg)
		if err != nil {
			st.status = err.Error()
			return st
		}
		defer client.Close()
		n, err := rag.NewQdrantIndex(client, qcfg.Collection(lang)).Count(ctx)
		if err != nil {
			st.status = "collection unavailable"
			return st
		}
		st.vectors = n
	default:
		idx, err := rag.ReadFlatIndex(index)
		if err != nil {
			st.status = "missing index"
			return st
		}
		st.vectors = uint64(idx.Len())
		st.dim = fmt.Sprint(idx.Dim())
		if want := cfg.Embedding.Dimensions; want > 0 && idx.Dim() != want {
			st.status = fmt.Sprintf("dimension mismatch (embedding.dimensions %d)", want)
			return st
		}
	}

	if st.vectors != uint64(st.chunks) {
		st.status = "index and metadata differ"
	}
	return st
}
