// Package writer serializes a repaired document. Untouched objects are
// copied from the parsed original; mutated parts (content streams, catalog,
// structure tree, info, XMP) are rebuilt, and the cross-reference table and
// trailer are regenerated. Output is deterministic for identical input and
// is never partial: serialization either completes or returns an error with
// nothing observable written.
package writer

import (
	"context"
	"io"

	"pdfua/ir/raw"
	"pdfua/ir/semantic"
	"pdfua/observability"
)

// Config controls serialization.
type Config struct {
	// Version is the header version, default "1.7".
	Version string
	// Compress flate-compresses rebuilt content streams.
	Compress bool
	Logger   observability.Logger
}

// Writer emits a complete document combining the original raw objects with
// the semantic model's mutations.
type Writer interface {
	Write(ctx context.Context, rawDoc *raw.Document, doc *semantic.Document, out io.Writer) error
}

// New returns a Writer. Any encryption dictionary is dropped on output:
// object data is held decrypted in memory and the engine only reaches
// serialization when that is an authorized outcome.
func New(cfg Config) Writer {
	if cfg.Version == "" {
		cfg.Version = "1.7"
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &writerImpl{cfg: cfg}
}
