// Package engine orchestrates the remediation pipeline: parse, repair the
// selected accessibility defects, serialize, and validate the result. The
// engine is synchronous and deterministic; bytes go in, repaired bytes and
// a compliance report come out. On a document-level failure, or when no
// fixes are requested, the input bytes are returned unchanged.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"time"

	"pdfua/compliance"
	"pdfua/filters"
	"pdfua/ir/semantic"
	"pdfua/metadata"
	"pdfua/observability"
	"pdfua/parser"
	"pdfua/readingorder"
	"pdfua/recovery"
	"pdfua/structure"
	"pdfua/writer"
)

// FixSet selects which repairs a request runs. The zero value fixes
// nothing.
type FixSet struct {
	Headings bool
	AltText  bool
	Language bool
	Title    bool
	Contrast bool
	TabOrder bool
	Tables   bool
}

// Any reports whether at least one fix is enabled.
func (f FixSet) Any() bool {
	return f.Headings || f.AltText || f.Language || f.Title || f.Contrast || f.TabOrder || f.Tables
}

// structural reports whether the request rebuilds the structure tree.
func (f FixSet) structural() bool {
	return f.Headings || f.AltText || f.Tables
}

// Config configures an Engine.
type Config struct {
	// Workers bounds page-level parallelism, default GOMAXPROCS.
	Workers int
	// Band is the reading-order vertical-overlap fraction, zero for the
	// default.
	Band float64
	// Password opens encrypted documents; empty tries the empty user
	// password.
	Password string
	// Compress flate-compresses rewritten content streams.
	Compress bool
	Logger   observability.Logger
	Tracer   observability.Tracer
}

// Request is one repair invocation: the classification spans supplied by
// the upstream classifier plus the fix selection.
type Request struct {
	Fixes FixSet
	// Spans carry the upstream classifier's proposals, keyed by 1-based
	// page index and operation range in that page's tokenized stream.
	Spans []structure.Span
	// Language overrides the fallback primary language ("en" if empty).
	Language string
	// Title sets the document title; empty keeps what the document has.
	Title string
	// AuthorizePermissions allows permission-bit changes, which imply
	// removing encryption from the output.
	AuthorizePermissions bool
}

// Counts are the per-feature repair tallies.
type Counts struct {
	Elements     int
	MCIDs        int
	Contrast     int
	Metadata     int
	TabOrder     int
	CoverageGaps int
}

// Result is the outcome of a repair.
type Result struct {
	// PDF is the repaired document, or the input bytes unchanged when
	// nothing was fixed.
	PDF []byte
	// Changed reports whether PDF differs from the input.
	Changed bool
	Report  *compliance.Report
	Counts  Counts
	// PageErrors maps 1-based page indexes to the error that excluded
	// the page from repair. Other pages are unaffected.
	PageErrors map[int]error
	// AmbiguousPages lists pages whose reading order needs review.
	AmbiguousPages []int
	// ContrastReview lists pages with runs whose contrast could not be
	// repaired within the stepping cap.
	ContrastReview []int
}

// Engine runs the pipeline.
type Engine struct {
	cfg       Config
	filters   *filters.Pipeline
	validator compliance.Validator
	order     readingorder.Config
}

// New returns a ready engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		cfg:       cfg,
		filters:   filters.NewDefault(),
		validator: compliance.NewValidator(compliance.Config{Band: cfg.Band}),
		order:     readingorder.Config{Band: cfg.Band},
	}
}

// parser builds a fresh document parser. Object-level damage is absorbed
// up to a bound; past it the document counts as unrecoverable.
func (e *Engine) parser() *parser.DocumentParser {
	return parser.NewDocumentParser(parser.Config{
		Filters:  e.filters,
		Password: e.cfg.Password,
		Logger:   e.cfg.Logger,
		Recovery: &recovery.Lenient{MaxSkips: maxSkippedObjects},
	})
}

const maxSkippedObjects = 1000

// Load parses the document into the semantic model without repairing it.
func (e *Engine) Load(ctx context.Context, pdf []byte) (*semantic.Document, error) {
	start := time.Now()
	rawDoc, err := e.parser().Parse(ctx, pdf)
	if err != nil {
		return nil, fmt.Errorf("engine: parse: %w", err)
	}
	e.cfg.Logger.Debug(observability.MetricParseTime,
		observability.String("elapsed", time.Since(start).String()))
	b := semantic.NewBuilder(semantic.BuilderConfig{Filters: e.filters, Logger: e.cfg.Logger})
	doc, err := b.Build(ctx, rawDoc)
	if err != nil {
		return nil, fmt.Errorf("engine: build model: %w", err)
	}
	return doc, nil
}

// Validate checks compliance without mutating anything.
func (e *Engine) Validate(ctx context.Context, pdf []byte) (*compliance.Report, error) {
	doc, err := e.Load(ctx, pdf)
	if err != nil {
		return nil, err
	}
	return e.validator.Validate(ctx, doc)
}

// Repair runs the requested fixes and returns the repaired bytes with a
// compliance report of the result. Page-level failures skip the page and
// are reported; document-level failures return the input unchanged with
// the error.
func (e *Engine) Repair(ctx context.Context, pdf []byte, req Request) (*Result, error) {
	ctx, span := e.cfg.Tracer.StartSpan(ctx, "engine.repair")
	defer span.Finish()

	if !req.Fixes.Any() {
		report, err := e.Validate(ctx, pdf)
		if err != nil {
			return nil, err
		}
		return &Result{PDF: pdf, Report: report}, nil
	}

	rawDoc, err := e.parser().Parse(ctx, pdf)
	if err != nil {
		span.SetError(err)
		return &Result{PDF: pdf}, fmt.Errorf("engine: parse: %w", err)
	}
	b := semantic.NewBuilder(semantic.BuilderConfig{Filters: e.filters, Logger: e.cfg.Logger})
	doc, err := b.Build(ctx, rawDoc)
	if err != nil {
		span.SetError(err)
		return &Result{PDF: pdf}, fmt.Errorf("engine: build model: %w", err)
	}
	e.cfg.Logger.Info("document loaded",
		observability.Int(observability.MetricPageCount, len(doc.Pages)))

	res := &Result{PageErrors: map[int]error{}}

	pages, err := e.repairPages(ctx, doc, req, res)
	if err != nil {
		return &Result{PDF: pdf}, err
	}

	if req.Fixes.structural() {
		var pageResults []*structure.PageResult
		for _, pr := range pages {
			if pr != nil && pr.structResult != nil {
				pageResults = append(pageResults, pr.structResult)
			}
		}
		doc.StructTree = structure.Assemble(pageResults)
		_, ambiguous := e.order.Sort(doc.StructTree)
		res.AmbiguousPages = ambiguous
		for i, page := range doc.Pages {
			if pages[i] == nil || pages[i].structResult == nil {
				continue
			}
			page.StructParents = page.Index - 1
		}
	}

	mdOpts := metadata.Options{
		FixLanguage:          req.Fixes.Language,
		FixTitle:             req.Fixes.Title,
		FixMarked:            req.Fixes.structural(),
		FixPermissions:       req.Fixes.structural() || req.Fixes.Language || req.Fixes.Title,
		Language:             req.Language,
		Title:                req.Title,
		AuthorizePermissions: req.AuthorizePermissions,
		Logger:               e.cfg.Logger,
	}
	mdRes, err := metadata.Repair(doc, mdOpts)
	if err != nil {
		span.SetError(err)
		return &Result{PDF: pdf}, fmt.Errorf("engine: metadata: %w", err)
	}
	res.Counts.Metadata = mdRes.Fixes

	if req.Fixes.TabOrder {
		for _, page := range doc.Pages {
			if len(page.Annotations) == 0 {
				continue
			}
			if e.order.TabOrder(page) {
				res.Counts.TabOrder++
			}
		}
	}

	start := time.Now()
	var out bytes.Buffer
	w := writer.New(writer.Config{Compress: e.cfg.Compress, Logger: e.cfg.Logger})
	if err := w.Write(ctx, rawDoc, doc, &out); err != nil {
		span.SetError(err)
		return &Result{PDF: pdf}, fmt.Errorf("engine: write: %w", err)
	}
	e.cfg.Logger.Debug(observability.MetricWriteTime,
		observability.String("elapsed", time.Since(start).String()))
	res.PDF = out.Bytes()
	res.Changed = !bytes.Equal(res.PDF, pdf)

	// validate what was actually written, not the in-memory model
	vStart := time.Now()
	report, err := e.Validate(ctx, res.PDF)
	if err != nil {
		span.SetError(err)
		return res, fmt.Errorf("engine: validate output: %w", err)
	}
	e.cfg.Logger.Debug(observability.MetricValidateTime,
		observability.String("elapsed", time.Since(vStart).String()))
	res.Report = report

	e.cfg.Logger.Info("repair finished",
		observability.Int(observability.MetricFixCount, res.Counts.Elements+res.Counts.Metadata+res.Counts.Contrast+res.Counts.TabOrder),
		observability.Int(observability.MetricMCIDCount, res.Counts.MCIDs),
		observability.Int(observability.MetricCoverageGaps, res.Counts.CoverageGaps))
	return res, nil
}
