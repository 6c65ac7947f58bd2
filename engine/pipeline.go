package engine

import (
	"context"
	"sync"

	"pdfua/contentstream"
	"pdfua/contrast"
	"pdfua/ir/semantic"
	"pdfua/observability"
	"pdfua/structure"
)

// pageOutcome is what one page worker hands back to the merge step.
type pageOutcome struct {
	structResult *structure.PageResult
}

// repairPages runs the per-page phase across a bounded worker pool. Each
// worker owns its page exclusively; everything shared is merged under one
// lock. A failing page is recorded and skipped without affecting others.
func (e *Engine) repairPages(ctx context.Context, doc *semantic.Document, req Request, res *Result) ([]*pageOutcome, error) {
	outcomes := make([]*pageOutcome, len(doc.Pages))
	spansByPage := map[int][]structure.Span{}
	for _, sp := range req.Spans {
		spansByPage[sp.Page] = append(spansByPage[sp.Page], gateSpan(sp, req.Fixes))
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan int)
	)
	workers := e.cfg.Workers
	if workers > len(doc.Pages) {
		workers = len(doc.Pages)
	}
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					return
				}
				page := doc.Pages[idx]
				outcome, err := e.repairPage(page, spansByPage[page.Index], req, res, &mu)
				mu.Lock()
				if err != nil {
					res.PageErrors[page.Index] = err
					e.cfg.Logger.Warn("page skipped",
						observability.Int("page", page.Index),
						observability.Error("err", err))
				} else {
					outcomes[idx] = outcome
				}
				mu.Unlock()
			}
		}()
	}
	for idx := range doc.Pages {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// repairPage tokenizes, repairs contrast, builds the page's structure
// regions, and rewrites the content stream. Counters in res are touched
// only under mu.
func (e *Engine) repairPage(page *semantic.Page, spans []structure.Span, req Request, res *Result, mu *sync.Mutex) (*pageOutcome, error) {
	ops, err := contentstream.Tokenize(page.RawContent())
	if err != nil {
		return nil, err
	}
	ex := contentstream.Extract(ops, page.Resources)
	for _, run := range ex.Runs {
		if !run.Resolved {
			e.cfg.Logger.Warn("text run with unresolvable encoding kept unclassified",
				observability.Int("page", page.Index),
				observability.String("font", run.FontName))
		}
	}
	changed := false

	if req.Fixes.Contrast {
		cres := contrast.Repair(ex, contrast.Options{Logger: e.cfg.Logger})
		if len(cres.Fixes) > 0 {
			contrast.Apply(ops, cres.Fixes)
			changed = true
		}
		mu.Lock()
		res.Counts.Contrast += len(cres.Fixes)
		if len(cres.Review) > 0 {
			res.ContrastReview = append(res.ContrastReview, page.Index)
		}
		mu.Unlock()
	}

	outcome := &pageOutcome{}
	if req.Fixes.structural() {
		builder := structure.NewBuilder(structure.Config{Logger: e.cfg.Logger})
		sres, err := builder.BuildPage(structure.PageInput{
			Page:  page,
			Ops:   ops,
			Runs:  ex.Runs,
			Spans: spans,
		})
		if err != nil {
			return nil, err
		}
		ops, err = contentstream.Wrap(ops, sres.Regions)
		if err != nil {
			return nil, err
		}
		changed = true
		outcome.structResult = sres

		mu.Lock()
		res.Counts.MCIDs += sres.MCIDs
		res.Counts.CoverageGaps += len(sres.Gaps)
		for _, elem := range sres.Elements {
			elem.Walk(func(*semantic.StructureElement) { res.Counts.Elements++ })
		}
		mu.Unlock()
	}

	if changed {
		page.SetContent(contentstream.Serialize(ops))
	}
	return outcome, nil
}

// gateSpan downgrades a span whose classification the request did not ask
// to apply: headings fall back to paragraphs when heading fixes are off,
// tables flatten to a paragraph region, and figures lose supplied alt text
// (becoming explicitly decorative) when alt-text fixes are off.
func gateSpan(sp structure.Span, fixes FixSet) structure.Span {
	if !fixes.Headings && sp.Tag.IsHeading() {
		sp.Tag = semantic.TagP
	}
	if !fixes.Tables && sp.Tag == semantic.TagTable {
		sp.Tag = semantic.TagP
		sp.Rows = nil
	}
	if !fixes.AltText && sp.Tag == semantic.TagFigure {
		sp.Alt = ""
		sp.HasAlt = false
	}
	return sp
}
