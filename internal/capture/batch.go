package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
	"github.com/dgnsrekt/adcapture/internal/creative"
)

// EngineFactory builds the engine for one batch. It is called at most once
// per Run, on the first request.
type EngineFactory func() (cdpcontrol.Engine, error)

// Outcome is delivered to the sink once per request, in submission order.
type Outcome struct {
	Request Request
	Result  *Result
	Err     error
}

type Batch struct {
	newEngine     EngineFactory
	orch          *Orchestrator
	creatives     CreativeSource
	prefetchLimit int
}

func NewBatch(newEngine EngineFactory, orch *Orchestrator, creatives CreativeSource, prefetchLimit int) *Batch {
	if prefetchLimit <= 0 {
		prefetchLimit = 4
	}
	return &Batch{newEngine: newEngine, orch: orch, creatives: creatives, prefetchLimit: prefetchLimit}
}

// Run captures reqs one after another in a single browser session. The
// engine is launched on the first valid request and always closed before
// Run returns. A launch failure fails every remaining request.
func (b *Batch) Run(ctx context.Context, reqs []Request, sink func(Outcome)) error {
	if len(reqs) == 0 {
		return nil
	}
	sources := b.prefetch(ctx, reqs)

	var engine cdpcontrol.Engine
	defer func() {
		if engine == nil {
			return
		}
		if err := engine.Close(); err != nil {
			slog.Warn("browser close failed", "error", err)
		}
	}()

	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			sink(Outcome{Request: req, Err: err})
			continue
		}
		if err := req.Validate(); err != nil {
			sink(Outcome{Request: req, Err: err})
			continue
		}
		if engine == nil {
			e, err := b.launch(ctx)
			if err != nil {
				for _, rest := range reqs[i:] {
					sink(Outcome{Request: rest, Err: err})
				}
				return err
			}
			engine = e
		}
		res, err := b.runOne(ctx, engine, req, sources[req.CreativeURL])
		sink(Outcome{Request: req, Result: res, Err: err})
	}
	return nil
}

func (b *Batch) launch(ctx context.Context) (cdpcontrol.Engine, error) {
	e, err := b.newEngine()
	if err != nil {
		return nil, err
	}
	if err := e.Launch(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (b *Batch) runOne(ctx context.Context, engine cdpcontrol.Engine, req Request, src creative.Source) (res *Result, err error) {
	page, err := engine.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			slog.Warn("page close failed", "capture_id", req.ID, "error", cerr)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("capture panicked: %v", r)
		}
	}()
	return b.orch.RunWithSource(ctx, page, req, src)
}

// prefetch downloads every distinct creative concurrently before the
// browser is started.
func (b *Batch) prefetch(ctx context.Context, reqs []Request) map[string]creative.Source {
	var (
		mu  sync.Mutex
		out = make(map[string]creative.Source)
		g   errgroup.Group
	)
	g.SetLimit(b.prefetchLimit)
	seen := make(map[string]bool)
	for _, req := range reqs {
		u := req.CreativeURL
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		g.Go(func() error {
			src := b.creatives.Source(ctx, u)
			mu.Lock()
			out[u] = src
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
