package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
)

type fakeEngine struct {
	launchErr error
	launches  int
	closes    int
	pages     []*fakePage
}

func (e *fakeEngine) Launch(context.Context) error {
	e.launches++
	return e.launchErr
}

func (e *fakeEngine) NewPage(context.Context) (cdpcontrol.Page, error) {
	p := &fakePage{}
	e.pages = append(e.pages, p)
	return p, nil
}

func (e *fakeEngine) Close() error {
	e.closes++
	return nil
}

func newTestBatch(h *harness, eng *fakeEngine, creatives *fakeCreatives) (*Batch, *int) {
	factoryCalls := 0
	b := NewBatch(func() (cdpcontrol.Engine, error) {
		factoryCalls++
		return eng, nil
	}, h.orch, creatives, 2)
	return b, &factoryCalls
}

func TestBatchSequentialSingleSession(t *testing.T) {
	h := newHarness(2)
	eng := &fakeEngine{}
	creatives := &fakeCreatives{}
	b, factoryCalls := newTestBatch(h, eng, creatives)

	r1, r2, r3 := request(), request(), request()
	r2.ID, r3.ID = "cap-2", "cap-3"
	r3.CreativeURL = "https://cdn.example.com/other.png"

	var got []Outcome
	if err := b.Run(context.Background(), []Request{r1, r2, r3}, func(o Outcome) { got = append(got, o) }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("outcomes = %d; want 3", len(got))
	}
	for i, id := range []string{"cap-1", "cap-2", "cap-3"} {
		if got[i].Request.ID != id || got[i].Err != nil || got[i].Result == nil {
			t.Fatalf("outcome %d = %+v", i, got[i])
		}
	}
	if *factoryCalls != 1 || eng.launches != 1 || eng.closes != 1 {
		t.Fatalf("factory/launch/close = %d/%d/%d; want 1/1/1", *factoryCalls, eng.launches, eng.closes)
	}
	for i, p := range eng.pages {
		if p.closed != 1 {
			t.Fatalf("page %d closed %d times; want 1", i, p.closed)
		}
	}
	if creatives.calls[r1.CreativeURL] != 1 || creatives.calls[r3.CreativeURL] != 1 {
		t.Fatalf("creative fetches = %v; want one per distinct url", creatives.calls)
	}
	if !got[0].Result.Diagnostics.CreativeDownloaded {
		t.Fatal("prefetched creative not marked downloaded")
	}
}

func TestBatchLaunchFailureFailsAllAndCloses(t *testing.T) {
	h := newHarness(1)
	eng := &fakeEngine{launchErr: cdpcontrol.NewError(cdpcontrol.CodeLaunchFailed, "no chrome", nil)}
	b, _ := newTestBatch(h, eng, &fakeCreatives{})

	var got []Outcome
	err := b.Run(context.Background(), []Request{request(), request()}, func(o Outcome) { got = append(got, o) })
	if err == nil {
		t.Fatal("Run() error = nil; want launch error")
	}
	if len(got) != 2 || got[0].Err == nil || got[1].Err == nil {
		t.Fatalf("outcomes = %+v; want two failures", got)
	}
	if eng.closes != 1 {
		t.Fatalf("closes = %d; want 1", eng.closes)
	}
}

func TestBatchRecoversPanicAndClosesEngine(t *testing.T) {
	h := newHarness(1)
	h.detector.panics = true
	eng := &fakeEngine{}
	b, _ := newTestBatch(h, eng, &fakeCreatives{})

	var got []Outcome
	if err := b.Run(context.Background(), []Request{request()}, func(o Outcome) { got = append(got, o) }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 1 || got[0].Err == nil {
		t.Fatalf("outcomes = %+v; want panic converted to error", got)
	}
	if eng.closes != 1 || eng.pages[0].closed != 1 {
		t.Fatalf("engine closes = %d page closes = %d; want 1/1", eng.closes, eng.pages[0].closed)
	}
}

func TestBatchSkipsInvalidWithoutLaunching(t *testing.T) {
	h := newHarness(1)
	eng := &fakeEngine{}
	b, factoryCalls := newTestBatch(h, eng, &fakeCreatives{})
	bad := request()
	bad.PublisherURL = "not a url"

	var got []Outcome
	if err := b.Run(context.Background(), []Request{bad}, func(o Outcome) { got = append(got, o) }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if *factoryCalls != 0 || eng.closes != 0 {
		t.Fatalf("engine created for invalid-only batch")
	}
	if len(got) != 1 || got[0].Err == nil {
		t.Fatalf("outcomes = %+v", got)
	}
}

func TestBatchCancelledContext(t *testing.T) {
	h := newHarness(1)
	eng := &fakeEngine{}
	b, _ := newTestBatch(h, eng, &fakeCreatives{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	var got []Outcome
	_ = b.Run(ctx, []Request{request()}, func(o Outcome) { got = append(got, o) })
	if len(got) != 1 || !errors.Is(got[0].Err, context.DeadlineExceeded) {
		t.Fatalf("outcomes = %+v; want deadline exceeded", got)
	}
}
