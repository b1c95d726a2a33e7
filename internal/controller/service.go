// Package controller sits between the HTTP API and the capture core: it
// persists requests, runs batches and files the resulting artifacts.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dgnsrekt/adcapture/internal/capture"
	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
	"github.com/dgnsrekt/adcapture/internal/creative"
	"github.com/dgnsrekt/adcapture/internal/notify"
	"github.com/dgnsrekt/adcapture/internal/relay"
	"github.com/dgnsrekt/adcapture/internal/snapshot"
	"github.com/dgnsrekt/adcapture/internal/store"
)

// snapshotScheme lets a request reference an uploaded creative artifact.
const snapshotScheme = "snapshot://"

// CaptureStore persists capture requests and their status.
type CaptureStore interface {
	Create(ctx context.Context, req capture.Request) (store.Record, error)
	Get(ctx context.Context, id string) (store.Record, error)
	List(ctx context.Context, status store.Status, limit int) ([]store.Record, error)
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, c store.Completion) error
	Fail(ctx context.Context, id, message string, duration time.Duration, diagnostics any) error
}

// ArtifactStore keeps screenshots and uploaded creatives.
type ArtifactStore interface {
	Save(meta snapshot.Meta, data []byte) (snapshot.Meta, error)
	Get(id string) (snapshot.Meta, error)
	List(f snapshot.Filter) ([]snapshot.Meta, error)
	ReadImage(id string) ([]byte, snapshot.Meta, error)
	Delete(id string) error
}

// Runner executes a batch in one browser session.
type Runner interface {
	Run(ctx context.Context, reqs []capture.Request, sink func(capture.Outcome)) error
}

type Journal interface {
	Append(channel string, record any) error
}

type Notifier interface {
	BatchFinished(ctx context.Context, s notify.BatchSummary) error
}

// EventPublisher receives capture lifecycle events for live subscribers.
type EventPublisher interface {
	PublishJSON(feed string, v any)
}

// CaptureEvent is published on the capture feed at every status change.
type CaptureEvent struct {
	CaptureID    string       `json:"capture_id"`
	PublisherURL string       `json:"publisher_url"`
	Status       store.Status `json:"status"`
	Error        string       `json:"error,omitempty"`
}

// Service wraps capture request operations.
type Service struct {
	captures  CaptureStore
	artifacts ArtifactStore
	runner    Runner
	journal   Journal
	notifier  Notifier
	events    EventPublisher
	now       func() time.Time

	// batches admits one Execute at a time; each batch owns the browser.
	batches *semaphore.Weighted
}

func NewService(captures CaptureStore, artifacts ArtifactStore, runner Runner, journal Journal, notifier Notifier) *Service {
	return &Service{
		captures:  captures,
		artifacts: artifacts,
		runner:    runner,
		journal:   journal,
		notifier:  notifier,
		now:       time.Now,
		batches:   semaphore.NewWeighted(1),
	}
}

// SetEvents attaches a live event publisher.
func (s *Service) SetEvents(p EventPublisher) { s.events = p }

func (s *Service) publish(feed string, v any) {
	if s.events != nil {
		s.events.PublishJSON(feed, v)
	}
}

func validationError(msg string) error {
	return cdpcontrol.NewError(cdpcontrol.CodeValidation, msg, nil)
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

// CreateInput is one submission; a request is created per publisher URL.
type CreateInput struct {
	Channel            string
	PublisherURLs      []string
	CreativeURL        string
	CreativeSnapshotID string
	ClickURL           string
	CaptureLanding     bool
	InjectionMode      capture.Mode
	SlotCount          int
}

// CreateCaptures validates every request first and only then persists them,
// so a bad URL rejects the whole submission.
func (s *Service) CreateCaptures(ctx context.Context, in CreateInput) ([]store.Record, error) {
	if len(in.PublisherURLs) == 0 {
		return nil, validationError("at least one publisher_url is required")
	}
	creativeURL := strings.TrimSpace(in.CreativeURL)
	if id := strings.TrimSpace(in.CreativeSnapshotID); id != "" {
		meta, err := s.artifacts.Get(id)
		if err != nil {
			return nil, mapArtifactErr(err)
		}
		if meta.Kind != snapshot.KindCreative {
			return nil, validationError("creative_snapshot_id does not reference an uploaded creative")
		}
		creativeURL = snapshotScheme + meta.ID
	}
	if err := s.requireNonEmpty(creativeURL, "creative_url"); err != nil {
		return nil, err
	}

	reqs := make([]capture.Request, 0, len(in.PublisherURLs))
	for _, pub := range in.PublisherURLs {
		req := capture.Request{
			Channel:        strings.TrimSpace(in.Channel),
			PublisherURL:   strings.TrimSpace(pub),
			CreativeURL:    creativeURL,
			ClickURL:       strings.TrimSpace(in.ClickURL),
			CaptureLanding: in.CaptureLanding,
			InjectionMode:  in.InjectionMode,
			SlotCount:      in.SlotCount,
		}.WithDefaults()
		probe := req
		if strings.HasPrefix(probe.CreativeURL, snapshotScheme) {
			probe.CreativeURL = "data:image/png;base64,"
		}
		if err := probe.Validate(); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	out := make([]store.Record, 0, len(reqs))
	for _, req := range reqs {
		rec, err := s.captures.Create(ctx, req)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Service) ListCaptures(ctx context.Context, status string, limit int) ([]store.Record, error) {
	st := store.Status(strings.TrimSpace(status))
	if st != "" && !st.Valid() {
		return nil, validationError(fmt.Sprintf("unknown status %q", status))
	}
	return s.captures.List(ctx, st, limit)
}

func (s *Service) GetCapture(ctx context.Context, id string) (store.Record, error) {
	if err := s.requireNonEmpty(id, "capture_id"); err != nil {
		return store.Record{}, err
	}
	rec, err := s.captures.Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return store.Record{}, cdpcontrol.NewError(cdpcontrol.CodeNotFound, "capture not found: "+id, err)
	}
	return rec, err
}

// ExecuteResult lists request ids by how the run ended for them.
type ExecuteResult struct {
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
	Skipped   []string `json:"skipped"`
}

// Execute runs the pending requests among ids as one batch. Requests that
// are missing or not pending are skipped. Concurrent calls, from the API or
// the queue worker, run one after another.
func (s *Service) Execute(ctx context.Context, ids []string) (ExecuteResult, error) {
	res := ExecuteResult{Completed: []string{}, Failed: []string{}, Skipped: []string{}}
	if len(ids) == 0 {
		return res, validationError("at least one capture id is required")
	}
	// Ids stay pending while another batch holds the browser.
	if !s.batches.TryAcquire(1) {
		slog.Info("capture batch waiting for the running batch", "ids", len(ids))
		if err := s.batches.Acquire(ctx, 1); err != nil {
			return res, fmt.Errorf("wait for running batch: %w", err)
		}
	}
	defer s.batches.Release(1)
	started := s.now()

	var reqs []capture.Request
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if slices.ContainsFunc(reqs, func(r capture.Request) bool { return r.ID == id }) {
			continue
		}
		rec, err := s.captures.Get(ctx, id)
		if err != nil {
			slog.Info("capture skipped", "capture_id", id, "error", err)
			res.Skipped = append(res.Skipped, id)
			continue
		}
		if err := s.captures.MarkProcessing(ctx, id); err != nil {
			slog.Info("capture skipped", "capture_id", id, "status", rec.Status, "error", err)
			res.Skipped = append(res.Skipped, id)
			continue
		}
		req := rec.Request
		req.ID = rec.ID
		s.publish(relay.FeedCapture, CaptureEvent{CaptureID: id, PublisherURL: req.PublisherURL, Status: store.StatusProcessing})
		if err := s.resolveCreative(&req); err != nil {
			s.fail(ctx, req, err, 0, nil)
			res.Failed = append(res.Failed, id)
			continue
		}
		reqs = append(reqs, req)
	}

	runErr := s.runner.Run(ctx, reqs, func(o capture.Outcome) {
		if s.record(ctx, o) {
			res.Completed = append(res.Completed, o.Request.ID)
		} else {
			res.Failed = append(res.Failed, o.Request.ID)
		}
	})
	if runErr != nil {
		slog.Error("capture batch aborted", "error", runErr)
	}

	summary := notify.BatchSummary{
		Total:     len(ids),
		Completed: len(res.Completed),
		Failed:    len(res.Failed),
		Skipped:   len(res.Skipped),
		FailedIDs: res.Failed,
		Duration:  s.now().Sub(started),
	}
	s.publish(relay.FeedBatch, summary)
	if s.notifier != nil {
		if err := s.notifier.BatchFinished(ctx, summary); err != nil {
			slog.Warn("batch notification failed", "error", err)
		}
	}
	return res, nil
}

func (s *Service) resolveCreative(req *capture.Request) error {
	id, ok := strings.CutPrefix(req.CreativeURL, snapshotScheme)
	if !ok {
		return nil
	}
	data, meta, err := s.artifacts.ReadImage(id)
	if err != nil {
		return fmt.Errorf("load uploaded creative: %w", err)
	}
	req.CreativeURL = creative.Creative{ContentType: meta.ContentType, Data: data}.DataURL()
	return nil
}

// record files one outcome and reports whether the capture completed.
func (s *Service) record(ctx context.Context, o capture.Outcome) bool {
	req := o.Request
	if o.Err != nil || o.Result == nil {
		err := o.Err
		if err == nil {
			err = errors.New("capture produced no result")
		}
		var (
			d    time.Duration
			diag *capture.Diagnostics
		)
		var stageErr *capture.StageError
		switch {
		case errors.As(err, &stageErr):
			d, diag = stageErr.Elapsed, &stageErr.Diagnostics
		case o.Result != nil:
			d = o.Result.Duration
		}
		s.fail(ctx, req, err, d, diag)
		return false
	}

	r := o.Result
	placement, err := s.artifacts.Save(snapshot.Meta{
		CaptureID:   req.ID,
		Kind:        snapshot.KindPlacement,
		Format:      r.PlacementFormat,
		ContentType: "image/" + r.PlacementFormat,
		CreatedAt:   r.CapturedAt,
		SourceURL:   req.PublisherURL,
	}, r.PlacementImage)
	if err != nil {
		s.fail(ctx, req, err, r.Duration, &r.Diagnostics)
		return false
	}

	c := store.Completion{
		PlacementSnapshotID: placement.ID,
		LandingFinalURL:     r.LandingFinalURL,
		Duration:            r.Duration,
		Diagnostics:         r.Diagnostics,
	}
	if len(r.LandingImage) > 0 {
		landing, err := s.artifacts.Save(snapshot.Meta{
			CaptureID: req.ID,
			Kind:      snapshot.KindLanding,
			Format:    "png",
			CreatedAt: r.CapturedAt,
			SourceURL: req.ClickURL,
			FinalURL:  r.LandingFinalURL,
		}, r.LandingImage)
		if err != nil {
			slog.Warn("landing artifact save failed", "capture_id", req.ID, "error", err)
		} else {
			c.LandingSnapshotID = landing.ID
		}
	}

	if err := s.captures.Complete(ctx, req.ID, c); err != nil {
		slog.Error("capture completion not recorded", "capture_id", req.ID, "error", err)
		return false
	}
	s.appendJournal(req, store.StatusCompleted, "", r.Duration, &r.Diagnostics)
	s.publish(relay.FeedCapture, CaptureEvent{CaptureID: req.ID, PublisherURL: req.PublisherURL, Status: store.StatusCompleted})
	return true
}

// fail records a failed capture. diag is nil when the run never started.
func (s *Service) fail(ctx context.Context, req capture.Request, cause error, d time.Duration, diag *capture.Diagnostics) {
	slog.Warn("capture failed", "capture_id", req.ID, "url", req.PublisherURL, "error", cause)
	var stored any
	if diag != nil {
		stored = diag
	}
	if err := s.captures.Fail(ctx, req.ID, cause.Error(), d, stored); err != nil {
		slog.Error("capture failure not recorded", "capture_id", req.ID, "error", err)
	}
	s.appendJournal(req, store.StatusFailed, cause.Error(), d, diag)
	s.publish(relay.FeedCapture, CaptureEvent{CaptureID: req.ID, PublisherURL: req.PublisherURL, Status: store.StatusFailed, Error: cause.Error()})
}

// JournalEntry is one line of the capture journal.
type JournalEntry struct {
	Time         time.Time            `json:"time"`
	CaptureID    string               `json:"capture_id"`
	Channel      string               `json:"channel"`
	PublisherURL string               `json:"publisher_url"`
	Mode         capture.Mode         `json:"injection_mode"`
	Status       store.Status         `json:"status"`
	Error        string               `json:"error,omitempty"`
	DurationMS   int64                `json:"duration_ms"`
	Diagnostics  *capture.Diagnostics `json:"diagnostics,omitempty"`
}

func (s *Service) appendJournal(req capture.Request, status store.Status, msg string, d time.Duration, diag *capture.Diagnostics) {
	if s.journal == nil {
		return
	}
	entry := JournalEntry{
		Time:         s.now().UTC(),
		CaptureID:    req.ID,
		Channel:      req.Channel,
		PublisherURL: req.PublisherURL,
		Mode:         req.InjectionMode,
		Status:       status,
		Error:        msg,
		DurationMS:   d.Milliseconds(),
		Diagnostics:  diag,
	}
	if err := s.journal.Append(req.Channel, entry); err != nil {
		slog.Debug("journal append failed", "capture_id", req.ID, "error", err)
	}
}
