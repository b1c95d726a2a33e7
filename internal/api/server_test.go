package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/dgnsrekt/adcapture/internal/capture"
	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
	"github.com/dgnsrekt/adcapture/internal/controller"
	"github.com/dgnsrekt/adcapture/internal/relay"
	"github.com/dgnsrekt/adcapture/internal/snapshot"
	"github.com/dgnsrekt/adcapture/internal/store"
)

type stubService struct {
	created  controller.CreateInput
	uploaded []byte
	uploadCT string
	err      error
}

func (s *stubService) CreateCaptures(_ context.Context, in controller.CreateInput) ([]store.Record, error) {
	s.created = in
	if s.err != nil {
		return nil, s.err
	}
	var out []store.Record
	for i, u := range in.PublisherURLs {
		out = append(out, store.Record{ID: "cap-" + string(rune('a'+i)), Status: store.StatusPending, Request: capture.Request{PublisherURL: u}})
	}
	return out, nil
}

func (s *stubService) ListCaptures(context.Context, string, int) ([]store.Record, error) {
	return nil, s.err
}

func (s *stubService) GetCapture(_ context.Context, id string) (store.Record, error) {
	if s.err != nil {
		return store.Record{}, s.err
	}
	return store.Record{ID: id, Status: store.StatusCompleted}, nil
}

func (s *stubService) Execute(_ context.Context, ids []string) (controller.ExecuteResult, error) {
	return controller.ExecuteResult{Completed: ids, Failed: []string{}, Skipped: []string{}}, s.err
}

func (s *stubService) Report(context.Context, string) ([]byte, error) {
	return []byte("%PDF-1.7 stub"), s.err
}

func (s *stubService) UploadCreative(_ context.Context, data []byte, ct string) (snapshot.Meta, error) {
	s.uploaded, s.uploadCT = data, ct
	return snapshot.Meta{ID: "123e4567-e89b-12d3-a456-426614174000", Kind: snapshot.KindCreative}, s.err
}

func (s *stubService) ListSnapshots(context.Context, string, string) ([]snapshot.Meta, error) {
	return nil, s.err
}

func (s *stubService) GetSnapshot(_ context.Context, id string) (snapshot.Meta, error) {
	return snapshot.Meta{ID: id}, s.err
}

func (s *stubService) ReadSnapshotImage(_ context.Context, id string) ([]byte, snapshot.Meta, error) {
	return []byte("png-bytes"), snapshot.Meta{ID: id, ContentType: "image/png"}, s.err
}

func (s *stubService) DeleteSnapshot(context.Context, string) error { return s.err }

type stubQueue struct {
	ids [][]string
	err error
}

func (q *stubQueue) Enqueue(ids []string) error {
	q.ids = append(q.ids, ids)
	return q.err
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	h := NewServer(&stubService{}, nil, Options{})
	w := do(t, h, http.MethodGet, "/docs", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestHealth(t *testing.T) {
	h := NewServer(&stubService{}, nil, Options{})
	w := do(t, h, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestCreateCapturesEnqueues(t *testing.T) {
	svc := &stubService{}
	q := &stubQueue{}
	h := NewServer(svc, q, Options{})

	body := `{"publisher_urls":["https://news.example/a","https://news.example/b"],"creative_url":"https://cdn.example/ad.png","injection_mode":"custom","slot_count":2}`
	w := do(t, h, http.MethodPost, "/api/v1/captures", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; want 201 (%s)", w.Code, w.Body.String())
	}
	if svc.created.InjectionMode != capture.ModeCustom || svc.created.SlotCount != 2 {
		t.Fatalf("service input = %+v", svc.created)
	}
	if len(q.ids) != 1 || len(q.ids[0]) != 2 || q.ids[0][0] != "cap-a" {
		t.Fatalf("queued = %v", q.ids)
	}
	var out struct {
		Captures []store.Record `json:"captures"`
		Queued   bool           `json:"queued"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Queued || len(out.Captures) != 2 {
		t.Fatalf("response = %+v", out)
	}
}

func TestCreateCapturesWithoutEnqueue(t *testing.T) {
	q := &stubQueue{}
	h := NewServer(&stubService{}, q, Options{})
	body := `{"publisher_urls":["https://news.example/a"],"creative_url":"https://cdn.example/ad.png","enqueue":false}`
	if w := do(t, h, http.MethodPost, "/api/v1/captures", body, nil); w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if len(q.ids) != 0 {
		t.Fatalf("queued = %v; want nothing", q.ids)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{cdpcontrol.CodeValidation, http.StatusBadRequest},
		{cdpcontrol.CodeNotFound, http.StatusNotFound},
		{cdpcontrol.CodeConflict, http.StatusConflict},
		{cdpcontrol.CodeEvalTimeout, http.StatusGatewayTimeout},
		{cdpcontrol.CodeLaunchFailed, http.StatusBadGateway},
		{cdpcontrol.CodeNavigation, http.StatusBadGateway},
		{cdpcontrol.CodeEvalFailure, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewServer(&stubService{err: cdpcontrol.NewError(tc.code, "boom", nil)}, nil, Options{})
		if w := do(t, h, http.MethodGet, "/api/v1/captures/abc", "", nil); w.Code != tc.want {
			t.Fatalf("%s: status = %d; want %d", tc.code, w.Code, tc.want)
		}
	}
}

func TestQueueFullIsConflict(t *testing.T) {
	q := &stubQueue{err: cdpcontrol.NewError(cdpcontrol.CodeConflict, "capture queue is full", nil)}
	h := NewServer(&stubService{}, q, Options{})
	body := `{"publisher_urls":["https://news.example/a"],"creative_url":"https://cdn.example/ad.png"}`
	if w := do(t, h, http.MethodPost, "/api/v1/captures", body, nil); w.Code != http.StatusConflict {
		t.Fatalf("status = %d; want 409", w.Code)
	}
}

func TestExecute(t *testing.T) {
	h := NewServer(&stubService{}, nil, Options{})
	w := do(t, h, http.MethodPost, "/api/v1/captures/execute", `{"ids":["x","y"]}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var res controller.ExecuteResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Completed) != 2 {
		t.Fatalf("Execute() = %+v", res)
	}
}

func TestSnapshotImageAndReportAreRaw(t *testing.T) {
	h := NewServer(&stubService{}, nil, Options{})

	w := do(t, h, http.MethodGet, "/api/v1/snapshots/123e4567-e89b-12d3-a456-426614174000/image", "", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" || w.Body.String() != "png-bytes" {
		t.Fatalf("image = %d %q %q", w.Code, w.Header().Get("Content-Type"), w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/v1/captures/cap-a/report", "", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("report = %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(w.Body.String(), "%PDF-") {
		t.Fatalf("report body = %q", w.Body.String())
	}
}

func TestUploadCreativePassesRawBody(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc, nil, Options{})
	payload := []byte{0x89, 'P', 'N', 'G', 0, 1, 2}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/creatives", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "image/png")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if !bytes.Equal(svc.uploaded, payload) || svc.uploadCT != "image/png" {
		t.Fatalf("uploaded = %v %q", svc.uploaded, svc.uploadCT)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	h := NewServer(&stubService{}, nil, Options{APIKeyHash: string(hash)})

	if w := do(t, h, http.MethodGet, "/api/v1/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("health without key = %d; want 200", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/captures", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no key = %d; want 401", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/captures", "", map[string]string{"X-API-Key": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key = %d; want 401", w.Code)
	}
	for range 2 {
		if w := do(t, h, http.MethodGet, "/api/v1/captures", "", map[string]string{"X-API-Key": "s3cret"}); w.Code != http.StatusOK {
			t.Fatalf("right key = %d; want 200", w.Code)
		}
	}
}

func TestHashAPIKey(t *testing.T) {
	hash, err := HashAPIKey("k")
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("k")) != nil {
		t.Fatal("HashAPIKey() hash does not verify")
	}
}

func TestEventsRouteOnlyWithBroker(t *testing.T) {
	h := NewServer(&stubService{}, nil, Options{})
	if w := do(t, h, http.MethodGet, "/api/v1/events", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("events without broker = %d; want 404", w.Code)
	}

	b := relay.NewBroker()
	srv := httptest.NewServer(NewServer(&stubService{}, nil, Options{Events: b}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("events = %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}
