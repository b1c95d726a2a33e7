package capture

import (
	"time"

	"github.com/dgnsrekt/adcapture/internal/adslot"
	"github.com/dgnsrekt/adcapture/internal/inject"
)

// Stage names, in pipeline order.
const (
	StageLoading   = "loading"
	StageLazyLoad  = "lazy-load-forcing"
	StageChallenge = "challenge-wait"
	StageDetecting = "detecting"
	StageInjecting = "injecting"
	StageStabilize = "stabilizing"
	StageCapturing = "capturing"
	StageLanding   = "landing"
	StageDone      = "done"
	StageFailed    = "failed"
)

type StageTiming struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type SlotDetail struct {
	Rank       int            `json:"rank"`
	Selector   string         `json:"selector"`
	Kind       adslot.Kind    `json:"kind"`
	Width      float64        `json:"width"`
	Height     float64        `json:"height"`
	Confidence int            `json:"confidence"`
	IsFixed    bool           `json:"is_fixed"`
	Attempted  bool           `json:"attempted"`
	Injection  *inject.Result `json:"injection,omitempty"`
}

// Diagnostics is accumulated by one run and read-only once returned.
type Diagnostics struct {
	Outcome             string         `json:"outcome"`
	FailedStage         string         `json:"failed_stage,omitempty"`
	PageTitle           string         `json:"page_title,omitempty"`
	SlotsDetected       int            `json:"slots_detected"`
	SlotsRaw            int            `json:"slots_raw"`
	SlotsAttempted      int            `json:"slots_attempted"`
	SlotsInjected       int            `json:"slots_injected"`
	CreativeDownloaded  bool           `json:"creative_downloaded"`
	CreativeSizeBytes   int            `json:"creative_size_bytes"`
	CreativeContentType string         `json:"creative_content_type,omitempty"`
	CreativeError       string         `json:"creative_error,omitempty"`
	LazyImagesRestored  int            `json:"lazy_images_restored"`
	ObstructionsHidden  int            `json:"obstructions_hidden"`
	ChallengeDetected   bool           `json:"challenge_detected"`
	ChallengeCleared    bool           `json:"challenge_cleared"`
	FallbackUsed        bool           `json:"fallback_used"`
	FallbackInjection   *inject.Result `json:"fallback_injection,omitempty"`
	LandingError        string         `json:"landing_error,omitempty"`
	Stages              []StageTiming  `json:"stages"`
	Slots               []SlotDetail   `json:"slots"`
}

// Result is produced once per successful run.
type Result struct {
	RequestID       string        `json:"request_id"`
	PlacementImage  []byte        `json:"-"`
	PlacementFormat string        `json:"placement_format"`
	LandingImage    []byte        `json:"-"`
	LandingFinalURL string        `json:"landing_final_url,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CapturedAt      time.Time     `json:"captured_at"`
	Duration        time.Duration `json:"duration"`
	Diagnostics     Diagnostics   `json:"diagnostics"`
}

// StageError is returned when a run aborts. It carries the diagnostics
// gathered up to the failing stage.
type StageError struct {
	Stage       string
	Elapsed     time.Duration
	Diagnostics Diagnostics
	Err         error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// stageClock times consecutive stages into a Diagnostics value.
type stageClock struct {
	diag  *Diagnostics
	now   func() time.Time
	name  string
	start time.Time
}

func (c *stageClock) begin(name string) {
	c.name, c.start = name, c.now()
}

func (c *stageClock) end(err error) {
	st := StageTiming{Name: c.name, DurationMS: c.now().Sub(c.start).Milliseconds()}
	if err != nil {
		st.Error = err.Error()
	}
	c.diag.Stages = append(c.diag.Stages, st)
}
