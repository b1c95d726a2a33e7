package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/dgnsrekt/adcapture/internal/adslot"
	"github.com/dgnsrekt/adcapture/internal/api"
	"github.com/dgnsrekt/adcapture/internal/app"
	"github.com/dgnsrekt/adcapture/internal/capture"
	"github.com/dgnsrekt/adcapture/internal/config"
	"github.com/dgnsrekt/adcapture/internal/creative"
)

func main() {
	var (
		urls        = flag.String("url", "", "comma separated publisher URLs (or pass them as arguments)")
		creativeArg = flag.String("creative", "", "creative image URL, data URL or local file")
		click       = flag.String("click", "", "landing page URL")
		landing     = flag.Bool("landing", false, "also capture the landing page")
		mode        = flag.String("mode", string(capture.ModeSingle), "injection mode: single|all|custom")
		slots       = flag.Int("slots", 1, "slot count for custom mode")
		channel     = flag.String("channel", capture.ChannelGDN, "ad channel")
		outDir      = flag.String("out", "captures", "output directory")
		policy      = flag.String("policy", "", "policy yaml file (overrides POLICY_FILE)")
		htmlFile    = flag.String("html", "", "rank ad slots in a saved HTML file and exit")
		hashKey     = flag.String("hash-key", "", "print the bcrypt hash of an API key for API_KEY_HASH and exit")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *hashKey != "" {
		h, err := api.HashAPIKey(*hashKey)
		if err != nil {
			fail("hash key", err)
		}
		fmt.Println(h)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail("load config", err)
	}
	if *policy != "" {
		cfg.PolicyFile = *policy
	}
	policies, err := config.LoadPolicies(cfg.PolicyFile)
	if err != nil {
		fail("load policy", err)
	}

	if *htmlFile != "" {
		if err := rankHTML(os.Stdout, *htmlFile, policies.Slots, cfg); err != nil {
			fail("rank html", err)
		}
		return
	}

	creativeURL, err := resolveCreative(*creativeArg)
	if err != nil {
		fail("creative", err)
	}

	var reqs []capture.Request
	for _, u := range append(splitURLs(*urls), flag.Args()...) {
		req := capture.Request{
			ID:             uuid.NewString(),
			Channel:        *channel,
			PublisherURL:   u,
			CreativeURL:    creativeURL,
			ClickURL:       *click,
			CaptureLanding: *landing,
			InjectionMode:  capture.Mode(*mode),
			SlotCount:      *slots,
		}.WithDefaults()
		if err := req.Validate(); err != nil {
			fail("request "+u, err)
		}
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fail("output dir", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed := 0
	runErr := app.NewBatch(cfg, policies).Run(ctx, reqs, func(o capture.Outcome) {
		if o.Err != nil {
			failed++
			slog.Error("capture failed", "url", o.Request.PublisherURL, "error", o.Err)
			return
		}
		if err := writeOutcome(*outDir, o); err != nil {
			failed++
			slog.Error("write capture failed", "url", o.Request.PublisherURL, "error", err)
			return
		}
		d := o.Result.Diagnostics
		slog.Info("capture done",
			"url", o.Request.PublisherURL,
			"outcome", d.Outcome,
			"slots_detected", d.SlotsDetected,
			"slots_injected", d.SlotsInjected,
			"duration", o.Result.Duration)
	})
	if runErr != nil {
		fail("batch", runErr)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func fail(what string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "capture: %s: %v\n", what, err)
	os.Exit(1)
}

func splitURLs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveCreative turns a local file into a data URL; URLs pass through.
func resolveCreative(v string) (string, error) {
	if v == "" {
		return "", fmt.Errorf("-creative is required")
	}
	if strings.Contains(v, "://") || strings.HasPrefix(v, "data:") {
		return v, nil
	}
	data, err := os.ReadFile(v)
	if err != nil {
		return "", err
	}
	return creative.Creative{ContentType: creative.ContentType("", data), Data: data}.DataURL(), nil
}

func writeOutcome(dir string, o capture.Outcome) error {
	base := filepath.Join(dir, o.Request.ID)
	r := o.Result
	if err := os.WriteFile(base+"-placement."+r.PlacementFormat, r.PlacementImage, 0o644); err != nil {
		return err
	}
	if len(r.LandingImage) > 0 {
		if err := os.WriteFile(base+"-landing.png", r.LandingImage, 0o644); err != nil {
			return err
		}
	}
	raw, err := json.MarshalIndent(struct {
		Request capture.Request `json:"request"`
		Result  *capture.Result `json:"result"`
	}{o.Request, r}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(base+".json", raw, 0o644)
}

func rankHTML(w io.Writer, path string, policy adslot.Policy, cfg *config.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	snap, err := adslot.SnapshotFromHTML(f, policy, float64(cfg.ViewportWidth), float64(cfg.ViewportHeight))
	if err != nil {
		return err
	}
	ranking := adslot.Rank(snap, policy)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ranking)
}
