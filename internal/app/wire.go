// Package app assembles the capture pipeline from configuration. Both the
// server and the CLI build their batches here.
package app

import (
	"github.com/dgnsrekt/adcapture/internal/adslot"
	"github.com/dgnsrekt/adcapture/internal/browser"
	"github.com/dgnsrekt/adcapture/internal/capture"
	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
	"github.com/dgnsrekt/adcapture/internal/config"
	"github.com/dgnsrekt/adcapture/internal/creative"
	"github.com/dgnsrekt/adcapture/internal/inject"
	"github.com/dgnsrekt/adcapture/internal/obstruction"
)

// EngineFactory returns a factory for the configured engine. The raw CDP
// engine without CDP_URL spawns its own browser through browser.Launcher.
func EngineFactory(cfg *config.Config) capture.EngineFactory {
	return func() (cdpcontrol.Engine, error) {
		opts := cfg.EngineOptions()
		var launcher cdpcontrol.ProcessLauncher
		if cfg.Engine == cdpcontrol.EngineRawCDP && opts.CDPURL == "" {
			l := browser.NewLauncher(cfg.LauncherConfig())
			opts.CDPURL = l.CDPURL()
			launcher = l
		}
		return cdpcontrol.NewEngine(cfg.Engine, opts, launcher)
	}
}

// NewOrchestrator wires detector, injector and remover with the given
// policies.
func NewOrchestrator(cfg *config.Config, pol config.Policies) (*capture.Orchestrator, *creative.Fetcher) {
	fetcher := creative.NewFetcher(cfg.CreativeTimeout(), cfg.EngineOptions().UserAgent)
	remover := obstruction.NewRemover(pol.Obstructions)
	detector := adslot.NewDetector(pol.Slots)
	injector := inject.NewInjector(remover, inject.ClampImageWait(pol.Capture.ImageLoadTimeout, cfg.EngineOptions().EvalTimeout))
	return capture.NewOrchestrator(detector, injector, remover, fetcher, pol.Capture), fetcher
}

// NewBatch returns a batch runner for the configured engine.
func NewBatch(cfg *config.Config, pol config.Policies) *capture.Batch {
	orch, fetcher := NewOrchestrator(cfg, pol)
	return capture.NewBatch(EngineFactory(cfg), orch, fetcher, cfg.PrefetchLimit)
}
