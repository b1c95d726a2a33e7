package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
	"github.com/dgnsrekt/adcapture/internal/controller"
	"github.com/dgnsrekt/adcapture/internal/relay"
	"github.com/dgnsrekt/adcapture/internal/snapshot"
	"github.com/dgnsrekt/adcapture/internal/store"
)

type Service interface {
	CreateCaptures(ctx context.Context, in controller.CreateInput) ([]store.Record, error)
	ListCaptures(ctx context.Context, status string, limit int) ([]store.Record, error)
	GetCapture(ctx context.Context, id string) (store.Record, error)
	Execute(ctx context.Context, ids []string) (controller.ExecuteResult, error)
	Report(ctx context.Context, id string) ([]byte, error)
	UploadCreative(ctx context.Context, data []byte, contentType string) (snapshot.Meta, error)
	ListSnapshots(ctx context.Context, kind, captureID string) ([]snapshot.Meta, error)
	GetSnapshot(ctx context.Context, id string) (snapshot.Meta, error)
	ReadSnapshotImage(ctx context.Context, id string) ([]byte, snapshot.Meta, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Queue accepts capture ids for background execution.
type Queue interface {
	Enqueue(ids []string) error
}

type Options struct {
	// APIKeyHash is a bcrypt hash; empty disables authentication.
	APIKeyHash string
	// Events, when set, is streamed at /api/v1/events.
	Events *relay.Broker
}

func NewServer(svc Service, queue Queue, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(apiKeyAuth(opts.APIKeyHash))

	cfg := huma.DefaultConfig("Ad Capture API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", docsHandler(cfg.Info.Title, cfg.Info.Version, "/openapi.json"))

	if opts.Events != nil {
		router.Get("/api/v1/events", relay.SSEHandler(opts.Events))
	}

	registerHealthHandlers(api)
	registerCaptureHandlers(api, svc, queue)
	registerSnapshotHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeConflict:
			return huma.Error409Conflict(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable, cdpcontrol.CodeLaunchFailed, cdpcontrol.CodeNavigation:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}
