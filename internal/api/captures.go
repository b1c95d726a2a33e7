package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/adcapture/internal/capture"
	"github.com/dgnsrekt/adcapture/internal/controller"
	"github.com/dgnsrekt/adcapture/internal/store"
)

type captureIDInput struct {
	CaptureID string `path:"capture_id"`
}

type createCapturesInput struct {
	Body struct {
		Channel            string   `json:"channel,omitempty" doc:"Ad channel" example:"gdn" enum:"gdn,youtube,meta,naver"`
		PublisherURLs      []string `json:"publisher_urls" minItems:"1" doc:"Pages to capture; one request is created per URL"`
		CreativeURL        string   `json:"creative_url,omitempty" doc:"http(s) or data:image URL of the creative"`
		CreativeSnapshotID string   `json:"creative_snapshot_id,omitempty" doc:"ID of an uploaded creative, instead of creative_url"`
		ClickURL           string   `json:"click_url,omitempty" doc:"Landing page URL"`
		CaptureLanding     bool     `json:"capture_landing,omitempty"`
		InjectionMode      string   `json:"injection_mode,omitempty" enum:"single,all,custom" doc:"Defaults to single"`
		SlotCount          int      `json:"slot_count,omitempty" minimum:"0" doc:"Slots to fill in custom mode"`
		Enqueue            *bool    `json:"enqueue,omitempty" doc:"Queue for background execution (default true)"`
	}
}

type capturesOutput struct {
	Body struct {
		Captures []store.Record `json:"captures"`
		Queued   bool           `json:"queued"`
	}
}

type captureOutput struct {
	Body store.Record
}

func registerCaptureHandlers(api huma.API, svc Service, queue Queue) {
	huma.Register(api, huma.Operation{OperationID: "create-captures", Method: http.MethodPost, Path: "/api/v1/captures", Summary: "Create capture requests", DefaultStatus: http.StatusCreated, Tags: []string{"Captures"}},
		func(ctx context.Context, input *createCapturesInput) (*capturesOutput, error) {
			b := input.Body
			recs, err := svc.CreateCaptures(ctx, controller.CreateInput{
				Channel:            b.Channel,
				PublisherURLs:      b.PublisherURLs,
				CreativeURL:        b.CreativeURL,
				CreativeSnapshotID: b.CreativeSnapshotID,
				ClickURL:           b.ClickURL,
				CaptureLanding:     b.CaptureLanding,
				InjectionMode:      capture.Mode(b.InjectionMode),
				SlotCount:          b.SlotCount,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			out := &capturesOutput{}
			out.Body.Captures = recs
			if queue != nil && (b.Enqueue == nil || *b.Enqueue) {
				ids := make([]string, len(recs))
				for i, r := range recs {
					ids[i] = r.ID
				}
				if err := queue.Enqueue(ids); err != nil {
					return nil, mapErr(err)
				}
				out.Body.Queued = true
			}
			return out, nil
		})

	type listCapturesInput struct {
		Status string `query:"status" enum:"pending,processing,completed,failed" required:"false"`
		Limit  int    `query:"limit" minimum:"0" maximum:"500" default:"50"`
	}
	huma.Register(api, huma.Operation{OperationID: "list-captures", Method: http.MethodGet, Path: "/api/v1/captures", Summary: "List capture requests", Tags: []string{"Captures"}},
		func(ctx context.Context, input *listCapturesInput) (*capturesOutput, error) {
			recs, err := svc.ListCaptures(ctx, input.Status, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &capturesOutput{}
			out.Body.Captures = recs
			if out.Body.Captures == nil {
				out.Body.Captures = []store.Record{}
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-capture", Method: http.MethodGet, Path: "/api/v1/captures/{capture_id}", Summary: "Get a capture request", Tags: []string{"Captures"}},
		func(ctx context.Context, input *captureIDInput) (*captureOutput, error) {
			rec, err := svc.GetCapture(ctx, input.CaptureID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &captureOutput{Body: rec}, nil
		})

	type executeOutput struct {
		Body controller.ExecuteResult
	}
	huma.Register(api, huma.Operation{OperationID: "execute-captures", Method: http.MethodPost, Path: "/api/v1/captures/execute", Summary: "Run pending captures now", Description: "Runs the given pending captures as one batch in a single browser session and waits for the result. Non-pending ids are skipped.", Tags: []string{"Captures"}},
		func(ctx context.Context, input *struct {
			Body struct {
				IDs []string `json:"ids" minItems:"1"`
			}
		}) (*executeOutput, error) {
			res, err := svc.Execute(ctx, input.Body.IDs)
			if err != nil {
				return nil, mapErr(err)
			}
			return &executeOutput{Body: res}, nil
		})

	type reportOutput struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}
	huma.Register(api, huma.Operation{OperationID: "capture-report", Method: http.MethodGet, Path: "/api/v1/captures/{capture_id}/report", Summary: "Download the evidence PDF", Tags: []string{"Captures"}},
		func(ctx context.Context, input *captureIDInput) (*reportOutput, error) {
			pdf, err := svc.Report(ctx, input.CaptureID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &reportOutput{
				ContentType:        "application/pdf",
				ContentDisposition: `attachment; filename="capture-` + input.CaptureID + `.pdf"`,
				Body:               pdf,
			}, nil
		})
}
