package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/dgnsrekt/adcapture/internal/cdpcontrol"
	"github.com/dgnsrekt/adcapture/internal/creative"
	"github.com/dgnsrekt/adcapture/internal/snapshot"
	"github.com/dgnsrekt/adcapture/internal/store"
)

// Reports never read or write a pdfcpu config directory.
func init() { api.DisableConfigDir() }

func mapArtifactErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, snapshot.ErrNotFound) {
		return cdpcontrol.NewError(cdpcontrol.CodeNotFound, "snapshot not found", err)
	}
	if strings.HasPrefix(err.Error(), "invalid snapshot id") {
		return cdpcontrol.NewError(cdpcontrol.CodeValidation, err.Error(), nil)
	}
	return err
}

// UploadCreative stores an uploaded creative image. The content type is
// taken from the header when it names an image, otherwise sniffed.
func (s *Service) UploadCreative(_ context.Context, data []byte, contentType string) (snapshot.Meta, error) {
	if len(data) == 0 {
		return snapshot.Meta{}, validationError("creative body is empty")
	}
	if len(data) > creative.MaxBytes {
		return snapshot.Meta{}, validationError(fmt.Sprintf("creative exceeds %d bytes", creative.MaxBytes))
	}
	ct := creative.ContentType(contentType, data)
	if !slices.Contains(creative.AllowedTypes, ct) {
		return snapshot.Meta{}, validationError(fmt.Sprintf("unsupported creative type %q", ct))
	}
	meta, err := s.artifacts.Save(snapshot.Meta{
		Kind:        snapshot.KindCreative,
		ContentType: ct,
		Format:      snapshot.FormatFor(ct),
	}, data)
	if err != nil {
		return snapshot.Meta{}, err
	}
	return meta, nil
}

func (s *Service) ListSnapshots(_ context.Context, kind, captureID string) ([]snapshot.Meta, error) {
	k := snapshot.Kind(strings.TrimSpace(kind))
	switch k {
	case "", snapshot.KindPlacement, snapshot.KindLanding, snapshot.KindCreative:
	default:
		return nil, validationError(fmt.Sprintf("unknown snapshot kind %q", kind))
	}
	return s.artifacts.List(snapshot.Filter{Kind: k, CaptureID: strings.TrimSpace(captureID)})
}

func (s *Service) GetSnapshot(_ context.Context, id string) (snapshot.Meta, error) {
	meta, err := s.artifacts.Get(strings.TrimSpace(id))
	return meta, mapArtifactErr(err)
}

func (s *Service) ReadSnapshotImage(_ context.Context, id string) ([]byte, snapshot.Meta, error) {
	data, meta, err := s.artifacts.ReadImage(strings.TrimSpace(id))
	return data, meta, mapArtifactErr(err)
}

func (s *Service) DeleteSnapshot(_ context.Context, id string) error {
	return mapArtifactErr(s.artifacts.Delete(strings.TrimSpace(id)))
}

// Report renders the evidence images of a completed capture into a PDF,
// placement first, one image per page.
func (s *Service) Report(ctx context.Context, id string) ([]byte, error) {
	rec, err := s.GetCapture(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.StatusCompleted {
		return nil, cdpcontrol.NewError(cdpcontrol.CodeConflict, fmt.Sprintf("capture %s is %s", rec.ID, rec.Status), nil)
	}

	var imgs []io.Reader
	for _, sid := range []string{rec.PlacementSnapshotID, rec.LandingSnapshotID} {
		if sid == "" {
			continue
		}
		data, _, err := s.artifacts.ReadImage(sid)
		if err != nil {
			return nil, mapArtifactErr(err)
		}
		imgs = append(imgs, bytes.NewReader(data))
	}
	if len(imgs) == 0 {
		return nil, cdpcontrol.NewError(cdpcontrol.CodeNotFound, "capture has no stored images", nil)
	}

	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, imgs, pdfcpu.DefaultImportConfig(), model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}
