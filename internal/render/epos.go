package render

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/receiptq/internal/config"
	"github.com/kiranshivaraju/receiptq/internal/raster"
	"github.com/kiranshivaraju/receiptq/pkg/eposxml"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

type eposRenderer struct {
	cfg     config.PrintConfig
	builder eposxml.Builder
}

func (r *eposRenderer) Name() string { return models.ProtocolEPOS }

func (r *eposRenderer) Render(req Request) ([]byte, error) {
	params := eposxml.PrintParams{
		DeviceID:   r.cfg.EposDeviceID,
		TimeoutMs:  r.cfg.EposTimeoutMs,
		PrintJobID: req.JobID,
		Cut:        req.Cut,
		OpenDrawer: req.OpenDrawer,
	}

	switch req.Type {
	case TypeText:
		if req.Text == "" {
			return nil, fmt.Errorf("%w: text is empty", ErrInvalidJob)
		}
		params.Text = req.Text
	case TypeImage:
		img, err := r.rasterize(req)
		if err != nil {
			return nil, err
		}
		params.Image = img
	case TypeRaw:
		return rawPayload(req)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidJob, req.Type)
	}

	doc, err := r.builder.BuildPrintRequest(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	return doc, nil
}

func (r *eposRenderer) rasterize(req Request) (*eposxml.Image, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrInvalidJob)
	}
	width := r.cfg.WidthDots
	if req.MaxWidth > 0 && req.MaxWidth < width {
		width = req.MaxWidth
	}
	threshold := req.Threshold
	if threshold == 0 {
		threshold = r.cfg.Threshold
	}

	bm, err := raster.ToMonochrome(req.Image, width, threshold)
	if errors.Is(err, raster.ErrInvalidImage) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if err != nil {
		return nil, fmt.Errorf("rasterize image: %w", err)
	}
	return &eposxml.Image{Width: bm.PaddedWidth(), Height: bm.Height, Data: bm.Bits}, nil
}
