// Package render turns submission requests into the opaque payload bytes a
// printer protocol will later deliver unchanged.
package render

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/receiptq/internal/config"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

// Job types accepted by the submission API.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeRaw   = "raw"
)

// Request is a submitted job before rendering.
type Request struct {
	Type       string
	JobID      string
	Text       string
	Image      []byte
	Raw        []byte
	OpenDrawer bool
	Cut        bool
	Threshold  int
	MaxWidth   int
}

// Renderer produces the stored payload for one protocol.
type Renderer interface {
	Name() string
	Render(req Request) ([]byte, error)
}

// New constructs the renderer for protocol. Called once per protocol at startup.
func New(protocol string, cfg config.PrintConfig) (Renderer, error) {
	switch protocol {
	case models.ProtocolEPOS:
		return &eposRenderer{cfg: cfg}, nil
	case models.ProtocolCloudPRNT:
		return &cloudPRNTRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q: must be one of epos, cloudprnt", protocol)
	}
}

// Registry holds one renderer per protocol.
type Registry map[string]Renderer

// NewRegistry builds renderers for every supported protocol.
func NewRegistry(cfg config.PrintConfig) (Registry, error) {
	reg := Registry{}
	for _, p := range []string{models.ProtocolEPOS, models.ProtocolCloudPRNT} {
		r, err := New(p, cfg)
		if err != nil {
			return nil, err
		}
		reg[p] = r
	}
	return reg, nil
}

// Render dispatches req to the renderer registered for protocol.
func (r Registry) Render(protocol string, req Request) ([]byte, error) {
	rd, ok := r[strings.ToLower(protocol)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown protocol %q", ErrInvalidJob, protocol)
	}
	return rd.Render(req)
}

func rawPayload(req Request) ([]byte, error) {
	if len(req.Raw) == 0 {
		return nil, fmt.Errorf("%w: raw payload is empty", ErrInvalidJob)
	}
	return req.Raw, nil
}
