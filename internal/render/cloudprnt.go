package render

import (
	"fmt"

	"github.com/kiranshivaraju/receiptq/internal/payload"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

// cloudPRNTRenderer stores text jobs as JSON envelopes. The fetch phase only
// serves text/plain, so images are refused at submission time.
type cloudPRNTRenderer struct{}

func (r *cloudPRNTRenderer) Name() string { return models.ProtocolCloudPRNT }

func (r *cloudPRNTRenderer) Render(req Request) ([]byte, error) {
	switch req.Type {
	case TypeText:
		if req.Text == "" {
			return nil, fmt.Errorf("%w: text is empty", ErrInvalidJob)
		}
		return payload.EncodeText(req.Text, req.OpenDrawer)
	case TypeImage:
		return nil, fmt.Errorf("%w: %s cannot print images", ErrUnsupported, models.ProtocolCloudPRNT)
	case TypeRaw:
		return rawPayload(req)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidJob, req.Type)
	}
}
