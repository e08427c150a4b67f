// Package payload classifies stored job payloads and reduces them to the
// plain text and drawer flag that text-only delivery paths can print.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/receiptq/pkg/eposxml"
)

// Kind identifies the shape of a stored payload.
type Kind int

const (
	KindPlainText Kind = iota
	KindJSONEnvelope
	KindXMLDocument
)

func (k Kind) String() string {
	switch k {
	case KindJSONEnvelope:
		return "json"
	case KindXMLDocument:
		return "xml"
	default:
		return "text"
	}
}

// TypeText is the envelope tag written for text jobs.
const TypeText = "text"

// Envelope is the JSON form of a queued text job.
type Envelope struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	OpenDrawer bool   `json:"open_drawer,omitempty"`
}

// Printable is what a text-only printer receives.
type Printable struct {
	Kind       Kind
	Text       string
	OpenDrawer bool
}

// Detect classifies data. A JSON object with a non-empty "type" field wins,
// then any well-formed XML document; everything else is plain text.
func Detect(data []byte) Kind {
	if _, ok := decodeEnvelope(data); ok {
		return KindJSONEnvelope
	}
	if eposxml.IsDocument(data) {
		return KindXMLDocument
	}
	return KindPlainText
}

// Normalize reduces data to printable text.
func Normalize(data []byte) (*Printable, error) {
	if env, ok := decodeEnvelope(data); ok {
		return &Printable{Kind: KindJSONEnvelope, Text: env.Text, OpenDrawer: env.OpenDrawer}, nil
	}
	if eposxml.IsDocument(data) {
		ex, err := eposxml.ExtractText(data)
		if err != nil {
			return nil, fmt.Errorf("extract xml text: %w", err)
		}
		return &Printable{Kind: KindXMLDocument, Text: ex.Text, OpenDrawer: ex.OpenDrawer}, nil
	}
	return &Printable{Kind: KindPlainText, Text: plainText(data)}, nil
}

// EncodeText returns the envelope bytes for a text job.
func EncodeText(text string, openDrawer bool) ([]byte, error) {
	b, err := json.Marshal(Envelope{Type: TypeText, Text: text, OpenDrawer: openDrawer})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

func decodeEnvelope(data []byte) (*Envelope, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, false
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, false
	}
	return &env, true
}

func plainText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
