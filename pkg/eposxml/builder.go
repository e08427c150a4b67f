// Package eposxml builds and reads the XML documents exchanged with Epson
// printers in Server Direct Print mode.
package eposxml

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
)

// Namespace is the ePOS-Print command namespace.
const Namespace = "http://www.epson-pos.com/schemas/2011/03/epos-print"

// RequestVersion is written to PrintRequestInfo@Version.
const RequestVersion = "2.00"

// Builder constructs ePOS-Print request documents.
// All methods are pure functions with no side effects.
// Zero value is ready to use.
type Builder struct{}

// Image is a packed 1bpp bitmap, MSB first, 1 = black.
type Image struct {
	Width  int
	Height int
	Data   []byte
}

// PrintParams defines the content of one print request.
type PrintParams struct {
	DeviceID   string
	TimeoutMs  int
	PrintJobID string
	Text       string
	Image      *Image
	Cut        bool
	OpenDrawer bool
}

type printRequestInfo struct {
	XMLName   xml.Name     `xml:"PrintRequestInfo"`
	Version   string       `xml:"Version,attr"`
	EPOSPrint requestPrint `xml:"ePOSPrint"`
}

type requestPrint struct {
	Parameter requestParameter `xml:"Parameter"`
	PrintData requestData      `xml:"PrintData"`
}

type requestParameter struct {
	DevID      string `xml:"devid"`
	Timeout    int    `xml:"timeout"`
	PrintJobID string `xml:"printjobid,omitempty"`
}

type requestData struct {
	Print eposPrint `xml:"epos-print"`
}

type eposPrint struct {
	XMLNS    string `xml:"xmlns,attr"`
	Commands []any  `xml:",any"`
}

type textCmd struct {
	XMLName xml.Name `xml:"text"`
	Value   string   `xml:",chardata"`
}

type imageCmd struct {
	XMLName xml.Name `xml:"image"`
	Width   int      `xml:"width,attr"`
	Height  int      `xml:"height,attr"`
	Color   string   `xml:"color,attr"`
	Mode    string   `xml:"mode,attr"`
	Data    string   `xml:",chardata"`
}

type feedCmd struct {
	XMLName xml.Name `xml:"feed"`
	Line    int      `xml:"line,attr"`
}

type cutCmd struct {
	XMLName xml.Name `xml:"cut"`
	Type    string   `xml:"type,attr"`
}

type pulseCmd struct {
	XMLName xml.Name `xml:"pulse"`
	Drawer  string   `xml:"drawer,attr"`
	Time    string   `xml:"time,attr"`
}

// BuildPrintRequest returns a complete PrintRequestInfo document.
func (b Builder) BuildPrintRequest(p PrintParams) ([]byte, error) {
	if p.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if p.Text == "" && p.Image == nil {
		return nil, fmt.Errorf("print request needs text or an image")
	}

	var cmds []any
	if p.Text != "" {
		cmds = append(cmds, textCmd{Value: p.Text})
	}
	if p.Image != nil {
		img, err := b.buildImage(p.Image)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, img)
	}
	if p.Cut {
		cmds = append(cmds, cutCmd{Type: "feed"})
	} else {
		cmds = append(cmds, feedCmd{Line: 1})
	}
	if p.OpenDrawer {
		cmds = append(cmds, pulseCmd{Drawer: "drawer_1", Time: "pulse_100"})
	}

	doc := printRequestInfo{
		Version: RequestVersion,
		EPOSPrint: requestPrint{
			Parameter: requestParameter{
				DevID:      p.DeviceID,
				Timeout:    p.TimeoutMs,
				PrintJobID: p.PrintJobID,
			},
			PrintData: requestData{Print: eposPrint{XMLNS: Namespace, Commands: cmds}},
		},
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal print request: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func (b Builder) buildImage(img *Image) (imageCmd, error) {
	if img.Width <= 0 || img.Height <= 0 || img.Width%8 != 0 {
		return imageCmd{}, fmt.Errorf("image size %dx%d is invalid", img.Width, img.Height)
	}
	if want := img.Width / 8 * img.Height; len(img.Data) != want {
		return imageCmd{}, fmt.Errorf("image data is %d bytes, want %d", len(img.Data), want)
	}
	return imageCmd{
		Width:  img.Width,
		Height: img.Height,
		Color:  "color_1",
		Mode:   "mono",
		Data:   base64.StdEncoding.EncodeToString(img.Data),
	}, nil
}
