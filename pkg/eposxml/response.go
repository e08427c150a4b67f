package eposxml

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Response is a parsed PrintResponseInfo document, as posted by the printer
// after it ran one or more print requests.
type Response struct {
	Version string
	Prints  []PrintResult
}

// PrintResult is the outcome of one ePOSPrint element.
type PrintResult struct {
	DeviceID   string
	PrintJobID string
	Success    bool
	Code       string
	// Status is the printer status bitfield, nil when absent or unparsable.
	Status *int64
}

type printResponseInfo struct {
	XMLName xml.Name        `xml:"PrintResponseInfo"`
	Version string          `xml:"Version,attr"`
	Prints  []responsePrint `xml:"ePOSPrint"`
}

type responsePrint struct {
	Parameter struct {
		DevID      string `xml:"devid"`
		PrintJobID string `xml:"printjobid"`
	} `xml:"Parameter"`
	PrintResponse struct {
		Response struct {
			Success string `xml:"success,attr"`
			Code    string `xml:"code,attr"`
			Status  string `xml:"status,attr"`
		} `xml:"response"`
	} `xml:"PrintResponse"`
}

// ParseResponse decodes a PrintResponseInfo document.
func ParseResponse(data []byte) (*Response, error) {
	root, err := walk(data, nil)
	if err != nil {
		return nil, err
	}
	if root != "PrintResponseInfo" {
		return nil, fmt.Errorf("%w: unexpected root element %q", ErrMalformed, root)
	}

	var doc printResponseInfo
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	resp := &Response{Version: doc.Version, Prints: make([]PrintResult, 0, len(doc.Prints))}
	for _, p := range doc.Prints {
		r := p.PrintResponse.Response
		res := PrintResult{
			DeviceID:   strings.TrimSpace(p.Parameter.DevID),
			PrintJobID: strings.TrimSpace(p.Parameter.PrintJobID),
			Success:    strings.EqualFold(strings.TrimSpace(r.Success), "true"),
			Code:       r.Code,
		}
		if st, err := strconv.ParseInt(strings.TrimSpace(r.Status), 10, 64); err == nil {
			res.Status = &st
		}
		resp.Prints = append(resp.Prints, res)
	}
	return resp, nil
}
