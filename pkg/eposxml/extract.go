package eposxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a document is not well-formed XML or does
// not have the expected shape.
var ErrMalformed = errors.New("malformed ePOS document")

// Extracted is the printable content of an ePOS-Print document.
type Extracted struct {
	Text       string
	OpenDrawer bool
}

// IsDocument reports whether data is a single well-formed XML element tree.
func IsDocument(data []byte) bool {
	_, err := walk(data, nil)
	return err == nil
}

// ExtractText concatenates the <text> nodes of an ePOS-Print document.
// <feed line="n"/> contributes n newlines and <pulse/> sets OpenDrawer.
func ExtractText(data []byte) (*Extracted, error) {
	var (
		out    Extracted
		sb     strings.Builder
		inText bool
	)
	_, err := walk(data, func(tok xml.Token) {
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "text":
				inText = true
			case "feed":
				sb.WriteString(strings.Repeat("\n", feedLines(t)))
			case "pulse":
				out.OpenDrawer = true
			}
		case xml.EndElement:
			if t.Name.Local == "text" {
				inText = false
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	out.Text = sb.String()
	return &out, nil
}

func feedLines(el xml.StartElement) int {
	for _, a := range el.Attr {
		if a.Name.Local == "line" {
			if n, err := strconv.Atoi(a.Value); err == nil && n >= 0 {
				return n
			}
		}
	}
	return 1
}

// walk streams every token of data to fn and returns the root element name.
func walk(data []byte, fn func(xml.Token)) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		root   string
		depth  int
		closed bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if closed {
				return "", fmt.Errorf("%w: more than one root element", ErrMalformed)
			}
			if depth == 0 {
				root = t.Name.Local
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				closed = true
			}
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return "", fmt.Errorf("%w: text outside the root element", ErrMalformed)
			}
		}
		if fn != nil {
			fn(tok)
		}
	}
	if !closed {
		return "", fmt.Errorf("%w: no root element", ErrMalformed)
	}
	return root, nil
}
