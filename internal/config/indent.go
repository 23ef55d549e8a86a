package config

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

const defaultIndentWidth = 2

// indentPattern finds the first line that starts with spaces
var indentPattern = regexp.MustCompile(`\n( +)`)

// Indent describes the whitespace style of a config file
type Indent struct {
	Width int
	Tabs  bool
}

// String returns the per-level indent string
func (i Indent) String() string {
	if i.Tabs {
		return "\t"
	}
	return strings.Repeat(" ", i.Width)
}

// DetectIndent infers the indent style from source. The first newline
// followed by spaces gives the width; a file with no such line is treated
// as tab indented. A space indented file whose first indented line is deeper
// than one level is misread, and so is a compact single-line file.
func DetectIndent(source []byte) Indent {
	m := indentPattern.FindSubmatch(source)
	if m == nil {
		return Indent{Width: defaultIndentWidth, Tabs: true}
	}
	return Indent{Width: len(m[1])}
}

// Encode serializes fields in order using the whitespace style of source.
// A trailing newline and CRLF line endings in source are kept. Tab style is
// produced by indenting with tabs directly rather than by replacing runs of
// spaces afterwards, so double spaces inside string values survive.
func Encode(source []byte, d *Document) ([]byte, error) {
	var compact bytes.Buffer
	compact.WriteByte('{')
	first := true
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		if !first {
			compact.WriteByte(',')
		}
		first = false

		key, err := marshalNoEscape(pair.Key)
		if err != nil {
			return nil, err
		}
		compact.Write(key)
		compact.WriteByte(':')
		compact.Write(pair.Value)
	}
	compact.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", DetectIndent(source).String()); err != nil {
		return nil, err
	}

	data := out.Bytes()
	if bytes.Contains(source, []byte("\r\n")) {
		data = bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
		if bytes.HasSuffix(source, []byte("\r\n")) {
			data = append(data, '\r', '\n')
		}
	} else if bytes.HasSuffix(source, []byte("\n")) {
		data = append(data, '\n')
	}
	return data, nil
}
