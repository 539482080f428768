package plugins

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const signatureMember = "signature"

// canonicalJSON re-encodes one JSON document compactly the way a
// JavaScript JSON.stringify(JSON.parse(data)) round trip does: members keep
// their order, numbers are printed as JavaScript prints them, and strings
// only escape what JSON requires. Top-level members named skip are left out.
func canonicalJSON(data []byte, skip string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	e := &canonicalEncoder{dec: dec}
	if err := e.value(skip); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return e.buf.Bytes(), nil
}

type canonicalEncoder struct {
	dec *json.Decoder
	buf bytes.Buffer
}

func (e *canonicalEncoder) value(skip string) error {
	tok, err := e.dec.Token()
	if err != nil {
		return err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return e.object(skip)
		case '[':
			return e.array()
		}
		return fmt.Errorf("unexpected %q", v)
	case string:
		writeJSString(&e.buf, v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("number %s: %w", v, err)
		}
		e.buf.WriteString(formatJSNumber(f))
	case bool:
		e.buf.WriteString(strconv.FormatBool(v))
	case nil:
		e.buf.WriteString("null")
	}
	return nil
}

func (e *canonicalEncoder) object(skip string) error {
	e.buf.WriteByte('{')
	first := true
	for e.dec.More() {
		tok, err := e.dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		if skip != "" && key == skip {
			var discard json.RawMessage
			if err := e.dec.Decode(&discard); err != nil {
				return err
			}
			continue
		}

		if !first {
			e.buf.WriteByte(',')
		}
		first = false
		writeJSString(&e.buf, key)
		e.buf.WriteByte(':')
		if err := e.value(""); err != nil {
			return err
		}
	}
	if _, err := e.dec.Token(); err != nil {
		return err
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *canonicalEncoder) array() error {
	e.buf.WriteByte('[')
	for i := 0; e.dec.More(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.value(""); err != nil {
			return err
		}
	}
	if _, err := e.dec.Token(); err != nil {
		return err
	}
	e.buf.WriteByte(']')
	return nil
}

// formatJSNumber prints f like JavaScript's Number.prototype.toString.
func formatJSNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		digits := strings.TrimLeft(exp[1:], "0")
		return mantissa + "e" + exp[:1] + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func writeJSString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
				continue
			}
			var enc [utf8.UTFMax]byte
			n := utf8.EncodeRune(enc[:], r)
			buf.Write(enc[:n])
		}
	}
	buf.WriteByte('"')
}

// SetSignature returns manifest with its signature member replaced by
// signature, or appended when absent. The other members keep their order,
// so the result still verifies against the same signed message.
func SetSignature(manifest []byte, signature string) ([]byte, error) {
	body, err := canonicalJSON(manifest, signatureMember)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("manifest is not a JSON object")
	}

	var out bytes.Buffer
	out.Write(body[:len(body)-1])
	if len(body) > 2 {
		out.WriteByte(',')
	}
	writeJSString(&out, signatureMember)
	out.WriteByte(':')
	writeJSString(&out, signature)
	out.WriteByte('}')
	return out.Bytes(), nil
}
