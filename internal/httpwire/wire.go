// Package httpwire implements the minimal HTTP/1.1 wire format used to talk to
// the supervised backend. Every function here works on byte buffers only and is
// independent of the socket layer.
package httpwire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

var (
	headerTerminator = []byte("\r\n\r\n")
	lineTerminator   = []byte("\r\n")
)

// Request describes a single-shot request written over a raw connection.
type Request struct {
	Method string
	Target string
	Host   string
	Body   string
	Token  string
}

// BuildRequest renders req as an HTTP/1.1 request that asks the peer to close
// the connection once the response has been written.
func BuildRequest(req Request) []byte {
	target := req.Target
	if target == "" {
		target = "/"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, target)
	fmt.Fprintf(&b, "Host: %s\r\n", req.Host)
	b.WriteString("Accept: application/json\r\n")
	b.WriteString("Accept-Encoding: identity\r\n")
	b.WriteString("Connection: close\r\n")
	if token := strings.TrimSpace(req.Token); token != "" {
		fmt.Fprintf(&b, "Authorization: Bearer %s\r\n", token)
	}
	b.WriteString("Content-Type: application/json\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(req.Body))
	b.WriteString("\r\n")
	b.WriteString(req.Body)
	return []byte(b.String())
}

// SplitResponse separates the response head from its body at the first blank
// line. The head is decoded leniently; invalid UTF-8 is replaced.
func SplitResponse(raw []byte) (string, []byte, bool) {
	idx := bytes.Index(raw, headerTerminator)
	if idx < 0 {
		return "", nil, false
	}
	end := idx + len(headerTerminator)
	return strings.ToValidUTF8(string(raw[:end]), "�"), raw[end:], true
}

// StatusCode extracts the numeric status from the response status line.
func StatusCode(raw []byte) (int, bool) {
	head, _, ok := SplitResponse(raw)
	if !ok {
		return 0, false
	}
	return statusFromHead(head)
}

func statusFromHead(head string) (int, bool) {
	line, _, _ := strings.Cut(head, "\n")
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	code, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return 0, false
	}
	return int(code), true
}

func isChunked(head string) bool {
	for _, line := range strings.Split(head, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(line, "transfer-encoding:") && strings.Contains(line, "chunked") {
			return true
		}
	}
	return false
}

// DecodeChunkedBody decodes a chunked transfer-encoded body. Any framing error
// (bad size line, short chunk, missing chunk terminator) yields false.
func DecodeChunkedBody(input []byte) ([]byte, bool) {
	out := make([]byte, 0, len(input))
	for {
		idx := bytes.Index(input, lineTerminator)
		if idx < 0 {
			return nil, false
		}
		sizeLine := input[:idx]
		if !utf8.Valid(sizeLine) {
			return nil, false
		}
		sizeHex, _, _ := strings.Cut(string(sizeLine), ";")
		size, err := strconv.ParseUint(strings.TrimSpace(sizeHex), 16, 64)
		if err != nil {
			return nil, false
		}
		input = input[idx+len(lineTerminator):]

		if size == 0 {
			return out, true
		}
		if size > uint64(len(input)) || uint64(len(input))-size < uint64(len(lineTerminator)) {
			return nil, false
		}
		n := int(size)
		out = append(out, input[:n]...)
		if !bytes.Equal(input[n:n+len(lineTerminator)], lineTerminator) {
			return nil, false
		}
		input = input[n+len(lineTerminator):]
	}
}

// ParseJSONResponse returns the JSON payload of a 2xx response, decoding a
// chunked body first when the head announces one.
func ParseJSONResponse(raw []byte) ([]byte, bool) {
	head, body, ok := SplitResponse(raw)
	if !ok {
		return nil, false
	}
	code, ok := statusFromHead(head)
	if !ok || code < 200 || code >= 300 {
		return nil, false
	}
	payload := body
	if isChunked(head) {
		payload, ok = DecodeChunkedBody(body)
		if !ok {
			return nil, false
		}
	}
	if !gjson.ValidBytes(payload) {
		return nil, false
	}
	return payload, true
}

// ParseStartTime reads data.start_time from a {"status":"ok","data":{...}}
// envelope as a signed 64-bit value.
func ParseStartTime(payload []byte) (int64, bool) {
	status := gjson.GetBytes(payload, "status")
	if status.Type != gjson.String || status.Str != "ok" {
		return 0, false
	}
	value := gjson.GetBytes(payload, "data.start_time")
	if value.Type != gjson.Number {
		return 0, false
	}
	parsed, err := strconv.ParseInt(value.Raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
