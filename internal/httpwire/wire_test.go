package httpwire

import (
	"strings"
	"testing"
)

func TestBuildRequestHeaders(t *testing.T) {
	raw := string(BuildRequest(Request{
		Method: "POST",
		Target: "/api/stat/restart-core",
		Host:   "127.0.0.1",
		Body:   "{}",
		Token:  "  secret  ",
	}))

	wantLines := []string{
		"POST /api/stat/restart-core HTTP/1.1\r\n",
		"Host: 127.0.0.1\r\n",
		"Accept: application/json\r\n",
		"Connection: close\r\n",
		"Authorization: Bearer secret\r\n",
		"Content-Length: 2\r\n",
	}
	for _, line := range wantLines {
		if !strings.Contains(raw, line) {
			t.Fatalf("expected request to contain %q, got %q", line, raw)
		}
	}
	if !strings.HasSuffix(raw, "\r\n\r\n{}") {
		t.Fatalf("expected body after blank line, got %q", raw)
	}
}

func TestBuildRequestOmitsBlankToken(t *testing.T) {
	raw := string(BuildRequest(Request{Method: "GET", Host: "localhost", Token: "   "}))
	if strings.Contains(raw, "Authorization") {
		t.Fatalf("expected no authorization header, got %q", raw)
	}
	if !strings.HasPrefix(raw, "GET / HTTP/1.1\r\n") {
		t.Fatalf("expected default target, got %q", raw)
	}
	if !strings.Contains(raw, "Content-Length: 0\r\n") {
		t.Fatalf("expected zero content length, got %q", raw)
	}
}

func TestStatusCode(t *testing.T) {
	tests := map[string]struct {
		raw  string
		code int
		ok   bool
	}{
		"ok":           {raw: "HTTP/1.1 200 OK\r\n\r\n", code: 200, ok: true},
		"server error": {raw: "HTTP/1.1 500 Internal Server Error\r\nX: y\r\n\r\nboom", code: 500, ok: true},
		"no head end":  {raw: "HTTP/1.1 200 OK\r\n", ok: false},
		"empty":        {raw: "", ok: false},
		"bad code":     {raw: "HTTP/1.1 abc OK\r\n\r\n", ok: false},
		"missing code": {raw: "HTTP/1.1\r\n\r\n", ok: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			code, ok := StatusCode([]byte(tc.raw))
			if ok != tc.ok || code != tc.code {
				t.Fatalf("StatusCode(%q) = (%d, %v), want (%d, %v)", tc.raw, code, ok, tc.code, tc.ok)
			}
		})
	}
}

func TestDecodeChunkedBody(t *testing.T) {
	body, ok := DecodeChunkedBody([]byte("4\r\nWiki\r\n5;ext=1\r\npedia\r\n0\r\n\r\n"))
	if !ok {
		t.Fatalf("expected chunked body to decode")
	}
	if string(body) != "Wikipedia" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestDecodeChunkedBodyRejectsMalformedFraming(t *testing.T) {
	cases := map[string]string{
		"truncated size line":   "4",
		"non hex size":          "zz\r\nabcd\r\n0\r\n\r\n",
		"empty size":            "\r\nabcd\r\n0\r\n\r\n",
		"short final chunk":     "a\r\nabc\r\n",
		"missing trailing crlf": "4\r\nWikiXX0\r\n\r\n",
		"chunk without crlf":    "4\r\nWiki",
		"no terminating chunk":  "4\r\nWiki\r\n",
		"huge size":             "ffffffffffffffff\r\nabc\r\n",
		"invalid utf8 size":     "\xff\r\nabc\r\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if body, ok := DecodeChunkedBody([]byte(input)); ok {
				t.Fatalf("expected decode failure, got %q", body)
			}
		})
	}
}

func TestParseJSONResponseRequires2xx(t *testing.T) {
	for _, status := range []string{"100 Continue", "301 Moved", "404 Not Found", "500 Internal Server Error", "503 Unavailable"} {
		raw := "HTTP/1.1 " + status + "\r\nContent-Type: application/json\r\n\r\n{\"status\":\"ok\"}"
		if payload, ok := ParseJSONResponse([]byte(raw)); ok {
			t.Fatalf("status %s: expected no payload, got %s", status, payload)
		}
	}
}

func TestParseJSONResponseDecodesChunked(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"7\r\n{\"a\": 1\r\n1\r\n}\r\n0\r\n\r\n"
	payload, ok := ParseJSONResponse([]byte(raw))
	if !ok {
		t.Fatalf("expected chunked json payload")
	}
	if string(payload) != `{"a": 1}` {
		t.Fatalf("unexpected payload %q", payload)
	}
}

func TestParseJSONResponseRejectsBrokenChunkedOrInvalidJSON(t *testing.T) {
	cases := []string{
		"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n7\r\n{\"a\": 1",
		"HTTP/1.1 200 OK\r\n\r\nnot json",
		"HTTP/1.1 200 OK\r\n\r\n",
	}
	for _, raw := range cases {
		if payload, ok := ParseJSONResponse([]byte(raw)); ok {
			t.Fatalf("expected failure for %q, got %q", raw, payload)
		}
	}
}

func TestParseStartTime(t *testing.T) {
	tests := []struct {
		payload string
		want    int64
		ok      bool
	}{
		{payload: `{"status":"ok","data":{"start_time":1700000000}}`, want: 1700000000, ok: true},
		{payload: `{"status":"ok","data":{"start_time":-5}}`, want: -5, ok: true},
		{payload: `{"status":"error","data":{"start_time":1}}`},
		{payload: `{"status":"ok","data":{"start_time":"1"}}`},
		{payload: `{"status":"ok","data":{"start_time":1.5}}`},
		{payload: `{"status":"ok","data":{"start_time":18446744073709551615}}`},
		{payload: `{"status":"ok","data":[]}`},
		{payload: `{"status":"ok"}`},
		{payload: `{"status":1,"data":{"start_time":1}}`},
	}
	for _, tc := range tests {
		got, ok := ParseStartTime([]byte(tc.payload))
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseStartTime(%s) = (%d, %v), want (%d, %v)", tc.payload, got, ok, tc.want, tc.ok)
		}
	}
}
