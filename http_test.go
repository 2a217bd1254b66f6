package warc

import (
	"io"
	"strings"
	"testing"
)

func TestReadHTTPMessageResponse(t *testing.T) {
	payload := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/html\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"

	msg, err := ReadHTTPMessage(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	defer msg.Body.Close()

	if !msg.IsResponse() || msg.StatusCode() != 200 {
		t.Fatalf("expected a 200 response, got %+v", msg)
	}
	if msg.StatusLine != "HTTP/1.1 200 OK" {
		t.Fatalf("unexpected status line %q", msg.StatusLine)
	}
	if msg.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("unexpected headers %v", msg.Header)
	}
	body, err := io.ReadAll(msg.Body)
	if err != nil || string(body) != "hello world" {
		t.Fatalf("expected dechunked body, got %q (%v)", body, err)
	}
}

func TestReadHTTPMessageRequest(t *testing.T) {
	payload := "GET /index.html HTTP/1.1\r\nHost: example.com\r\nUser-Agent: test\r\n\r\n"

	msg, err := ReadHTTPMessage(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to read request: %v", err)
	}
	if msg.IsResponse() || msg.StatusCode() != 0 {
		t.Fatal("expected a request")
	}
	if msg.Request.Method != "GET" || msg.Request.Host != "example.com" {
		t.Fatalf("unexpected request %s %s", msg.Request.Method, msg.Request.Host)
	}
	if msg.StatusLine != "GET /index.html HTTP/1.1" {
		t.Fatalf("unexpected request line %q", msg.StatusLine)
	}
}

func TestReadHTTPMessageFromRecord(t *testing.T) {
	payload := "HTTP/1.0 404 Not Found\r\nContent-Length: 9\r\n\r\nnot found"
	h := NewWARCHeader(nil)
	h.Set("WARC-Type", "response")
	rec, err := NewRecord(h, []byte(payload))
	if err != nil {
		t.Fatal(err)
	}

	msg, err := ReadHTTPMessage(rec.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if msg.StatusCode() != 404 {
		t.Fatalf("expected 404, got %d", msg.StatusCode())
	}
	body, _ := io.ReadAll(msg.Body)
	if string(body) != "not found" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestReadHTTPMessageNotHTTP(t *testing.T) {
	for _, payload := range []string{"", "plain text without newline", "WARC/1.0\r\n"} {
		if _, err := ReadHTTPMessage(strings.NewReader(payload)); err == nil {
			t.Errorf("expected an error for %q", payload)
		}
	}
}
