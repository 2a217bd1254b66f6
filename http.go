package warc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPMessage is the HTTP request or response carried in the payload of a
// request, response or revisit record. Exactly one of Request and Response
// is set.
type HTTPMessage struct {
	// StatusLine is the first line of the message without its line ending,
	// e.g. "HTTP/1.1 200 OK" or "GET / HTTP/1.1".
	StatusLine string
	Header     http.Header
	// Body is the message body with chunked transfer coding removed.
	Body io.ReadCloser

	Request  *http.Request
	Response *http.Response
}

// IsResponse reports whether the message is a response.
func (m *HTTPMessage) IsResponse() bool { return m.Response != nil }

// StatusCode returns the response status code, or 0 for a request.
func (m *HTTPMessage) StatusCode() int {
	if m.Response == nil {
		return 0
	}
	return m.Response.StatusCode
}

// ReadHTTPMessage parses the HTTP message at the start of payload. For a
// record read from a Reader, payload is its Payload(); the body is then only
// readable until the next ReadRecord.
func ReadHTTPMessage(payload io.Reader) (*HTTPMessage, error) {
	br := bufio.NewReader(payload)

	// Peek returns what it has on a short payload, which is enough to find
	// the first line of any message that fits the buffer.
	peek, _ := br.Peek(br.Size())
	i := bytes.IndexByte(peek, '\n')
	if i < 0 {
		return nil, fmt.Errorf("no HTTP start line in first %d bytes of payload", len(peek))
	}
	line := strings.TrimRight(string(peek[:i]), "\r")

	switch {
	case strings.HasPrefix(line, "HTTP/"):
		resp, err := http.ReadResponse(br, nil)
		if err != nil {
			return nil, fmt.Errorf("reading HTTP response: %w", err)
		}
		return &HTTPMessage{StatusLine: line, Header: resp.Header, Body: resp.Body, Response: resp}, nil
	case isHTTPRequest(line):
		req, err := http.ReadRequest(br)
		if err != nil {
			return nil, fmt.Errorf("reading HTTP request: %w", err)
		}
		return &HTTPMessage{StatusLine: line, Header: req.Header, Body: req.Body, Request: req}, nil
	}
	return nil, fmt.Errorf("payload does not start with an HTTP message: %q", truncateForError([]byte(line)))
}
