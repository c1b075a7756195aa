// Package event decodes reverse-proxy access-log lines into immutable events.
package event

import (
	"bytes"
	"net"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/hpungsan/logsift/internal/errors"
)

// UnknownOrigin is used when a log line carries no usable host.
const UnknownOrigin = "unknown"

// Event is one decoded access-log record. Values are never mutated after Parse.
type Event struct {
	Origin      string  // normalized host, used for routing and file names
	Host        string  // host exactly as logged
	RemoteIP    string  // client address
	Method      string  // HTTP method as logged
	URI         string  // request URI including query
	Status      int     // response status code
	Headers     string  // request headers, JSON text
	Body        string  // request body, JSON text
	Cookies     string  // Cookie header, list values joined with "; "
	RespHeaders string  // response headers, JSON text
	Duration    float64 // seconds
}

// rawLine mirrors the subset of the Caddy JSON access log we consume.
type rawLine struct {
	Request struct {
		Host     *string                    `json:"host"`
		RemoteIP string                     `json:"remote_ip"`
		Method   string                     `json:"method"`
		URI      string                     `json:"uri"`
		Headers  map[string]json.RawMessage `json:"headers"`
	} `json:"request"`
	RequestBody json.RawMessage `json:"request_body"`
	Status      int             `json:"status"`
	RespHeaders json.RawMessage `json:"resp_headers"`
	Duration    float64         `json:"duration"`
}

// Parse decodes one JSON log line. Missing fields fall back to zero values;
// a missing request.host becomes "unknown". Malformed JSON yields an
// INVALID_EVENT error.
func Parse(line []byte) (*Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, errors.NewInvalidEvent(nil)
	}

	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, errors.NewInvalidEvent(err)
	}

	host := UnknownOrigin
	if raw.Request.Host != nil {
		host = *raw.Request.Host
	}

	headers := "{}"
	if raw.Request.Headers != nil {
		b, err := json.Marshal(raw.Request.Headers)
		if err != nil {
			return nil, errors.NewInvalidEvent(err)
		}
		headers = string(b)
	}

	return &Event{
		Origin:      NormalizeOrigin(host),
		Host:        host,
		RemoteIP:    raw.Request.RemoteIP,
		Method:      raw.Request.Method,
		URI:         raw.Request.URI,
		Status:      raw.Status,
		Headers:     headers,
		Body:        jsonText(raw.RequestBody),
		Cookies:     cookieString(raw.Request.Headers["Cookie"]),
		RespHeaders: jsonText(raw.RespHeaders),
		Duration:    raw.Duration,
	}, nil
}

// Row returns the column values in logs table order
// (host, remote_ip, method, uri, status, headers, body, cookies, resp_headers, duration).
func (e *Event) Row() []any {
	return []any{
		e.Host, e.RemoteIP, e.Method, e.URI, e.Status,
		e.Headers, e.Body, e.Cookies, e.RespHeaders, e.Duration,
	}
}

// NormalizeOrigin turns a Host value into a safe origin key: the port is
// stripped, the result is lowercased, and any byte outside [a-z0-9.-_] is
// replaced with '_' so the key can be used as a file-name component.
func NormalizeOrigin(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.IndexByte(host, ':')]
	}
	host = strings.Trim(strings.ToLower(host), "[]")

	var b strings.Builder
	b.Grow(len(host))
	for i := 0; i < len(host); i++ {
		c := host[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}

	origin := strings.TrimLeft(b.String(), ".")
	if origin == "" {
		return UnknownOrigin
	}
	return origin
}

// jsonText returns raw JSON compacted, or "{}" when absent.
func jsonText(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// cookieString accepts the Cookie header as a string or a list of strings.
func cookieString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
