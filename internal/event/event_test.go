package event

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/logsift/internal/errors"
)

const caddyLine = `{"level":"info","logger":"http.log.access","request":{"remote_ip":"203.0.113.9","method":"POST","host":"Shop.Example.com:443","uri":"/admin/login?next=%2F","headers":{"User-Agent":["curl/8.0"],"Cookie":["sid=abc","theme=dark"]}},"request_body":{"user":"bob"},"status":200,"duration":0.0123,"resp_headers":{"Content-Type":["text/html"]}}`

func TestParse_FullLine(t *testing.T) {
	ev, err := Parse([]byte(caddyLine))
	require.NoError(t, err)

	require.Equal(t, "shop.example.com", ev.Origin)
	require.Equal(t, "Shop.Example.com:443", ev.Host)
	require.Equal(t, "203.0.113.9", ev.RemoteIP)
	require.Equal(t, "POST", ev.Method)
	require.Equal(t, "/admin/login?next=%2F", ev.URI)
	require.Equal(t, 200, ev.Status)
	require.Equal(t, "sid=abc; theme=dark", ev.Cookies)
	require.Equal(t, `{"user":"bob"}`, ev.Body)
	require.Equal(t, `{"Content-Type":["text/html"]}`, ev.RespHeaders)
	require.Contains(t, ev.Headers, `"User-Agent"`)
	require.InDelta(t, 0.0123, ev.Duration, 1e-9)
}

func TestParse_Defaults(t *testing.T) {
	ev, err := Parse([]byte(`{"request":{}}`))
	require.NoError(t, err)

	require.Equal(t, UnknownOrigin, ev.Origin)
	require.Equal(t, UnknownOrigin, ev.Host)
	require.Equal(t, "", ev.Method)
	require.Equal(t, 0, ev.Status)
	require.Equal(t, "{}", ev.Headers)
	require.Equal(t, "{}", ev.Body)
	require.Equal(t, "{}", ev.RespHeaders)
	require.Equal(t, "", ev.Cookies)
	require.Zero(t, ev.Duration)
}

func TestParse_CookieString(t *testing.T) {
	ev, err := Parse([]byte(`{"request":{"host":"a.com","headers":{"Cookie":"a=1; b=2"}}}`))
	require.NoError(t, err)
	require.Equal(t, "a=1; b=2", ev.Cookies)
}

func TestParse_Malformed(t *testing.T) {
	for _, line := range []string{`{"request":`, `not json`, ``, `   `} {
		_, err := Parse([]byte(line))
		require.Error(t, err, "line %q", line)
		require.True(t, errors.Is(err, errors.ErrInvalidEvent), "line %q", line)
	}
}

func TestRow_ColumnOrder(t *testing.T) {
	ev, err := Parse([]byte(caddyLine))
	require.NoError(t, err)

	row := ev.Row()
	require.Len(t, row, 10)
	require.Equal(t, ev.Host, row[0])
	require.Equal(t, ev.Status, row[4])
	require.Equal(t, ev.Duration, row[9])
}

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a.com", "a.com"},
		{"a.com:8080", "a.com"},
		{"A.COM", "a.com"},
		{" a.com ", "a.com"},
		{"[::1]:443", "__1"},
		{"::1", "__1"},
		{"../../etc/passwd", "_.._etc_passwd"},
		{"..", UnknownOrigin},
		{"", UnknownOrigin},
		{"sub_domain-1.example.org", "sub_domain-1.example.org"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, NormalizeOrigin(tt.in))
		})
	}
}
