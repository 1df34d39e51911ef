package channel

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// STOMP commands used by the driver channel.
const (
	cmdConnect     = "CONNECT"
	cmdConnected   = "CONNECTED"
	cmdSend        = "SEND"
	cmdSubscribe   = "SUBSCRIBE"
	cmdUnsubscribe = "UNSUBSCRIBE"
	cmdMessage     = "MESSAGE"
	cmdError       = "ERROR"
	cmdDisconnect  = "DISCONNECT"
)

var ErrBadFrame = errors.New("malformed stomp frame")

// Frame is one STOMP 1.2 frame. Over websocket every frame travels in its
// own text message and ends with a NUL octet.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

func NewFrame(command string, kv ...string) Frame {
	f := Frame{Command: command, Headers: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers[kv[i]] = kv[i+1]
	}
	return f
}

func (f Frame) Header(name string) string { return f.Headers[name] }

// IsHeartbeat reports a bare EOL keepalive sent between frames.
func (f Frame) IsHeartbeat() bool { return f.Command == "" }

func (f Frame) Encode() []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')
	escape := f.Command != cmdConnect && f.Command != cmdConnected

	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := f.Headers[k]
		if escape {
			k, v = escapeHeader(k), escapeHeader(v)
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		if _, ok := f.Headers["content-length"]; !ok {
			fmt.Fprintf(&b, "content-length:%d\n", len(f.Body))
		}
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// DecodeFrame parses a single frame. Heartbeats decode to a frame with an
// empty command.
func DecodeFrame(data []byte) (Frame, error) {
	trimmed := bytes.TrimLeft(data, "\r\n")
	if len(trimmed) == 0 {
		return Frame{}, nil
	}
	head, body, ok := bytes.Cut(trimmed, []byte("\n\n"))
	if !ok {
		head, body, ok = bytes.Cut(trimmed, []byte("\r\n\r\n"))
		if !ok {
			return Frame{}, fmt.Errorf("%w: no header terminator", ErrBadFrame)
		}
	}
	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	f := Frame{Command: strings.TrimSpace(lines[0]), Headers: make(map[string]string, len(lines)-1)}
	if f.Command == "" {
		return Frame{}, fmt.Errorf("%w: empty command", ErrBadFrame)
	}
	unescape := f.Command != cmdConnect && f.Command != cmdConnected
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return Frame{}, fmt.Errorf("%w: header %q", ErrBadFrame, line)
		}
		if unescape {
			k, v = unescapeHeader(k), unescapeHeader(v)
		}
		// repeated headers: the first occurrence wins
		if _, dup := f.Headers[k]; !dup {
			f.Headers[k] = v
		}
	}
	if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}
	f.Body = append([]byte(nil), body...)
	return f, nil
}

var (
	headerEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	headerUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r", `\n`, "\n", `\c`, ":")
)

func escapeHeader(s string) string   { return headerEscaper.Replace(s) }
func unescapeHeader(s string) string { return headerUnescaper.Replace(s) }
