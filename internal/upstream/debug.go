package upstream

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// SetDebugOutput redirects debug dumps; the default is stderr.
func (c *Client) SetDebugOutput(w io.Writer) {
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()
	c.dumpTo = w
}

func (c *Client) dumpRequest(req *http.Request, body []byte) {
	if !c.Debug || req == nil {
		return
	}
	head, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		slog.Error("upstream.request.dump_failed", "error", err)
		return
	}
	head = redactAuthorization(head)
	c.writeBlock("UPSTREAM REQUEST", append(head, body...))
}

func (c *Client) dumpResponse(resp *http.Response) {
	if !c.Debug || resp == nil {
		return
	}
	head, err := httputil.DumpResponse(resp, false)
	if err != nil {
		slog.Error("upstream.response.dump_failed", "error", err)
	} else {
		c.writeBlock("UPSTREAM RESPONSE", head)
	}
	if resp.Body == nil {
		return
	}
	sse := strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/event-stream")
	resp.Body = &dumpReadCloser{
		src:    resp.Body,
		client: c,
		title:  fmt.Sprintf("UPSTREAM RESPONSE BODY status=%d", resp.StatusCode),
		sse:    sse,
	}
}

func (c *Client) writeBlock(title string, data []byte) {
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()
	w := c.dumpTo
	if w == nil {
		w = os.Stderr
	}
	var b bytes.Buffer
	b.WriteString("===== " + title + " BEGIN =====\n")
	b.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteString("===== " + title + " END =====\n")
	if _, err := w.Write(b.Bytes()); err != nil {
		slog.Error("upstream.dump.write_failed", "title", title, "error", err)
	}
}

// dumpReadCloser copies the body to the debug output as it is consumed. For
// event streams only terminal frames are written.
type dumpReadCloser struct {
	src    io.ReadCloser
	client *Client
	title  string
	sse    bool
	buf    bytes.Buffer
	done   bool
}

func (d *dumpReadCloser) Read(p []byte) (int, error) {
	n, err := d.src.Read(p)
	if n > 0 {
		d.buf.Write(p[:n])
	}
	if err == io.EOF {
		d.flush()
	}
	return n, err
}

func (d *dumpReadCloser) Close() error {
	err := d.src.Close()
	d.flush()
	return err
}

func (d *dumpReadCloser) flush() {
	if d.done {
		return
	}
	d.done = true
	data := d.buf.Bytes()
	if d.sse {
		data = terminalFrames(data)
	}
	d.client.writeBlock(d.title, data)
}

func terminalFrames(data []byte) []byte {
	var out bytes.Buffer
	for _, frame := range bytes.Split(data, []byte("\n\n")) {
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			line = bytes.TrimSpace(line)
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			payload := bytes.TrimSpace(line[len("data:"):])
			switch gjson.GetBytes(payload, "type").String() {
			case "response.completed", "response.incomplete", "response.failed", "error":
				out.WriteString("data: ")
				out.Write(payload)
				out.WriteString("\n\n")
			}
		}
	}
	return out.Bytes()
}

func redactAuthorization(head []byte) []byte {
	lines := bytes.Split(head, []byte("\r\n"))
	for i, line := range lines {
		if bytes.HasPrefix(bytes.ToLower(line), []byte("authorization:")) {
			lines[i] = []byte("Authorization: Bearer [redacted]")
		}
	}
	return bytes.Join(lines, []byte("\r\n"))
}
