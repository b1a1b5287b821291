package service

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/Comcast/metronome/sink"

	md "github.com/russross/blackfriday/v2"
)

var htmlFlags = md.HTMLRendererParameters{
	// Facts come from somebody else's server, so no raw HTML.
	Flags: md.CommonHTMLFlags | md.SkipHTML,
}

// RenderHistoryHTML writes an HTML page showing a command's reports,
// newest last.
func RenderHistoryHTML(name string, rs []*sink.Report, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	f(`<!DOCTYPE html>`)
	f(`<html><head><meta charset="utf-8"><title>%s</title></head><body>`, html.EscapeString(name))
	f(`<div class="history doc">%s</div>`, renderMarkdown(HistoryMarkdown(name, rs)))
	f(`</body></html>`)

	return nil
}

// HistoryMarkdown renders reports as a Markdown table.
func HistoryMarkdown(name string, rs []*sink.Report) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n\n", mdEscape(name))

	if len(rs) == 0 {
		fmt.Fprintf(&buf, "No reports.\n")
		return buf.Bytes()
	}

	failed := 0
	for _, r := range rs {
		if r.Failed() {
			failed++
		}
	}
	fmt.Fprintf(&buf, "%d reports, %d failed.\n\n", len(rs), failed)

	fmt.Fprintf(&buf, "| tick | at | fact |\n")
	fmt.Fprintf(&buf, "|---:|---|---|\n")
	for _, r := range rs {
		line := mdEscape(r.Text)
		if r.Failed() {
			line = "**error:** " + mdEscape(r.Error)
		}
		fmt.Fprintf(&buf, "| %d | %s | %s |\n", r.Tick, r.At.UTC().Format(time.RFC3339), line)
	}

	return buf.Bytes()
}

func renderMarkdown(src []byte) []byte {
	return md.Run(src, md.WithRenderer(md.NewHTMLRenderer(htmlFlags)))
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`,
	`|`, `\|`,
	`*`, `\*`,
	`_`, `\_`,
	"`", "\\`",
	"\n", " ",
	"\r", " ",
)

func mdEscape(s string) string {
	return mdEscaper.Replace(s)
}
