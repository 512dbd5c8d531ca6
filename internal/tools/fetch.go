package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	maxFetchBytes  = 2 << 20
	maxExcerptRune = 4000
)

var fetchClient = &http.Client{Timeout: 30 * time.Second}

// fetchTool retrieves a URL and reduces HTML responses to readable
// text so the planner sees content, not markup.
type fetchTool struct{}

func (t *fetchTool) Name() string { return "fetch_url" }

func (t *fetchTool) Description() string {
	return "Fetch a URL over HTTP and return its content as plain text."
}

func (t *fetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Absolute http or https URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *fetchTool) Meta() Meta {
	return Meta{Usage: "fetch_url(url)", Risk: RiskModerate}
}

func (t *fetchTool) Execute(ctx context.Context, args map[string]interface{}) (*Raw, error) {
	rawURL, err := stringArg(args, "url")
	if err != nil {
		return &Raw{ExitCode: 1}, err
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return &Raw{ExitCode: 1}, fmt.Errorf("url must start with http:// or https://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &Raw{ExitCode: 1}, fmt.Errorf("invalid url: %w", err)
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &Raw{ExitCode: 1}, ctx.Err()
		}
		return &Raw{ExitCode: 1}, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return &Raw{ExitCode: 1}, fmt.Errorf("failed to read response from %s: %w", rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Raw{Output: truncate(string(body), maxExcerptRune), ExitCode: 1},
			fmt.Errorf("request to %s failed with status %d", rawURL, resp.StatusCode)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		if title, plain, perr := htmlToText(text); perr == nil {
			if title != "" {
				text = "title: " + title + "\n\n" + plain
			} else {
				text = plain
			}
		}
	}
	return &Raw{Output: truncate(text, maxExcerptRune)}, nil
}

// htmlToText strips markup, keeping the document title and the visible
// text with block elements separated by newlines.
func htmlToText(src string) (title, text string, err error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", "", err
	}
	var b strings.Builder
	var walk func(n *html.Node, hidden, inTitle bool)
	walk = func(n *html.Node, hidden, inTitle bool) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "script", "style", "noscript":
				hidden = true
			case "title":
				inTitle = true
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4":
				b.WriteString("\n")
			}
		}
		if n.Type == html.TextNode {
			if inTitle {
				title += n.Data
			} else if !hidden {
				b.WriteString(n.Data)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, hidden, inTitle)
		}
	}
	walk(root, false, false)
	return strings.TrimSpace(title), compactWhitespace(b.String()), nil
}

func compactWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "\n[truncated]"
}
