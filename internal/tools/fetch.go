package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stewardhq/steward/internal/llm"
)

const (
	// fetchMaxBytes caps a fetched response body.
	fetchMaxBytes = 1 << 20
	fetchTimeout  = 30 * time.Second
)

// allowedContentType accepts textual payloads only; binary responses
// would be useless to the model and expensive to carry.
func allowedContentType(contentType string) bool {
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/xhtml+xml",
		"application/javascript", "application/x-yaml", "application/yaml":
		return true
	}
	return strings.HasSuffix(mediaType, "+json") || strings.HasSuffix(mediaType, "+xml")
}

// FetchURLTool retrieves http(s) URLs with a size cap and a textual
// content-type allowlist.
type FetchURLTool struct {
	client *http.Client
}

func NewFetchURLTool() *FetchURLTool {
	return &FetchURLTool{client: &http.Client{Timeout: fetchTimeout}}
}

func (t *FetchURLTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: "fetch_url",
		Description: "Fetch the contents of an http(s) URL. Only textual responses (text/*, JSON, XML, YAML) " +
			"are returned, capped at 1 MB.",
		Schema: objectSchema(map[string]interface{}{
			"url": stringProp("The URL to fetch"),
		}, "url"),
	}
}

func (t *FetchURLTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}

	parsed, err := url.Parse(args.URL)
	if err != nil {
		return "", fmt.Errorf("invalid URL '%s': %w", args.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme '%s': only http and https are allowed", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch failed: %s returned %s", args.URL, resp.Status)
	}
	contentType := resp.Header.Get("Content-Type")
	if !allowedContentType(contentType) {
		return "", fmt.Errorf("unsupported content type '%s': only textual responses can be fetched", contentType)
	}

	// Read one byte past the cap to detect truncation without trusting
	// Content-Length. The remainder is never read, so the marker names
	// no byte count.
	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	content := string(body)
	truncated := false
	if len(body) > fetchMaxBytes {
		content = content[:fetchMaxBytes] + "...[truncated]"
		truncated = true
	}

	return jsonResult(map[string]interface{}{
		"url":          args.URL,
		"status":       resp.StatusCode,
		"content_type": contentType,
		"content":      content,
		"truncated":    truncated,
	})
}
