package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStripHTMLSkipsScriptAndStyle(t *testing.T) {
	raw := `<html><head><style>.a{color:red}</style></head><body><script>alert(1)</script><p>Hello World</p></body></html>`
	out := stripHTML(raw)
	if strings.Contains(out, "alert") || strings.Contains(out, "color:red") {
		t.Errorf("expected script/style to be skipped, got %q", out)
	}
	if !strings.Contains(out, "Hello World") {
		t.Errorf("expected body text preserved, got %q", out)
	}
}

func TestExtractSameHostLinks(t *testing.T) {
	raw := `<html><body>
		<a href="/page2">in-site relative</a>
		<a href="https://example.com/page3">in-site absolute</a>
		<a href="https://other.com/page4">off-site</a>
	</body></html>`
	links := extractSameHostLinks("https://example.com/page1", raw, "example.com")
	if len(links) != 2 {
		t.Fatalf("expected 2 same-host links, got %d: %v", len(links), links)
	}
	for _, l := range links {
		if !strings.Contains(l, "example.com") {
			t.Errorf("unexpected off-host link: %s", l)
		}
	}
}

func TestExtractSameHostLinksStripsFragment(t *testing.T) {
	raw := `<a href="/page2#section">anchor</a>`
	links := extractSameHostLinks("https://example.com/", raw, "example.com")
	if len(links) != 1 || strings.Contains(links[0], "#") {
		t.Errorf("expected fragment stripped, got %v", links)
	}
}

func TestRejectPrivateHostBlocksLoopback(t *testing.T) {
	if err := rejectPrivateHost("localhost"); err == nil {
		t.Error("expected loopback host to be rejected")
	}
	if err := rejectPrivateHost("127.0.0.1"); err == nil {
		t.Error("expected loopback IP to be rejected")
	}
}

func TestTruncateCapsLength(t *testing.T) {
	long := strings.Repeat("x", maxContentChars+100)
	out := truncate(long)
	if !strings.HasSuffix(out, "(truncated)") {
		t.Errorf("expected truncation marker")
	}
}

func TestFetchWebpageRejectsLocalServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer srv.Close()

	tool := New()
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	out, err := tool.Execute(context.Background(), "fetch_webpage", args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.Text, "error:") {
		t.Errorf("expected SSRF guard to reject local server fetch, got %q", out.Text)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	tool := New()
	args, _ := json.Marshal(map[string]string{"url": "https://example.com"})
	out, err := tool.Execute(context.Background(), "not_a_tool", args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.Text, "unknown web tool") {
		t.Errorf("expected unknown-tool error, got %q", out.Text)
	}
}
