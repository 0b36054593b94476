package kodi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jsaddiction/metarr/internal/notify"
	"github.com/jsaddiction/metarr/internal/notify/kodi"
)

func TestScanDirectory(t *testing.T) {
	var gotMethod string
	var gotDirectory string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params struct {
				Directory string `json:"directory"`
			} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		gotMethod = req.Method
		gotDirectory = req.Params.Directory

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"OK"}`))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := kodi.NewClient(host, port, "", "")

	if err := c.ScanDirectory(context.Background(), "/movies/Arrival (2016)"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != "VideoLibrary.Scan" {
		t.Errorf("expected VideoLibrary.Scan, got %q", gotMethod)
	}
	if gotDirectory != "/movies/Arrival (2016)" {
		t.Errorf("expected directory to be forwarded, got %q", gotDirectory)
	}
}

func TestNotifyForwardsDirtyPath(t *testing.T) {
	var gotDirectory string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params struct {
				Directory string `json:"directory"`
			} `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotDirectory = req.Params.Directory
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"OK"}`))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := kodi.NewClient(host, port, "", "")

	err := c.Notify(context.Background(), notify.Event{DirtyPath: "/movies/Arrival (2016)"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDirectory != "/movies/Arrival (2016)" {
		t.Errorf("expected Notify to forward DirtyPath, got %q", gotDirectory)
	}
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u := strings.TrimPrefix(rawURL, "http://")
	parts := strings.SplitN(u, ":", 2)
	var port int
	if _, err := fmt.Sscanf(parts[1], "%d", &port); err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return parts[0], port
}
