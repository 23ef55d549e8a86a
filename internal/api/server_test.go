package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/WinOpacity/internal/config"
	"github.com/bryanchriswhite/WinOpacity/internal/opacity"
	"github.com/bryanchriswhite/WinOpacity/internal/poller"
	"github.com/bryanchriswhite/WinOpacity/internal/window"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
)

const configPath = "/cfg/config.json"

func newTestServer(t *testing.T) (*httptest.Server, *poller.Poller) {
	t.Helper()
	fs := afero.NewMemMapFs()
	contents := `{"windows":[{"pattern":"Chrome","opacity":0.8}],"pollInMilliseconds":1000}`
	if err := afero.WriteFile(fs, configPath, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	fake := window.NewFake(
		window.Handle{ID: 1, Title: "Google Chrome"},
		window.Handle{ID: 2, Title: "Terminal"},
	)
	p := poller.New(config.NewStore(fs, configPath), fake, poller.Options{})

	ts := httptest.NewServer(NewServer(p).Handler())
	t.Cleanup(ts.Close)
	return ts, p
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]string
	getJSON(t, ts.URL+"/api/health", &body)
	if body["status"] != "healthy" {
		t.Errorf("unexpected health: %v", body)
	}
}

func TestStatusReflectsCycles(t *testing.T) {
	ts, p := newTestServer(t)
	if _, err := p.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	var body struct {
		State      string         `json:"state"`
		Cycles     int            `json:"cycles"`
		Rules      int            `json:"rules"`
		LastResult opacity.Result `json:"last_result"`
	}
	getJSON(t, ts.URL+"/api/status", &body)
	if body.State != "rescheduled" || body.Cycles != 1 || body.Rules != 1 || body.LastResult.Applied != 1 {
		t.Errorf("unexpected status: %+v", body)
	}
}

func TestWindowsPreview(t *testing.T) {
	ts, _ := newTestServer(t)

	var plan []opacity.Assignment
	getJSON(t, ts.URL+"/api/windows", &plan)
	if len(plan) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(plan))
	}
	if !plan[0].Matched || plan[0].Opacity != 0.8 || plan[1].Matched {
		t.Errorf("unexpected plan: %+v", plan)
	}
}

func TestStatusRejectsWrites(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", resp.StatusCode)
	}
}

func TestEventsStreamStatus(t *testing.T) {
	ts, p := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var status struct {
		State string `json:"state"`
	}
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatal(err)
	}
	if status.State != "idle" {
		t.Errorf("initial state = %s", status.State)
	}

	if _, err := p.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	for status.State != "rescheduled" {
		if err := conn.ReadJSON(&status); err != nil {
			t.Fatalf("waiting for rescheduled: %v", err)
		}
	}
}

func TestStartAndShutdown(t *testing.T) {
	_, p := newTestServer(t)
	s := NewServer(p)

	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var body map[string]string
	getJSON(t, "http://"+s.Addr()+"/api/health", &body)

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := http.Get("http://" + s.Addr() + "/api/health"); err == nil {
		t.Error("server still answering after shutdown")
	}
}
