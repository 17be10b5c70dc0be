package eden

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// gateway is a scripted fake of the Eden gateway and storage.
type gateway struct {
	mu       sync.Mutex
	statuses []string // poll responses, the last one repeats
	polls    int
	submits  []map[string]json.RawMessage
	stats    []StatUpdate
	fetches  []string
	files    map[string][]byte

	submitCode int
	submitBody string
	pollCode   int
}

func newGateway(t *testing.T) (*gateway, *Client) {
	t.Helper()
	g := &gateway{files: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(srv.Close)

	c, err := New(ClientOpts{
		GatewayURL:  srv.URL,
		StorageURL:  srv.URL + "/storage/creations",
		Credentials: Credentials{APIKey: "key", APISecret: "secret"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g, c
}

func (g *gateway) serve(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/request_creation":
		var body map[string]json.RawMessage
		json.NewDecoder(r.Body).Decode(&body)
		g.submits = append(g.submits, body)
		if g.submitCode != 0 {
			w.WriteHeader(g.submitCode)
			io.WriteString(w, g.submitBody)
			return
		}
		if g.submitBody != "" {
			io.WriteString(w, g.submitBody)
			return
		}
		io.WriteString(w, `{"task_id":"task-1"}`)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/poll/"):
		if g.pollCode != 0 {
			w.WriteHeader(g.pollCode)
			return
		}
		i := min(g.polls, len(g.statuses)-1)
		g.polls++
		io.WriteString(w, g.statuses[i])

	case r.Method == http.MethodPost && r.URL.Path == "/update_stats":
		var su StatUpdate
		json.NewDecoder(r.Body).Decode(&su)
		g.stats = append(g.stats, su)
		io.WriteString(w, `{"ok":true}`)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/storage/creations/"):
		name := strings.TrimPrefix(r.URL.Path, "/storage/creations/")
		g.fetches = append(g.fetches, name)
		data, ok := g.files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)

	default:
		http.NotFound(w, r)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts ClientOpts
	}{
		{"missing gateway", ClientOpts{StorageURL: "http://s"}},
		{"missing storage", ClientOpts{GatewayURL: "http://g"}},
		{"bad poll path", ClientOpts{GatewayURL: "http://g", StorageURL: "http://s", PollPath: "/poll"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSubmit_Success(t *testing.T) {
	g, c := newGateway(t)

	id, err := c.Submit(context.Background(), Request{
		Source: Source{Origin: "discord", AuthorID: "42", ChannelID: "c1"},
		Config: GenerateConfig{TextInput: "a cat", Width: 512, Height: 512, Steps: 50, Seed: 7},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "task-1" {
		t.Errorf("task id = %q, want task-1", id)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.submits) != 1 {
		t.Fatalf("submits = %d, want 1", len(g.submits))
	}
	body := g.submits[0]
	var creds Credentials
	json.Unmarshal(body["credentials"], &creds)
	if creds.APIKey != "key" || creds.APISecret != "secret" {
		t.Errorf("credentials = %+v", creds)
	}
	var cfg map[string]any
	json.Unmarshal(body["config"], &cfg)
	if cfg["mode"] != "generate" {
		t.Errorf("mode = %v, want generate", cfg["mode"])
	}
	if cfg["text_input"] != "a cat" {
		t.Errorf("text_input = %v", cfg["text_input"])
	}
	if cfg["seed"] != float64(7) {
		t.Errorf("seed = %v", cfg["seed"])
	}
}

func TestSubmit_AltTaskIDKey(t *testing.T) {
	g, c := newGateway(t)
	g.submitBody = `{"taskId":"t-alt"}`

	id, err := c.Submit(context.Background(), Request{Config: GenerateConfig{TextInput: "x"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "t-alt" {
		t.Errorf("task id = %q, want t-alt", id)
	}
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		body  string
		check func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, func(err error) bool {
			var ae *AuthError
			return errors.As(err, &ae) && ae.StatusCode == 401
		}},
		{"forbidden", http.StatusForbidden, ``, func(err error) bool {
			var ae *AuthError
			return errors.As(err, &ae)
		}},
		{"server error", http.StatusBadGateway, `upstream down`, func(err error) bool {
			var te *TransportError
			return errors.As(err, &te) && te.StatusCode == 502 && te.Body == "upstream down"
		}},
		{"missing task id", 0, `{}`, func(err error) bool {
			var pe *ProtocolError
			return errors.As(err, &pe)
		}},
		{"not json", 0, `<html>`, func(err error) bool {
			var pe *ProtocolError
			return errors.As(err, &pe)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, c := newGateway(t)
			g.submitCode = tt.code
			g.submitBody = tt.body

			_, err := c.Submit(context.Background(), Request{Config: GenerateConfig{TextInput: "x"}})
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error %T: %v", err, err)
			}
			g.mu.Lock()
			defer g.mu.Unlock()
			if len(g.submits) != 1 {
				t.Errorf("submits = %d, want exactly 1 (no retries)", len(g.submits))
			}
		})
	}
}

func TestSubmit_NilConfig(t *testing.T) {
	g, c := newGateway(t)
	if _, err := c.Submit(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	if len(g.submits) != 0 {
		t.Errorf("submits = %d, want 0", len(g.submits))
	}
}

func TestSubmit_Unreachable(t *testing.T) {
	c, err := New(ClientOpts{GatewayURL: "http://127.0.0.1:1", StorageURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Submit(context.Background(), Request{Config: GenerateConfig{TextInput: "x"}})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %T %v, want *TransportError", err, err)
	}
	if te.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", te.StatusCode)
	}
	if !Retryable(err) {
		t.Error("network failure should be retryable")
	}
}

func TestStatus_CustomPollPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"status":"queued","status_code":4}`)
	}))
	defer srv.Close()

	c, err := New(ClientOpts{GatewayURL: srv.URL, StorageURL: srv.URL, PollPath: "/fetch/{task}/status"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st, err := c.Status(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if gotPath != "/fetch/abc/status" {
		t.Errorf("path = %q", gotPath)
	}
	if st.State != StateQueued || st.QueuePosition != 4 {
		t.Errorf("status = %+v", st)
	}
}

func TestUpdateStats(t *testing.T) {
	g, c := newGateway(t)

	if err := c.UpdateStats(context.Background(), "sha-1", StatBurn, "1234"); err != nil {
		t.Fatalf("UpdateStats: %v", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.stats) != 1 {
		t.Fatalf("stats calls = %d, want 1", len(g.stats))
	}
	want := StatUpdate{Creation: "sha-1", Stat: StatBurn, Operation: "increase", Address: "1234"}
	if g.stats[0] != want {
		t.Errorf("body = %+v, want %+v", g.stats[0], want)
	}

	if err := c.UpdateStats(context.Background(), "", StatPraise, "1"); err == nil {
		t.Error("expected error for empty sha")
	}
}

func TestFetchArtifact_Extensions(t *testing.T) {
	g, c := newGateway(t)
	g.files["abc"] = []byte("png-bytes")
	g.files["abc.gif"] = []byte("gif-bytes")
	g.files["abc.mp4"] = []byte("mp4-bytes")

	tests := []struct {
		multi, animated bool
		name, data      string
	}{
		{false, false, "abc.png", "png-bytes"},
		{false, true, "abc.png", "png-bytes"},
		{true, true, "abc.gif", "gif-bytes"},
		{true, false, "abc.mp4", "mp4-bytes"},
	}
	for _, tt := range tests {
		art, err := c.FetchArtifact(context.Background(), "abc", tt.multi, tt.animated)
		if err != nil {
			t.Fatalf("FetchArtifact(%v,%v): %v", tt.multi, tt.animated, err)
		}
		if art.Name != tt.name || string(art.Data) != tt.data {
			t.Errorf("FetchArtifact(%v,%v) = %s %q, want %s %q", tt.multi, tt.animated, art.Name, art.Data, tt.name, tt.data)
		}
		if art.SHA != "abc" {
			t.Errorf("SHA = %q, want abc", art.SHA)
		}
		if art.URL != c.ArtifactURL("abc", tt.multi, tt.animated) {
			t.Errorf("URL = %q", art.URL)
		}
	}
}

func TestFetchArtifact_Errors(t *testing.T) {
	_, c := newGateway(t)

	if _, err := c.FetchArtifact(context.Background(), "", false, false); err == nil {
		t.Error("expected error for empty ref")
	}
	_, err := c.FetchArtifact(context.Background(), "missing", false, false)
	var te *TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusNotFound {
		t.Errorf("error = %v, want 404 TransportError", err)
	}
}

func TestArtifactIdentity_URLHashesBytes(t *testing.T) {
	name, sha := artifactIdentity("https://cdn.example/x/out.png", []byte("hello"), false, false)
	if name != "out.png" {
		t.Errorf("name = %q", name)
	}
	// sha256("hello")
	if sha != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("sha = %q", sha)
	}
}

func TestArtifactURL(t *testing.T) {
	c, _ := New(ClientOpts{GatewayURL: "http://g", StorageURL: "http://s/creations/"})
	if got := c.ArtifactURL("abc", true, false); got != "http://s/creations/abc.mp4" {
		t.Errorf("ArtifactURL = %q", got)
	}
	if got := c.ArtifactURL("https://cdn/x.png", false, false); got != "https://cdn/x.png" {
		t.Errorf("absolute ArtifactURL = %q", got)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&TransportError{Op: "poll", StatusCode: 503}, true},
		{&TransportError{Op: "poll", StatusCode: 429}, true},
		{&TransportError{Op: "poll", StatusCode: 400}, false},
		{&TimeoutError{TaskID: "t"}, true},
		{&AuthError{StatusCode: 401}, false},
		{&ProtocolError{Reason: "x"}, false},
		{&RemoteTaskFailure{TaskID: "t"}, false},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWithSeed_CopiesSlices(t *testing.T) {
	orig := InterpolateConfig{
		TextInput:          "a",
		InterpolationTexts: []string{"a", "b"},
		InterpolationSeeds: []int64{1, 2},
		Seed:               1,
	}
	c, err := WithSeed(orig, 99)
	if err != nil {
		t.Fatalf("WithSeed: %v", err)
	}
	ic := c.(InterpolateConfig)
	ic.InterpolationSeeds[0] = 500
	if orig.InterpolationSeeds[0] != 1 {
		t.Error("WithSeed shares the seeds slice with the original")
	}
	if SeedOf(c) != 99 || SeedOf(orig) != 1 {
		t.Errorf("seeds = %d / %d", SeedOf(c), SeedOf(orig))
	}
}

func TestConfigMarshal_ModeTag(t *testing.T) {
	tests := []struct {
		cfg  Config
		mode string
	}{
		{GenerateConfig{TextInput: "a"}, "generate"},
		{InterpolateConfig{TextInput: "a", InterpolationTexts: []string{"a", "b"}}, "interpolate"},
		{RemixConfig{TextInput: "a", InitImageURL: "http://img"}, "remix"},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.cfg)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var m map[string]any
		json.Unmarshal(data, &m)
		if m["mode"] != tt.mode {
			t.Errorf("%T mode = %v, want %s", tt.cfg, m["mode"], tt.mode)
		}
		if m["text_input"] != "a" {
			t.Errorf("%T text_input = %v", tt.cfg, m["text_input"])
		}
	}
}
