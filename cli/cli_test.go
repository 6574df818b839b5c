package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/onnwee/chatgrep/chat"
	"github.com/onnwee/chatgrep/config"
	"github.com/onnwee/chatgrep/recovery"
	"github.com/onnwee/chatgrep/testutil"
	"github.com/onnwee/chatgrep/vod"
)

func testConfig() *config.Config {
	return &config.Config{
		Workers:       4,
		WindowWorkers: 2,
		WindowLength:  300 * time.Second,
		HTTPTimeout:   5 * time.Second,
		UserAgent:     config.DefaultUserAgent,
		NATSSubject:   "chatgrep.matches",
	}
}

// run executes the root command with args against client and returns stdout.
func run(t *testing.T, cfg *config.Config, client *http.Client, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := newApp(cfg, &out)
	if client != nil {
		a.client = client
	}
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScanTwitchVodsKeepsOrderAndHidesEmpty(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockCommentsResponse(map[string][]testutil.Comment{
		"1": {{Offset: 5, User: "alice", Body: "hello world"}, {Offset: 9, User: "bob", Body: "nope"}},
		"2": {{Offset: 1, User: "carol", Body: "nothing to see"}},
		"3": {{Offset: 3725, User: "dave", Body: "HELLO again"}},
	})

	out, err := run(t, testConfig(), mock.RewritingClient(),
		"--twitch-vod", "1", "--twitch-vod", "2,3", "-f", "hello", "--no-color")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://www.twitch.tv/videos/1\n" +
		"[00:00:05][alice] hello world\n" +
		"\n" +
		"https://www.twitch.tv/videos/3\n" +
		"[01:02:05][dave] HELLO again\n" +
		"\n"
	if out != want {
		t.Errorf("output mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestScanShowAllPrintsEveryHeader(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockCommentsResponse(map[string][]testutil.Comment{
		"1": {{Offset: 1, User: "a", Body: "x"}},
		"2": {{Offset: 1, User: "b", Body: "y"}},
	})

	out, err := run(t, testConfig(), mock.RewritingClient(),
		"--twitch-vod", "1,2", "-f", "zzz", "-s", "--no-color")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://www.twitch.tv/videos/1\n\nhttps://www.twitch.tv/videos/2\n\n"
	if out != want {
		t.Errorf("output mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestScanMissingVideoIsPartialFailure(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockCommentsResponse(map[string][]testutil.Comment{
		"2": {{Offset: 2, User: "b", Body: "found"}},
	})

	out, err := run(t, testConfig(), mock.RewritingClient(), "--twitch-vod", "1,2", "--no-color")
	if err != nil {
		t.Fatalf("a failing source must not fail the scan: %v", err)
	}
	want := "https://www.twitch.tv/videos/2\n[00:00:02][b] found\n\n"
	if out != want {
		t.Errorf("output mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestScanTwitchChannel(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("app-token", 3600)
	mock.MockUserResponse("42", "streamer")
	mock.MockVideosResponse([]map[string]string{
		{"id": "10", "title": "first stream", "created_at": "2024-01-01T00:00:00Z"},
		{"id": "11", "title": "second stream", "created_at": "2024-01-02T00:00:00Z"},
	}, "")
	mock.MockCommentsResponse(map[string][]testutil.Comment{
		"10": {{Offset: 60, User: "fan", Body: "gg"}},
		"11": {{Offset: 61, User: "fan", Body: "hi"}},
	})

	cfg := testConfig()
	cfg.TwitchClientID = "id"
	cfg.TwitchClientSecret = "secret"
	out, err := run(t, cfg, mock.RewritingClient(), "--twitch-channel", "streamer", "-f", "gg", "--no-color")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "[2024-01-01T00:00:00Z] first stream https://www.twitch.tv/videos/10\n[00:01:00][fan] gg\n\n"
	if out != want {
		t.Errorf("output mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestScanTwitchDirectoryAnnouncesChannels(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("app-token", 3600)
	mock.MockGameResponse("509658")
	mock.MockStreamsResponse("one")
	mock.MockUserResponse("1", "one")
	mock.MockVideosResponse([]map[string]string{{"id": "7", "title": "t", "created_at": "d"}}, "")
	mock.MockCommentsResponse(map[string][]testutil.Comment{"7": {{Offset: 0, User: "u", Body: "m"}}})

	cfg := testConfig()
	cfg.TwitchClientID = "id"
	cfg.TwitchClientSecret = "secret"
	out, err := run(t, cfg, mock.RewritingClient(), "--twitch-directory", "Just Chatting", "--no-color")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Working on one\n[d] t https://www.twitch.tv/videos/7\n[00:00:00][u] m\n\n"
	if out != want {
		t.Errorf("output mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestScanHelixNeedsCredentials(t *testing.T) {
	_, err := run(t, testConfig(), nil, "--twitch-channel", "someone")
	if err == nil || !strings.Contains(err.Error(), "TWITCH_CLIENT_ID") {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
}

func TestScanRejectsBadIDs(t *testing.T) {
	for _, args := range [][]string{
		{"--twitch-vod", "abc"},
		{"--afreecatv-vod", "-1"},
		{"--tiktok-vod", "1.5"},
	} {
		if _, err := run(t, testConfig(), nil, args...); err == nil {
			t.Errorf("%v: expected an error", args)
		}
	}
}

func TestScanBadFilter(t *testing.T) {
	if _, err := run(t, testConfig(), nil, "--twitch-vod", "1", "-f", "("); err == nil {
		t.Fatal("expected error for invalid filter")
	}
}

func TestNoSourcesPrintsHelp(t *testing.T) {
	out, err := run(t, testConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Usage:") || !strings.Contains(out, "--twitch-vod") {
		t.Errorf("expected help text, got %q", out)
	}
}

func TestArchiveRequiresDSN(t *testing.T) {
	_, err := run(t, testConfig(), nil, "--twitch-vod", "1", "--archive")
	if err == nil || !strings.Contains(err.Error(), "DB_DSN") {
		t.Fatalf("expected DB_DSN error, got %v", err)
	}
}

func TestPublishRequiresURL(t *testing.T) {
	_, err := run(t, testConfig(), nil, "--twitch-vod", "1", "--publish")
	if err == nil || !strings.Contains(err.Error(), "NATS_URL") {
		t.Fatalf("expected NATS_URL error, got %v", err)
	}
}

func TestScanYouTube(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[
			{"snippet":{"topLevelComment":{"snippet":{"authorDisplayName":"@one","textDisplay":"first!"}}}},
			{"snippet":{"topLevelComment":{"snippet":{"authorDisplayName":"@two","textDisplay":"at 1:23 lol"}}}}
		]}`))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.YouTubeAPIKey = "key"
	var out bytes.Buffer
	a := newApp(cfg, &out)
	a.youtubeOpts = []option.ClientOption{option.WithEndpoint(server.URL + "/")}
	cmd := a.rootCmd()
	cmd.SetArgs([]string{"--youtube-video", "abc", "-f", "lol", "--no-color"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://www.youtube.com/watch?v=abc\n[@two] at 1:23 lol\n\n"
	if out.String() != want {
		t.Errorf("output mismatch:\n got: %q\nwant: %q", out.String(), want)
	}
}

func TestScanYouTubeNeedsKey(t *testing.T) {
	_, err := run(t, testConfig(), nil, "--youtube-video", "abc")
	if err == nil || !strings.Contains(err.Error(), "YOUTUBE_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestRecoverExplicitKey(t *testing.T) {
	hit := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer hit.Close()
	miss := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer miss.Close()

	cfg := testConfig()
	cfg.RecoveryMirrors = []string{miss.URL, hit.URL}
	out, err := run(t, cfg, nil, "recover", "streamer", "--stream-id", "42", "--started", "1600000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key := recovery.Key{Channel: "streamer", StreamID: 42, Started: time.Unix(1600000000, 0)}
	want := "[42]\n" + hit.URL + "/" + key.Path() + "/chunked/index-dvr.m3u8\n\n"
	if out != want {
		t.Errorf("output mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestRecoverExplicitKeyNotFound(t *testing.T) {
	miss := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer miss.Close()

	cfg := testConfig()
	cfg.RecoveryMirrors = []string{miss.URL}
	_, err := run(t, cfg, nil, "recover", "streamer", "--stream-id", "42", "--started", "2020-09-13T12:26:40Z")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestRecoverStartedNeedsStreamID(t *testing.T) {
	if _, err := run(t, testConfig(), nil, "recover", "streamer", "--started", "1600000000"); err == nil {
		t.Fatal("expected error without --stream-id")
	}
	if _, err := run(t, testConfig(), nil, "recover", "streamer", "--stream-id", "1"); err == nil {
		t.Fatal("expected error without --started")
	}
}

func TestRecoverChannelHistoryInOrder(t *testing.T) {
	sully := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/standardsearch/"):
			json.NewEncoder(w).Encode([]map[string]any{{"value": 7}})
		case strings.HasPrefix(r.URL.Path, "/api/tables/channeltables/streams/"):
			json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
				{"streamId": 3, "startDateTime": "2024-03-01T10:00:00Z", "channelurl": "streamer"},
				{"streamId": 2, "startDateTime": "2024-02-01T10:00:00Z", "channelurl": "streamer"},
				{"streamId": 1, "startDateTime": "2024-01-01T10:00:00Z", "channelurl": "streamer"},
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer sully.Close()

	// Only streams 1 and 3 still have a playlist; stream 3 answers slowest.
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "_streamer_3_"):
			time.Sleep(50 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		case strings.Contains(r.URL.Path, "_streamer_1_"):
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer mirror.Close()

	cfg := testConfig()
	cfg.RecoveryMirrors = []string{mirror.URL}
	out, err := run(t, cfg, nil, "recover", "streamer", "--sullygnome-url", sully.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 2 hits, got %q", out)
	}
	if lines[0] != "[3]" || lines[3] != "[1]" {
		t.Errorf("hits out of order: %q", out)
	}
	if !strings.HasPrefix(lines[1], mirror.URL+"/") || !strings.HasSuffix(lines[1], "/chunked/index-dvr.m3u8") {
		t.Errorf("unexpected playlist url %q", lines[1])
	}
}

func TestTranscribeFiltersTranscript(t *testing.T) {
	fake := filepath.Join(t.TempDir(), "fake-python")
	body := "#!/bin/sh\nprintf '[00:00.000 --> 00:02.000]  over there\\n[00:02.000 --> 00:04.000]  their turn\\n'\n"
	if err := os.WriteFile(fake, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.WhisperPython = fake
	out, err := run(t, cfg, nil, "transcribe", "https://example.com/vod.m3u8", "-f", "their")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "[00:02.000 --> 00:04.000]  their turn\n" {
		t.Errorf("unexpected output %q", out)
	}
}

type memRecorder struct {
	mu      sync.Mutex
	matches []chat.Match
}

func (m *memRecorder) Record(_ context.Context, match chat.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches = append(m.matches, match)
	return nil
}

func TestLiveEmitter(t *testing.T) {
	var out bytes.Buffer
	a := newApp(testConfig(), &out)
	a.noColor = true
	rec := &memRecorder{}
	var mu sync.Mutex
	matched := 0

	emit := a.liveEmitter(context.Background(), "run-1", []vod.Recorder{rec}, &mu, &matched)
	emit("somechannel", chat.At(90*time.Second, "viewer", "pog"))

	if got := out.String(); got != "#somechannel [00:01:30][viewer] pog\n" {
		t.Errorf("unexpected output %q", got)
	}
	if matched != 1 {
		t.Errorf("matched = %d, want 1", matched)
	}
	if len(rec.matches) != 1 {
		t.Fatalf("expected 1 recorded match, got %d", len(rec.matches))
	}
	m := rec.matches[0]
	if m.RunID != "run-1" || m.Source != "https://www.twitch.tv/somechannel" || m.Message.Body != "pog" {
		t.Errorf("unexpected match %+v", m)
	}
}

func TestLiveNeedsChannel(t *testing.T) {
	if _, err := run(t, testConfig(), nil, "live"); err == nil {
		t.Fatal("expected error without channels")
	}
}
