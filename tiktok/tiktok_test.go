package tiktok

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/iterator"

	"github.com/onnwee/chatgrep/chat"
)

type rewriteTransport struct{ host string }

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(t.host, "http://")
	return http.DefaultTransport.RoundTrip(req)
}

func TestVideoComments(t *testing.T) {
	var cursors []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/comment/list/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Referer") != "https://www.tiktok.com/" {
			t.Errorf("Referer = %q", r.Header.Get("Referer"))
		}
		q := r.URL.Query()
		if q.Get("aweme_id") != "7100" || q.Get("count") != "50" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		cursors = append(cursors, q.Get("cursor"))
		switch q.Get("cursor") {
		case "0":
			w.Write([]byte(`{"comments":[{"text":"first","user":{"nickname":"a"}},{"text":"second","user":{"nickname":"b"}}],"cursor":50,"has_more":1}`))
		case "50":
			// no cursor in the body: fall back to offset arithmetic
			w.Write([]byte(`{"comments":[{"text":"third","user":{"nickname":"c"}}],"has_more":1}`))
		case "100":
			w.Write([]byte(`{"comments":null,"cursor":100,"has_more":0}`))
		default:
			t.Errorf("unexpected cursor %q", q.Get("cursor"))
		}
	}))
	defer server.Close()

	c := &Client{HTTPClient: &http.Client{Transport: &rewriteTransport{host: server.URL}}, UserAgent: "ua"}
	v := c.Video(7100)
	if v.Title() != "https://www.tiktok.com/@tiktok/video/7100" {
		t.Errorf("Title() = %q", v.Title())
	}
	stream, err := v.Comments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var got []chat.Message
	for {
		b, err := stream.Next(context.Background())
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got = append(got, b...)
	}
	if len(got) != 3 || got[2].User != "c" || got[2].Timed {
		t.Fatalf("messages = %+v", got)
	}
	if strings.Join(cursors, ",") != "0,50,100" {
		t.Errorf("cursors = %v", cursors)
	}
}

func TestVideoCommentsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := &Client{HTTPClient: &http.Client{Transport: &rewriteTransport{host: server.URL}}}
	stream, _ := c.Video(1).Comments(context.Background())
	_, err := stream.Next(context.Background())
	var se *chat.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Fatalf("expected 403 StatusError, got %v", err)
	}
	if _, err := stream.Next(context.Background()); !errors.Is(err, iterator.Done) {
		t.Fatalf("expected iterator.Done after failure, got %v", err)
	}
}
