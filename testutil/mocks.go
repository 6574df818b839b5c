package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// MockTwitchServer mocks the Twitch endpoints chatgrep talks to: Helix, the
// OAuth token endpoint and the GQL endpoint. Handlers are keyed by path.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// RewritingClient returns an HTTP client that sends every request, whatever its
// host, to the mock server.
func (m *MockTwitchServer) RewritingClient() *http.Client {
	return &http.Client{Transport: &RewriteTransport{Host: m.URL}}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"data": []map[string]string{{"id": userID, "login": login}},
		})
	}
}

// MockVideosResponse adds a handler for /helix/videos endpoint
func (m *MockTwitchServer) MockVideosResponse(videos []map[string]string, cursor string) {
	m.Handlers["/helix/videos"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"data":       videos,
			"pagination": map[string]string{"cursor": cursor},
		})
	}
}

// MockGameResponse adds a handler for /helix/games endpoint
func (m *MockTwitchServer) MockGameResponse(gameID string) {
	m.Handlers["/helix/games"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"data": []map[string]string{{"id": gameID, "name": r.URL.Query().Get("name")}},
		})
	}
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(logins ...string) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]string, 0, len(logins))
		for _, l := range logins {
			data = append(data, map[string]string{"user_login": l})
		}
		writeJSON(w, map[string]interface{}{"data": data})
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}

// Comment is one chat replay line served by MockCommentsResponse.
type Comment struct {
	Offset float64
	User   string
	Body   string
}

// MockCommentsResponse adds a handler for the GQL endpoint serving one page
// of chat replay per video id.
func (m *MockTwitchServer) MockCommentsResponse(byVideo map[string][]Comment) {
	m.Handlers["/gql"] = func(w http.ResponseWriter, r *http.Request) {
		var req []struct {
			Variables map[string]interface{} `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		id, _ := req[0].Variables["videoID"].(string)
		comments, ok := byVideo[id]
		if !ok {
			writeJSON(w, []map[string]interface{}{{"data": map[string]interface{}{"video": nil}}})
			return
		}
		edges := make([]map[string]interface{}, 0, len(comments))
		for i, c := range comments {
			edges = append(edges, map[string]interface{}{
				"cursor": id + "-" + strings.Repeat("x", i+1),
				"node": map[string]interface{}{
					"contentOffsetSeconds": c.Offset,
					"commenter":            map[string]string{"displayName": c.User},
					"message":              map[string]interface{}{"fragments": []map[string]string{{"text": c.Body}}},
				},
			})
		}
		writeJSON(w, []map[string]interface{}{{
			"data": map[string]interface{}{
				"video": map[string]interface{}{
					"comments": map[string]interface{}{
						"edges":    edges,
						"pageInfo": map[string]bool{"hasNextPage": false},
					},
				},
			},
		}})
	}
}

// RewriteTransport redirects every request to Host, keeping the path.
type RewriteTransport struct {
	Host string
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(strings.TrimPrefix(t.Host, "http://"), "https://")
	return http.DefaultTransport.RoundTrip(req)
}
