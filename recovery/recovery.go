// Package recovery finds the playlists of deleted Twitch broadcasts. Twitch
// stores broadcast segments under a path derived from the channel name, the
// stream id and the start time; the path can be recomputed without any
// index and checked against the known storage mirrors.
package recovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chatgrep/telemetry"
)

// ErrNotFound is returned when no mirror has the content.
var ErrNotFound = errors.New("recovery: not found on any mirror")

// DefaultSuffix is appended to every candidate path.
const DefaultSuffix = "chunked/index-dvr.m3u8"

// DefaultMirrors are the CloudFront distributions broadcast archives have
// been observed on.
var DefaultMirrors = []string{
	"https://d2e2de1etea730.cloudfront.net",
	"https://dqrpb9wgowsf5.cloudfront.net",
	"https://ds0h3roq6wcgc.cloudfront.net",
	"https://d2nvs31859zcd8.cloudfront.net",
	"https://d2aba1wr3818hz.cloudfront.net",
	"https://d3c27h4odz752x.cloudfront.net",
	"https://dgeft87wbj63p.cloudfront.net",
	"https://d1m7jfoe9zdc1j.cloudfront.net",
	"https://d1ymi26ma8va5x.cloudfront.net",
}

// Key identifies one broadcast.
type Key struct {
	Channel  string
	StreamID uint64
	Started  time.Time
}

// String returns "channel_streamid_unix".
func (k Key) String() string {
	return k.Channel + "_" + strconv.FormatUint(k.StreamID, 10) + "_" + strconv.FormatInt(k.Started.Unix(), 10)
}

// Path returns the storage path: the first 20 hex digits of SHA1(key), an
// underscore, then the key itself.
func (k Key) Path() string {
	s := k.String()
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:20] + "_" + s
}

// Candidate is one place the content may live.
type Candidate struct {
	Mirror string
	Path   string
	URL    string
}

// Recoverer races existence probes across mirrors.
type Recoverer struct {
	Mirrors []string
	Suffix  string
	Client  *http.Client
	Logger  *slog.Logger
}

// New returns a Recoverer over DefaultMirrors.
func New(client *http.Client) *Recoverer {
	return &Recoverer{Mirrors: DefaultMirrors, Suffix: DefaultSuffix, Client: client}
}

// Candidates lists the URLs key could be found at, one per mirror, in
// mirror order.
func (r *Recoverer) Candidates(key Key) []Candidate {
	mirrors := r.Mirrors
	if len(mirrors) == 0 {
		mirrors = DefaultMirrors
	}
	suffix := r.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	path := key.Path()
	out := make([]Candidate, 0, len(mirrors))
	for _, m := range mirrors {
		m = strings.TrimRight(m, "/")
		out = append(out, Candidate{Mirror: m, Path: path, URL: m + "/" + path + "/" + suffix})
	}
	return out
}

type probeResult struct {
	url string
	ok  bool
}

// Recover probes every candidate concurrently and returns the URL of the
// first one that answers 2xx. Once a winner is known the other probes are
// abandoned: their requests are canceled on a best effort basis and their
// results are dropped. If no mirror answers 2xx it returns ErrNotFound.
func (r *Recoverer) Recover(ctx context.Context, key Key) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "recovery.recover")
	var (
		url string
		err error
	)
	telemetry.TimeFunc(telemetry.RecoveryDuration, func() {
		url, err = r.race(ctx, key)
	})
	switch {
	case err == nil:
		telemetry.Inc(telemetry.RecoveryHits)
	case errors.Is(err, ErrNotFound):
		telemetry.Inc(telemetry.RecoveryMisses)
	}
	telemetry.EndSpan(span, err)
	return url, err
}

func (r *Recoverer) race(parent context.Context, key Key) (string, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	cands := r.Candidates(key)
	// buffered so losers never block after the winner returns
	results := make(chan probeResult, len(cands))
	for _, c := range cands {
		go func() {
			results <- probeResult{url: c.URL, ok: r.probe(ctx, c.URL)}
		}()
	}

	logger := r.logger()
	for range cands {
		res := <-results
		if res.ok {
			logger.Debug("recovered", slog.String("key", key.String()), slog.String("url", res.url))
			return res.url, nil
		}
	}
	if err := parent.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s: %w", key, ErrNotFound)
}

func (r *Recoverer) probe(ctx context.Context, url string) bool {
	telemetry.Inc(telemetry.RecoveryProbes)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (r *Recoverer) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default().With(slog.String("component", "recovery"))
}
