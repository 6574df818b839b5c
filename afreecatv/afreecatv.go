// Package afreecatv reads AfreecaTV VOD chat replays. A VOD is made of one
// or more files; each file's chat is served in 300 second chunks, which are
// fetched as windows in parallel.
package afreecatv

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/chatgrep/chat"
	"github.com/onnwee/chatgrep/pager"
	"github.com/onnwee/chatgrep/window"
)

const (
	playerBase  = "https://vod.afreecatv.com/player/"
	infoURL     = "https://stbbs.afreecatv.com/api/video/get_video_info.php"
	chatURL     = "https://videoimg.afreecatv.com/php/ChatLoadSplit.php"
	stationBase = "https://bjapi.afreecatv.com/api/"
)

var (
	titleNoRe   = regexp.MustCompile(`document\.nTitleNo\s*=\s*([0-9]+);`)
	stationNoRe = regexp.MustCompile(`document\.nStationNo\s*=\s*([0-9]+);`)
	bbsNoRe     = regexp.MustCompile(`document\.nBbsNo\s*=\s*([0-9]+);`)
)

// Client talks to the AfreecaTV web endpoints.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	Windows    *window.Fetcher
	Limiter    *rate.Limiter
	MaxVideos  int
}

// Vod is the chat replay of one AfreecaTV VOD.
type Vod struct {
	TitleNo   uint64
	StationNo uint64
	BbsNo     uint64
	Name      string
	Date      string
	c         *Client
}

// Vod returns the chat replay source of a VOD. Its station and board
// numbers are looked up on first use.
func (c *Client) Vod(titleNo uint64) *Vod {
	return &Vod{TitleNo: titleNo, c: c}
}

func (v *Vod) Title() string {
	link := playerBase + strconv.FormatUint(v.TitleNo, 10)
	switch {
	case v.Name != "" && v.Date != "":
		return fmt.Sprintf("[%s] %s %s", v.Date, v.Name, link)
	case v.Name != "":
		return v.Name + " " + link
	default:
		return link
	}
}

// Resolve reads the station and board numbers from the player page.
func (v *Vod) Resolve(ctx context.Context) error {
	if v.StationNo != 0 && v.BbsNo != 0 {
		return nil
	}
	page, err := v.c.getText(ctx, playerBase+strconv.FormatUint(v.TitleNo, 10))
	if err != nil {
		return err
	}
	nums := make([]uint64, 3)
	for i, f := range []struct {
		name string
		re   *regexp.Regexp
	}{{"nTitleNo", titleNoRe}, {"nStationNo", stationNoRe}, {"nBbsNo", bbsNoRe}} {
		m := f.re.FindStringSubmatch(page)
		if m == nil {
			return fmt.Errorf("afreecatv player %d: %s missing", v.TitleNo, f.name)
		}
		if nums[i], err = strconv.ParseUint(m[1], 10, 64); err != nil {
			return fmt.Errorf("afreecatv player %d: %w", v.TitleNo, err)
		}
	}
	v.TitleNo, v.StationNo, v.BbsNo = nums[0], nums[1], nums[2]
	return nil
}

// File is one part of a VOD.
type File struct {
	Key      string
	Duration time.Duration
}

// Files lists the parts of the VOD in playback order.
func (v *Vod) Files(ctx context.Context) ([]File, error) {
	if err := v.Resolve(ctx); err != nil {
		return nil, err
	}
	q := url.Values{
		"nStationNo": {strconv.FormatUint(v.StationNo, 10)},
		"nBbsNo":     {strconv.FormatUint(v.BbsNo, 10)},
		"nTitleNo":   {strconv.FormatUint(v.TitleNo, 10)},
	}
	body, err := v.c.getText(ctx, infoURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	return parseFiles(strings.NewReader(body))
}

// parseFiles collects the key and duration attributes of every <file>
// element of a video info document.
func parseFiles(r io.Reader) ([]File, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	var out []File
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("parse video info: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "file" {
			continue
		}
		var f File
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "key":
				f.Key = a.Value
			case "duration":
				secs, err := strconv.Atoi(a.Value)
				if err != nil {
					return out, fmt.Errorf("parse video info: file duration %q: %w", a.Value, err)
				}
				f.Duration = time.Duration(secs) * time.Second
			}
		}
		if f.Key != "" {
			out = append(out, f)
		}
	}
	return out, nil
}

// Comments streams every file of the VOD window by window, with offsets
// continuing across files.
func (v *Vod) Comments(ctx context.Context) (chat.Stream, error) {
	files, err := v.Files(ctx)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("afreecatv vod %d: no files", v.TitleNo)
	}
	parts := make([]window.Part, 0, len(files))
	for _, f := range files {
		parts = append(parts, window.Part{Duration: f.Duration, Fetch: v.c.segment(f.Key)})
	}
	w := v.c.Windows
	if w == nil {
		w = &window.Fetcher{Length: window.DefaultLength}
	}
	return w.Stream(parts), nil
}

type chatDoc struct {
	Chats []struct {
		User string `xml:"u"`
		Nick string `xml:"n"`
		Body string `xml:"m"`
		Time string `xml:"t"`
	} `xml:"chat"`
}

func (c *Client) segment(key string) window.SegmentFunc {
	return func(ctx context.Context, w window.Window) ([]chat.Message, error) {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		q := url.Values{
			"rowKey":    {key + "_c"},
			"startTime": {strconv.Itoa(int(w.Start / time.Second))},
		}
		body, err := c.getText(ctx, chatURL+"?"+q.Encode())
		if err != nil {
			return nil, err
		}
		return parseChat(strings.NewReader(body))
	}
}

// parseChat reads a ChatLoadSplit document. Entries without a numeric
// time are skipped.
func parseChat(r io.Reader) ([]chat.Message, error) {
	var doc chatDoc
	dec := xml.NewDecoder(r)
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse chat: %w", err)
	}
	out := make([]chat.Message, 0, len(doc.Chats))
	for _, e := range doc.Chats {
		secs, err := strconv.ParseFloat(strings.TrimSpace(e.Time), 64)
		if err != nil {
			continue
		}
		user := strings.TrimSpace(e.Nick)
		if user == "" {
			user = strings.TrimSpace(e.User)
		}
		out = append(out, chat.At(chat.Seconds(secs), user, strings.TrimSpace(e.Body)))
	}
	return out, nil
}

// StationVods lists the VODs of a station (channel), newest first.
func (c *Client) StationVods(ctx context.Context, station string) ([]chat.Source, error) {
	const perPage = 60
	fetch := func(ctx context.Context, token string) (pager.Page[chat.Source], error) {
		page := 1
		if token != "" {
			page, _ = strconv.Atoi(token)
		}
		var body struct {
			Data []struct {
				TitleNo   uint64 `json:"title_no"`
				TitleName string `json:"title_name"`
				RegDate   string `json:"reg_date"`
				StationNo uint64 `json:"station_no"`
				BbsNo     uint64 `json:"bbs_no"`
			} `json:"data"`
			Meta struct {
				CurrentPage int `json:"current_page"`
				LastPage    int `json:"last_page"`
			} `json:"meta"`
		}
		q := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(perPage)}, "orderby": {"reg_date"}}
		if err := c.getJSON(ctx, stationBase+url.PathEscape(station)+"/vods/review?"+q.Encode(), &body); err != nil {
			return pager.Page[chat.Source]{}, err
		}
		items := make([]chat.Source, 0, len(body.Data))
		for _, d := range body.Data {
			items = append(items, &Vod{TitleNo: d.TitleNo, StationNo: d.StationNo, BbsNo: d.BbsNo, Name: d.TitleName, Date: d.RegDate, c: c})
		}
		next := ""
		if body.Meta.CurrentPage < body.Meta.LastPage && len(body.Data) > 0 {
			next = strconv.Itoa(body.Meta.CurrentPage + 1)
		}
		return pager.Page[chat.Source]{Items: items, Next: next}, nil
	}
	opts := []pager.Option{pager.WithLimiter(c.Limiter)}
	if c.MaxVideos > 0 {
		opts = append(opts, pager.WithMaxPages((c.MaxVideos+perPage-1)/perPage))
	}
	vods, err := pager.Collect(ctx, pager.New(fetch, opts...))
	if c.MaxVideos > 0 && len(vods) > c.MaxVideos {
		vods = vods[:c.MaxVideos]
	}
	if err != nil {
		return vods, fmt.Errorf("list vods of %s: %w", station, err)
	}
	return vods, nil
}

func (c *Client) do(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &chat.StatusError{URL: rawURL, Code: resp.StatusCode, Body: string(b)}
	}
	return resp.Body, nil
}

func (c *Client) getText(ctx context.Context, rawURL string) (string, error) {
	body, err := c.do(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	body, err := c.do(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}
