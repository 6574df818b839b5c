// Package whisper runs OpenAI Whisper speech-to-text in a Python subprocess
// and keeps the transcript lines that match a filter.
package whisper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/onnwee/chatgrep/chat"
)

// DefaultModel is the smallest English-only model.
const DefaultModel = "tiny.en"

// Transcriber starts the whisper subprocess.
type Transcriber struct {
	Python string // interpreter; defaults to python3
	Model  string // defaults to DefaultModel
	Logger *slog.Logger
}

// Script returns the Python program that transcribes source (a local path
// or a URL ffmpeg can read) and prints timestamped segments to stdout.
func (t *Transcriber) Script(source string) string {
	model := t.Model
	if model == "" {
		model = DefaultModel
	}
	var b strings.Builder
	b.WriteString("import whisper\n")
	fmt.Fprintf(&b, "model = whisper.load_model(%s)\n", pyString(model))
	fmt.Fprintf(&b, "audio = whisper.load_audio(%s)\n", pyString(source))
	b.WriteString("whisper.transcribe(model, audio, verbose=True, language='English')\n")
	return b.String()
}

// Run transcribes source and writes every matching line to w. It returns
// the number of lines written.
func (t *Transcriber) Run(ctx context.Context, source string, filter chat.Filter, w io.Writer) (int, error) {
	python := t.Python
	if python == "" {
		python = "python3"
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "whisper"))
	}

	cmd := exec.CommandContext(ctx, python, "-c", t.Script(source))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("whisper stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	logger.Info("starting whisper", slog.String("source", source), slog.String("python", python))
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start whisper: %w", err)
	}
	n, ferr := FilterLines(stdout, filter, w)
	werr := cmd.Wait()
	logger.Info("finished whisper", slog.Int("matched", n))

	if ferr != nil {
		return n, ferr
	}
	if werr != nil {
		var exitErr *exec.ExitError
		if errors.As(werr, &exitErr) && stderr.Len() > 0 {
			return n, fmt.Errorf("whisper: %w: %s", werr, lastLine(stderr.String()))
		}
		return n, fmt.Errorf("whisper: %w", werr)
	}
	return n, nil
}

// FilterLines copies the lines of r accepted by filter to w.
func FilterLines(r io.Reader, filter chat.Filter, w io.Writer) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		line := sc.Text()
		if !filter.MatchString(line) {
			continue
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read transcript: %w", err)
	}
	return n, nil
}

// pyString quotes s as a single-quoted Python string literal.
func pyString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)
	return "'" + r.Replace(s) + "'"
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
