package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/onnwee/chatgrep/whisper"
)

func (a *app) transcribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <url|path>",
		Short: "Transcribe a recording with Whisper and print the lines matching --filter",
		Long: `transcribe runs OpenAI Whisper (WHISPER_PYTHON, WHISPER_MODEL) on a media URL
or file and prints the transcript segments that match --filter. The Python
package openai-whisper and ffmpeg must be installed.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.transcribe(cmd.Context(), args[0])
		},
	}
}

func (a *app) transcribe(ctx context.Context, source string) error {
	filter, err := a.filter()
	if err != nil {
		return err
	}
	t := &whisper.Transcriber{
		Python: a.cfg.WhisperPython,
		Model:  a.cfg.WhisperModel,
		Logger: slog.Default().With(slog.String("component", "whisper")),
	}
	_, err = t.Run(ctx, source, filter, a.out)
	return err
}
