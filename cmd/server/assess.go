package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"oralgrader/internal/config"
	"oralgrader/internal/model"
	"oralgrader/internal/transcript"
)

func newAssessCmd() *cobra.Command {
	var voicePath string
	cmd := &cobra.Command{
		Use:   "assess [text...]",
		Short: "Assess one sample from the command line and print the reply",
		Long: "Runs the same pipeline as the bot for a single text sample or voice file.\n" +
			"The interaction is logged and archived like any other.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := assessEvent(voicePath, args)
			if err != nil {
				return err
			}
			return runAssess(cmd.Context(), ev, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&voicePath, "voice", "", "voice recording to transcribe and assess")
	return cmd
}

func assessEvent(voicePath string, args []string) (model.InboundEvent, error) {
	if voicePath != "" {
		return model.VoiceMessage{MediaRef: voicePath}, nil
	}
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("nothing to assess: pass text arguments or --voice")
	}
	return model.TextMessage{Body: text}, nil
}

func runAssess(ctx context.Context, ev model.InboundEvent, out io.Writer) error {
	cfg, err := config.Load(config.WithoutTelegram())
	if err != nil {
		return err
	}
	log := newLogger(cfg, os.Stderr)

	a, err := buildApp(ctx, cfg, log, &consoleSender{w: out}, transcript.FileSource{})
	if err != nil {
		return err
	}
	stopQueue := a.startQueue(ctx)

	_, err = a.orchestrator.Handle(ctx, ev)

	if cerr := a.interactions.Close(); cerr != nil {
		log.WithError(cerr).Warn("failed to close interaction log")
	}
	stopQueue()
	return err
}

// consoleSender prints replies instead of sending them to a chat.
type consoleSender struct {
	w io.Writer
}

func (s *consoleSender) SendText(_ context.Context, _ int64, text string) error {
	_, err := fmt.Fprintln(s.w, text)
	return err
}

func (s *consoleSender) SendDocument(_ context.Context, _ int64, path, _ string) error {
	_, err := fmt.Fprintf(s.w, "[reply saved to %s]\n", path)
	return err
}

func (s *consoleSender) SendTyping(context.Context, int64) error { return nil }
