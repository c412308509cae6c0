package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"voiceorb/pkg/api"
	"voiceorb/pkg/host"
	"voiceorb/pkg/monitor"
	"voiceorb/pkg/session"
	"voiceorb/pkg/speech/elevenlabs"
	"voiceorb/pkg/speech/local"
	"voiceorb/pkg/utils"
)

var (
	chatMode string
	chatWPM  int
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the widget from the terminal",
	Long: `Open one session in the terminal.

In text-chat every line is a message. Commands:
  /attach <path>  stage a file for the next message
  /files          list staged files
  /remove <n>     drop staged file n
  /quit           leave

In voice-chat and meeting every line is treated as one spoken utterance and
replies are printed as they are "spoken".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := host.GetModeFactory(chatMode); !ok {
			return fmt.Errorf("unknown mode %q (available: %s)", chatMode, strings.Join(host.Modes(), ", "))
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return chat(ctx, loadRuntime(), os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatMode, "mode", "m", host.ModeTextChat, "conversation mode")
	chatCmd.Flags().IntVar(&chatWPM, "wpm", 180, "speaking pace of the console voice (0 disables pacing)")
}

func chat(ctx context.Context, rt *runtime, in io.Reader, out io.Writer) error {
	recognizer := local.NewLineRecognizer(in)
	h, err := host.NewHostBuilder().
		WithConfigStore(rt.store).
		WithSystemConfig(rt.system).
		WithDevices(host.Devices{
			Microphone:  local.StaticMicrophone{},
			Recognizer:  recognizer,
			Synthesizer: local.NewConsoleSynthesizer(out, chatWPM),
		}).
		WithRelays(rt.relays...).
		WithVoiceDialer(elevenlabs.Dial).
		WithMonitor(monitor.NewCLIMonitorWriter(out)).
		WithObserver(api.ObserverFuncs{
			Progress: func(_ string, percent int) {
				fmt.Fprintf(out, "  uploading... %d%%\n", percent)
			},
		}).
		WithSurface("terminal").
		WithDefaultMode(chatMode).
		Build()
	if err != nil {
		return err
	}
	defer h.Close()

	if voice, ok := h.Voice(); ok {
		return talk(ctx, voice, recognizer, out)
	}
	text, _ := h.Text()
	return converse(ctx, text, in, out)
}

// talk runs a voice session until the input ends or ctx is cancelled.
func talk(ctx context.Context, voice *session.VoiceSession, recognizer *local.LineRecognizer, out io.Writer) error {
	fmt.Fprintf(out, "%s - type what you would say, Ctrl-D to hang up.\n", voice.Header())
	if err := voice.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-recognizer.Done():
	}
	voice.Stop()
	return nil
}

// converse runs a text session line by line.
func converse(ctx context.Context, text *session.TextSession, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(text, strings.TrimSpace(line), out); quit {
				return nil
			}
		}
	}
}

func handleLine(text *session.TextSession, line string, out io.Writer) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/files":
		pending := text.Pending()
		if len(pending) == 0 {
			fmt.Fprintln(out, "  no files staged")
		}
		for i, f := range pending {
			fmt.Fprintf(out, "  %d. %s (%s, %d bytes)\n", i+1, f.Name, f.MimeType, f.SizeBytes)
		}
	case "/remove":
		n, err := strconv.Atoi(arg)
		if err != nil || !text.RemoveFile(n-1) {
			fmt.Fprintf(out, "  no staged file %q\n", arg)
		}
	case "/attach":
		file, err := readAttachment(arg)
		if err != nil {
			fmt.Fprintf(out, "  %v\n", err)
			return false
		}
		if err := text.AddFiles(file)[0]; err != nil {
			fmt.Fprintf(out, "  %s\n", api.UserMessage(err))
			return false
		}
		fmt.Fprintf(out, "  staged %s\n", file.Filename)
	default:
		if _, err := text.Send(line); err != nil && !errors.Is(err, session.ErrEmptyMessage) {
			fmt.Fprintf(out, "  %s\n", api.UserMessage(err))
		}
	}
	return false
}

func readAttachment(path string) (api.FileAttachment, error) {
	if path == "" {
		return api.FileAttachment{}, fmt.Errorf("usage: /attach <path>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return api.FileAttachment{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	name := filepath.Base(path)
	return api.FileAttachment{Filename: name, MimeType: utils.DetectMime(name, data), Data: data}, nil
}
