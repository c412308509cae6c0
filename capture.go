package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"voiceorb/pkg/llm"
)

var captureOut string

var captureCmd = &cobra.Command{
	Use:   "capture <prompt>",
	Short: "Stream one prompt through the configured relay and save every chunk",
	Long: `Send a single prompt to the relay providers of the "llm" config block and
write each stream chunk as numbered JSON files, printing the answer as it
arrives. Useful for checking a provider before voice sessions rely on it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := loadRuntime()
		client, err := llm.NewFromConfig(rt.store.Get().LLM, rt.system)
		if err != nil {
			return err
		}
		return capture(cmd.Context(), client, rt.store.Get().SystemPrompt, strings.Join(args, " "), captureOut, cmd.OutOrStdout())
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", filepath.Join("debug", "capture"), "directory the chunks are written to")
	rootCmd.AddCommand(captureCmd)
}

func capture(ctx context.Context, client llm.LLMClient, systemPrompt, prompt, dir string, out io.Writer) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	msgs := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	if systemPrompt != "" {
		msgs = append([]llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}, msgs...)
	}
	ch, err := client.StreamChat(ctx, msgs)
	if err != nil {
		return err
	}
	defer llm.Drain(ch)

	fmt.Fprintln(out, "=== streaming ===")
	count := 0
	for chunk := range ch {
		count++
		data, _ := json.MarshalIndent(chunk, "", "  ")
		name := filepath.Join(dir, fmt.Sprintf("chunk_%03d.json", count))
		if err := os.WriteFile(name, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}

		if chunk.Err != nil {
			return fmt.Errorf("stream failed after %d chunks: %w", count, chunk.Err)
		}
		fmt.Fprint(out, chunk.Text)
		if chunk.IsFinal {
			llm.LogUsage(ctx, "capture", chunk.Usage)
			break
		}
	}
	fmt.Fprintf(out, "\n=== %d chunks saved to %s ===\n", count, dir)
	return nil
}
