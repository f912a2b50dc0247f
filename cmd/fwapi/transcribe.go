package fwapi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

func init() {
	transcribeCmd.Flags().String("language", "", "language code, empty to detect")
	transcribeCmd.Flags().Int("beam-size", 5, "beam size")
	transcribeCmd.Flags().Bool("word-timestamps", false, "include word timings")
	transcribeCmd.Flags().Bool("vad", true, "skip non-speech regions")
	transcribeCmd.Flags().Bool("translate", false, "translate the speech to English")
	transcribeCmd.Flags().String("prompt", "", "initial prompt")
	transcribeCmd.Flags().Bool("json", false, "print the full result as JSON")
	rootCmd.AddCommand(transcribeCmd)
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <audio-file>",
	Short: "Transcribe a local file with the configured model",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	svc, err := newTranscriber(cfg)
	if err != nil {
		return err
	}
	defer svc.Registry().Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := svc.LoadModel(ctx, cfg.Model.Spec()); err != nil {
		return err
	}

	flags := cmd.Flags()
	raw := map[string]any{}
	if lang, _ := flags.GetString("language"); lang != "" {
		raw["language"] = lang
	}
	beam, _ := flags.GetInt("beam-size")
	raw["beam_size"] = strconv.Itoa(beam)
	words, _ := flags.GetBool("word-timestamps")
	raw["word_timestamps"] = strconv.FormatBool(words)
	vad, _ := flags.GetBool("vad")
	raw["vad_filter"] = strconv.FormatBool(vad)
	translate, _ := flags.GetBool("translate")
	raw["translate"] = strconv.FormatBool(translate)
	if prompt, _ := flags.GetString("prompt"); prompt != "" {
		raw["initial_prompt"] = prompt
	}

	result, err := svc.Transcribe(ctx, whisper.Audio{Name: filepath.Base(args[0]), Data: data}, raw)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := flags.GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	for _, seg := range result.Segments {
		fmt.Fprintf(out, "[%s -> %s] %s\n", stamp(seg.Start), stamp(seg.End), seg.Text)
	}
	fmt.Fprintf(out, "\nlanguage=%s duration=%s took=%s\n", result.Language,
		result.Duration.Round(time.Millisecond), result.ProcessingTime.Round(time.Millisecond))
	return nil
}

func stamp(d time.Duration) string {
	d = d.Round(10 * time.Millisecond)
	m := d / time.Minute
	s := float64(d%time.Minute) / float64(time.Second)
	return fmt.Sprintf("%02d:%05.2f", m, s)
}
