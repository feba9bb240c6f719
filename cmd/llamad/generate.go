package main

import (
	"bytes"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mx37/grapheneos-ai/pkg/types"
)

func newGenerateCmd(opts *options) *cobra.Command {
	var (
		req     types.InferRequest
		rawJSON bool
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate a completion and stream it to stdout",
		Long:  "Generate a completion for the prompt argument, or for stdin when no argument is given.",
		Example: "  llamad generate --model qwen2.5-0.5b-instruct-q4_k_m.gguf 'Write a haiku'\n" +
			"  echo 'Hello' | llamad generate --backend replay --models-dir ./scripts --model hello.yaml",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			_, log, mgr, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			req.Prompt = prompt
			out := cmd.OutOrStdout()
			if rawJSON {
				return mgr.Infer(ctx, req, out, nil)
			}
			tp := &tokenPrinter{out: out, log: log}
			if err := mgr.Infer(ctx, req, tp, nil); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return tp.err
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Model, "model", "", "Model id (defaults to the configured default)")
	f.IntVar(&req.MaxTokens, "max-tokens", 0, "Maximum new tokens (0 = server default)")
	f.Float64Var(&req.Temperature, "temperature", 0, "Sampling temperature (0 = server default)")
	f.Float64Var(&req.TopP, "top-p", 0, "Nucleus sampling probability (0 = server default)")
	f.Uint32Var(&req.Seed, "seed", 0, "Random seed (0 = engine chooses)")
	f.BoolVar(&rawJSON, "json", false, "Print the NDJSON stream instead of plain text")
	return cmd
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	p := strings.TrimRight(string(b), "\r\n")
	if p == "" {
		return "", fmt.Errorf("empty prompt")
	}
	return p, nil
}

// tokenPrinter turns the NDJSON generation stream back into plain text.
// Token lines are written to out as they arrive; the final line is logged.
type tokenPrinter struct {
	out io.Writer
	log zerolog.Logger
	buf bytes.Buffer
	err error
}

type streamLine struct {
	types.FinalLine
	Token *string `json:"token"`
}

func (p *tokenPrinter) Write(b []byte) (int, error) {
	p.buf.Write(b)
	for {
		line, err := p.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line; keep it for the next write.
			p.buf.Reset()
			p.buf.Write(line)
			return len(b), nil
		}
		if err := p.handle(bytes.TrimSpace(line)); err != nil {
			return 0, err
		}
	}
}

func (p *tokenPrinter) handle(line []byte) error {
	if len(line) == 0 {
		return nil
	}
	var l streamLine
	if err := json.Unmarshal(line, &l); err != nil {
		return fmt.Errorf("decode stream line: %w", err)
	}
	if l.Token != nil {
		_, err := io.WriteString(p.out, *l.Token)
		return err
	}
	if !l.Done {
		return nil
	}
	ev := p.log.Info()
	if l.Error != "" {
		p.err = fmt.Errorf("generation failed: %s", l.Error)
		ev = p.log.Warn().Str("error", l.Error)
	}
	ev.Str("id", l.ID).
		Str("model", l.Model).
		Str("finish", l.FinishReason).
		Int("prompt_tokens", l.Usage.PromptTokens).
		Int("completion_tokens", l.Usage.CompletionTokens).
		Int64("ttft_ms", l.Usage.TTFTMillis).
		Int64("duration_ms", l.Usage.DurationMillis).
		Msg("generation finished")
	return nil
}
