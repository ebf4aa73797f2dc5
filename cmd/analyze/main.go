// Command analyze runs one document or chat turn through the analysis chain
// using the same configuration as the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wolfman30/finsight-ai/cmd/mainconfig"
	"github.com/wolfman30/finsight-ai/internal/analysis"
	"github.com/wolfman30/finsight-ai/internal/app/bootstrap"
	appconfig "github.com/wolfman30/finsight-ai/internal/config"
	"github.com/wolfman30/finsight-ai/internal/finnum"
	"github.com/wolfman30/finsight-ai/pkg/logging"
)

type options struct {
	file    string
	chat    bool
	numbers bool
	timeout time.Duration
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Analyze a financial document or ask one question",
		Long: `Runs the same primary/fallback chain as the API server. Input is read
from the file argument or stdin; base64 documents are decoded.

Examples:
  analyze statements.txt
  echo "売上を伸ばすには？" | analyze --chat
  analyze --numbers statements.txt`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.file = args[0]
			}
			return run(cmd.Context(), opts, stdin, stdout)
		},
	}

	cmd.Flags().BoolVarP(&opts.chat, "chat", "c", false, "send the input as a single chat question")
	cmd.Flags().BoolVarP(&opts.numbers, "numbers", "n", false, "only extract amounts, no model call")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall deadline")
	return cmd
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer) error {
	input, err := readInput(opts.file, stdin)
	if err != nil {
		return err
	}

	if opts.numbers {
		for _, v := range finnum.Extract(input) {
			fmt.Fprintf(stdout, "%s\t%.0f\n", finnum.Format(v, true), v)
		}
		return nil
	}

	cfg := appconfig.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	client, closeClient, err := bootstrap.BuildCompletionClient(ctx, cfg, logger, mainconfig.LoadAWSConfig)
	if err != nil {
		return err
	}
	defer func() { _ = closeClient() }()

	analyzer, err := bootstrap.BuildAnalyzer(client, cfg, nil, logger)
	if err != nil {
		return err
	}
	return analyze(ctx, analyzer, opts.chat, input, stdout)
}

func analyze(ctx context.Context, svc analysis.Service, chat bool, input string, stdout io.Writer) error {
	start := time.Now()
	var (
		text string
		err  error
	)
	if chat {
		res, cerr := svc.Chat(ctx, []analysis.ChatTurn{{IsUser: true, Text: input}})
		text, err = res.Text, cerr
	} else {
		res, aerr := svc.AnalyzeDocument(ctx, input)
		text, err = res.Text, aerr
	}
	if err != nil {
		var adv *analysis.AdvisoryError
		if errors.As(err, &adv) {
			return fmt.Errorf("%s (%s, cause: %v)", adv.Message, adv.Kind, errors.Unwrap(adv))
		}
		return err
	}

	fmt.Fprintln(stdout, text)
	fmt.Fprintf(stdout, "\n(%s)\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func readInput(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	// Files and heredocs end in a newline, which would keep a base64
	// payload from being recognised.
	return strings.TrimRightFunc(string(data), unicode.IsSpace), nil
}
