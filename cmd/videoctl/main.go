// videoctl submits one processing job to the video service and prints the
// resulting output URL.
//
//	videoctl -in https://example.com/in.mp4 -out clips/out.mp4 -resize 1280x720 -op "-an"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"videorelay/internal/config"
	"videorelay/internal/observability"
	"videorelay/pkg/client"
	"videorelay/pkg/transport"
	"videorelay/pkg/video"
)

const (
	exitSuccess           = 0
	exitJobFailure        = 1
	exitInvalidInvocation = 2
)

// invocation is a parsed command line.
type invocation struct {
	APIURL     string
	APIKey     string
	InputURL   string
	OutputKey  string
	Operations []video.Operation
	Timeout    time.Duration
	Verbose    bool
}

// opList collects operation flags in command-line order.
type opList struct {
	ops *[]video.Operation
	fn  func(string) (video.Operation, error)
}

func (l opList) String() string { return "" }

func (l opList) Set(value string) error {
	op, err := l.fn(value)
	if err != nil {
		return err
	}
	*l.ops = append(*l.ops, op)
	return nil
}

type boolOp struct {
	opList
}

func (boolOp) IsBoolFlag() bool { return true }

func (b boolOp) Set(value string) error {
	on, err := strconv.ParseBool(value)
	if err != nil || !on {
		return err
	}
	return b.opList.Set(value)
}

func parseInvocation(args []string, stderr io.Writer) (invocation, error) {
	fs := flag.NewFlagSet("videoctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	inv := invocation{}
	fs.StringVar(&inv.APIURL, "api", config.GetEnv("VIDEORELAY_API_URL", client.DefaultBaseURL), "Service base URL")
	fs.StringVar(&inv.APIKey, "key", config.GetSecret("VIDEORELAY_API_KEY_FILE", "VIDEORELAY_API_KEY"), "API key")
	fs.StringVar(&inv.InputURL, "in", "", "Input video URL. Required.")
	fs.StringVar(&inv.OutputKey, "out", "", "Output storage key. Required.")
	fs.DurationVar(&inv.Timeout, "timeout", 15*time.Minute, "Bound on the whole job")
	fs.BoolVar(&inv.Verbose, "v", false, "Log request details to stderr")

	fs.Var(opList{&inv.Operations, func(v string) (video.Operation, error) {
		args := strings.Fields(v)
		if len(args) == 0 {
			return video.Operation{}, errors.New("empty operation")
		}
		return video.NewOperation(args...), nil
	}}, "op", "Raw engine arguments for one step, space separated (repeatable)")
	fs.Var(opList{&inv.Operations, parseResize}, "resize", "Resize to WIDTHxHEIGHT (repeatable)")
	fs.Var(boolOp{opList{&inv.Operations, func(string) (video.Operation, error) {
		return video.ConvertToMP4(), nil
	}}}, "mp4", "Convert to MP4")
	fs.Var(boolOp{opList{&inv.Operations, func(string) (video.Operation, error) {
		return video.ExtractAudio(), nil
	}}}, "audio-only", "Drop the video stream")

	if err := fs.Parse(args); err != nil {
		return invocation{}, err
	}
	if fs.NArg() != 0 {
		return invocation{}, fmt.Errorf("unexpected arguments: %q", strings.Join(fs.Args(), " "))
	}
	if inv.InputURL == "" {
		return invocation{}, errors.New("-in is required")
	}
	if inv.OutputKey == "" {
		return invocation{}, errors.New("-out is required")
	}
	return inv, nil
}

func parseResize(v string) (video.Operation, error) {
	w, h, ok := strings.Cut(strings.ToLower(v), "x")
	if !ok {
		return video.Operation{}, fmt.Errorf("resize %q: want WIDTHxHEIGHT", v)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return video.Operation{}, fmt.Errorf("resize %q: invalid width", v)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return video.Operation{}, fmt.Errorf("resize %q: invalid height", v)
	}
	return video.Resize(width, height), nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	inv, err := parseInvocation(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		fmt.Fprintln(stderr, "videoctl:", err)
		return exitInvalidInvocation
	}

	level := "info"
	if inv.Verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: "text"}, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.NewClient(inv.APIKey, client.WithBaseURL(inv.APIURL), client.WithTimeout(inv.Timeout))
	job := c.NewJob().From(inv.InputURL).To(inv.OutputKey)
	for _, op := range inv.Operations {
		job.Add(op)
	}

	logger.Debug("Submitting job", "api", c.BaseURL(), "input", inv.InputURL, "output", inv.OutputKey, "operations", len(inv.Operations))
	start := time.Now()

	result, err := job.Process(ctx)
	if err != nil {
		logJobError(logger, err)
		return exitJobFailure
	}

	logger.Debug("Job completed", "duration", time.Since(start).Round(time.Millisecond))
	fmt.Fprintln(stdout, result.OutputURL)
	return exitSuccess
}

func logJobError(logger *slog.Logger, err error) {
	var apiErr *transport.APIError
	switch {
	case errors.As(err, &apiErr):
		logger.Error("Job failed", "status", apiErr.StatusCode, "error", apiErr.Message)
	case errors.Is(err, transport.ErrTimeout):
		logger.Error("Job timed out", "error", err)
	default:
		logger.Error("Job failed", "error", err)
	}
}
