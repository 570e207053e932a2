package client

import (
	"context"
	"time"

	"videorelay/pkg/video"
)

// Job accumulates operations for one input and one output key.
// Builder methods mutate the job and return it for chaining.
type Job struct {
	submitter Submitter
	inputURL  string
	outputKey string
	ops       []video.Operation
}

// NewJob creates a job that submits through s.
func NewJob(s Submitter) *Job {
	return &Job{submitter: s}
}

// From sets the input URL.
func (j *Job) From(url string) *Job {
	j.inputURL = url
	return j
}

// To sets the output storage key.
func (j *Job) To(key string) *Job {
	j.outputKey = key
	return j
}

// ConvertToMP4 appends an H.264/AAC re-encode.
func (j *Job) ConvertToMP4() *Job {
	return j.Add(video.ConvertToMP4())
}

// Resize appends a scale to width x height.
func (j *Job) Resize(width, height int) *Job {
	return j.Add(video.Resize(width, height))
}

// Trim appends a cut of duration starting at start.
func (j *Job) Trim(start, duration time.Duration) *Job {
	return j.Add(video.Trim(start, duration))
}

// ExtractAudio appends an audio-only extraction.
func (j *Job) ExtractAudio() *Job {
	return j.Add(video.ExtractAudio())
}

// ExtractVideo appends a video-only extraction.
func (j *Job) ExtractVideo() *Job {
	return j.Add(video.ExtractVideo())
}

// Watermark appends an image overlay at position.
func (j *Job) Watermark(path, position string) *Job {
	return j.Add(video.Watermark(path, position))
}

// Custom appends an arbitrary argument vector.
func (j *Job) Custom(args ...string) *Job {
	return j.Add(video.NewOperation(args...))
}

// Add appends op.
func (j *Job) Add(op video.Operation) *Job {
	j.ops = append(j.ops, op)
	return j
}

// InputURL returns the current input URL.
func (j *Job) InputURL() string { return j.inputURL }

// OutputKey returns the current output key.
func (j *Job) OutputKey() string { return j.outputKey }

// Operations returns a copy of the accumulated operations.
func (j *Job) Operations() []video.Operation {
	return j.request().Operations
}

// Process validates the job and submits it.
func (j *Job) Process(ctx context.Context) (*video.Result, error) {
	if j.inputURL == "" {
		return nil, validation("input_url", "input URL is required")
	}
	if j.outputKey == "" {
		return nil, validation("output_key", "output key is required")
	}
	if j.submitter == nil {
		return nil, validation("client", "job is not bound to a client")
	}
	result, err := j.submitter.Submit(ctx, j.request())
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrNoResult
	}
	return result, nil
}

func (j *Job) request() *video.Request {
	req := &video.Request{
		InputURL:   j.inputURL,
		OutputKey:  j.outputKey,
		Operations: j.ops,
	}
	req = req.Clone()
	if req.Operations == nil {
		req.Operations = []video.Operation{}
	}
	return req
}
