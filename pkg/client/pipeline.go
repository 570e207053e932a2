package client

import (
	"context"

	"videorelay/pkg/video"
)

// Pipeline runs jobs in order. Every stage after the first reads the previous
// stage's output URL; output keys stay as each job set them.
type Pipeline struct {
	jobs []*Job
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// AddJob appends job. The job is shared, not copied: Process rewrites its
// input URL for every stage but the first.
func (p *Pipeline) AddJob(job *Job) *Pipeline {
	p.jobs = append(p.jobs, job)
	return p
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	return len(p.jobs)
}

// Process submits each stage and waits for it before starting the next.
// The first failure stops the pipeline and is returned as *StageError;
// results of stages that already completed are discarded.
func (p *Pipeline) Process(ctx context.Context) ([]*video.Result, error) {
	if len(p.jobs) == 0 {
		return nil, validation("jobs", "pipeline must contain at least one job")
	}

	results := make([]*video.Result, 0, len(p.jobs))
	for i, job := range p.jobs {
		if job == nil {
			return nil, &StageError{Stage: i + 1, Err: validation("job", "job is nil")}
		}
		if i > 0 {
			job.From(results[i-1].OutputURL)
		}

		result, err := job.Process(ctx)
		if err != nil {
			return nil, &StageError{Stage: i + 1, Err: err}
		}
		results = append(results, result)
	}
	return results, nil
}
