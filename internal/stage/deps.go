// Package stage holds the pipeline stage functions: classification, fact
// extraction, security scanning, report building, and prose writing. Every
// inference call goes through the shared Arbiter; report builders never
// call the model at all.
package stage

import (
	"bytes"
	"context"
	"log/slog"

	"codescribe/internal/arbiter"
	"codescribe/internal/inference"
	"codescribe/internal/source"
)

// Progress is the injected sub-progress callback. Stages report batch N of
// M through it; the orchestrator never polls.
type Progress func(stage, message string, batch, total int)

// Deps is everything a stage needs to talk to the outside world. One Deps
// value (one Arbiter, one Client) is shared by all stages of a run.
type Deps struct {
	Arbiter  *arbiter.Arbiter
	Client   inference.Client
	Log      *slog.Logger
	Progress Progress
}

func (d Deps) progress(stage, message string, batch, total int) {
	if d.Progress != nil {
		d.Progress(stage, message, batch, total)
	}
}

// callModel routes one completion through the Arbiter. The estimate is
// derived from prompt size; the booked cost is replaced by the usage the
// service reports.
func (d Deps) callModel(ctx context.Context, system, user string, opts inference.Options) (string, error) {
	est := inference.EstimateCost(system, user, opts)
	return d.Arbiter.Submit(ctx, est, func(ctx context.Context) (string, int, error) {
		resp, err := d.Client.Complete(ctx, system, user, opts)
		if err != nil {
			return "", 0, err
		}
		return resp.Text, resp.CostUsed, nil
	})
}

// truncate bounds a file's contribution to maxBytes. Facts of interest
// cluster near declarations and imports, so the prefix is enough.
func truncate(content string, maxBytes int) string {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return content
	}
	return content[:maxBytes]
}

// batches splits files into fixed-size batches, preserving selection order
// so a stage's call sequence is deterministic for a fixed file list.
func batches(files []source.FileRecord, size int) [][]source.FileRecord {
	if size <= 0 {
		size = 1
	}
	var out [][]source.FileRecord
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		out = append(out, files[start:end])
	}
	return out
}

// cleanJSON strips markdown code fences and surrounding whitespace from
// model responses. Models often wrap JSON in ```json ... ``` blocks.
func cleanJSON(data []byte) []byte {
	s := bytes.TrimSpace(data)
	if len(s) == 0 {
		return s
	}
	if bytes.HasPrefix(s, []byte("```")) {
		if idx := bytes.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		}
		if bytes.HasSuffix(s, []byte("```")) {
			s = s[:len(s)-3]
		}
		s = bytes.TrimSpace(s)
	}
	return s
}
