package processor

import (
	"fmt"
	"time"

	"github.com/portfolio-assets/assets-go/pipeline/pkg/manifest"
)

type Outcome int

const (
	// Processed files had at least one variant uploaded. Some variants may still have failed.
	Processed Outcome = iota
	// Unchanged files matched the hash recorded in the manifest.
	Unchanged
	// Skipped files have a rule that never produces variants.
	Skipped
	Unsupported
	// Failed files produced no variant at all.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case Unchanged:
		return "unchanged"
	case Skipped:
		return "skipped"
	case Unsupported:
		return "unsupported"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// FileResult is the outcome of processing one source file.
type FileResult struct {
	Path    string
	Outcome Outcome
	Hash    string
	Size    int64
	// Outputs are the keys of the variants that were uploaded, in generation order.
	Outputs     []string
	Placeholder *manifest.Placeholder
	// Bytes is the total size of the uploaded variants.
	Bytes int64
	// Errors holds one error per failed variant (or a single error if the file could not be read
	// or decoded).
	Errors []error
}

// Summary aggregates the results of a run.
type Summary struct {
	RunID       string
	Processed   int
	Skipped     int
	Unsupported int
	Uploaded    int
	// Errors counts files with at least one failure.
	Errors   int
	Bytes    int64
	Pruned   []string
	Storage  manifest.StorageStatus
	Duration time.Duration
	// ResumeAfter is the last walked manifest path when Options.MaxFiles stopped the walk early.
	// Pass it as Options.StartAfter to continue.
	ResumeAfter string
}

func (s *Summary) add(r *FileResult) {
	switch r.Outcome {
	case Processed:
		s.Processed++
	case Unchanged, Skipped:
		s.Skipped++
	case Unsupported:
		s.Unsupported++
	}
	if len(r.Errors) > 0 {
		s.Errors++
	}
	s.Uploaded += len(r.Outputs)
	s.Bytes += r.Bytes
}

// Hooks are called from the single collector goroutine, never concurrently.
type Hooks struct {
	OnProgress func(*FileResult)
	OnError    func(path string, err error)
}
