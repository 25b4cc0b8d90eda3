package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

// Submitter admits a payload into the lifecycle. *pipeline.Producer
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, payload contracts.Payload) (contracts.TaskEnvelope, error)
}

// Worker scans a log file and submits one observation task per suggestion.
type Worker struct {
	scanner   *Scanner
	submitter Submitter
	logFile   string
	logger    *slog.Logger
}

// NewWorker creates an ingest worker over the given log file.
func NewWorker(submitter Submitter, logFile string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		scanner:   NewScanner(),
		submitter: submitter,
		logFile:   logFile,
		logger:    logger.With("component", "log_ingest"),
	}
}

// RunOnce performs one scan-and-submit pass. A missing log file is not an
// error; there is simply nothing to ingest yet.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	f, err := os.Open(w.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			w.logger.Info("no log file to ingest", "path", w.logFile)
			return 0, nil
		}
		return 0, fmt.Errorf("open log file %s: %w", w.logFile, err)
	}
	defer f.Close()

	suggestions, err := w.scanner.Scan(f)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, s := range suggestions {
		env, err := w.submitter.Submit(ctx, payloadFor(s))
		if err != nil {
			return submitted, fmt.Errorf("submit suggestion %q: %w", s.Title, err)
		}
		submitted++
		w.logger.Info("suggestion submitted",
			"task_id", env.TaskID,
			"title", s.Title,
			"severity", s.Severity,
		)
	}
	return submitted, nil
}

// payloadFor maps a suggestion onto an observation payload. Severity drives
// the scoring hints: high-severity findings are urgent but risky to act on.
func payloadFor(s Suggestion) contracts.Payload {
	params := map[string]any{
		"title":              s.Title,
		"description":        s.Description,
		"severity":           s.Severity,
		"recommended_action": s.RecommendedAction,
	}
	switch s.Severity {
	case "high":
		params["risk_hint"] = "high"
		params["priority"] = "high"
	case "low":
		params["risk_hint"] = "low"
	}
	return contracts.Payload{Action: "observation", Params: params}
}
