package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tollgate-labs/tollgate/pkg/config"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
	"github.com/tollgate-labs/tollgate/pkg/ingest"
	"github.com/tollgate-labs/tollgate/pkg/pipeline"

	_ "github.com/lib/pq" // Postgres driver for the artifact store
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[1] {
	case "produce":
		return runProduce(ctx, args[2:], stdout, stderr)
	case "eval":
		return runEval(ctx, stderr)
	case "gate":
		return runGate(ctx, stdout, stderr)
	case "exec":
		return runExec(ctx, stderr)
	case "ingest":
		return runIngest(ctx, args[2:], stdout, stderr)
	case "status":
		return runStatus(ctx, args[2:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: tollgate <command>

Commands:
  produce -action <action> [-params <json>]   submit a task
  eval                                        run the evaluation worker
  gate                                        run the approval gate (reads decisions from stdin)
  exec                                        run the execution worker
  ingest                                      scan logs and submit observation tasks
  status -task <id>                           print the derived task state`)
}

func runProduce(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("produce", flag.ContinueOnError)
	fs.SetOutput(stderr)
	action := fs.String("action", "", "task action (deploy|analysis|observation)")
	params := fs.String("params", "", "JSON object of action parameters")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *action == "" {
		fmt.Fprintln(stderr, "produce: -action is required")
		return 2
	}

	payload := contracts.Payload{Action: *action}
	if *params != "" {
		if err := json.Unmarshal([]byte(*params), &payload.Params); err != nil {
			fmt.Fprintf(stderr, "produce: invalid -params: %v\n", err)
			return 2
		}
	}

	app, err := wire(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "wiring failed: %v\n", err)
		return 1
	}
	defer app.Close(ctx)

	env, err := app.Producer().Submit(ctx, payload)
	if err != nil {
		fmt.Fprintf(stderr, "submit failed: %v\n", err)
		return 1
	}

	out, _ := json.Marshal(map[string]string{
		"trace_id": env.TraceID,
		"task_id":  env.TaskID,
	})
	fmt.Fprintln(stdout, string(out))
	return 0
}

func runEval(ctx context.Context, stderr io.Writer) int {
	app, err := wire(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "wiring failed: %v\n", err)
		return 1
	}
	defer app.Close(ctx)

	slog.Info("evaluation worker starting")
	if err := app.EvalWorker().Run(ctx, app.cfg.Visibility/2); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "evaluation worker stopped: %v\n", err)
		return 1
	}
	return 0
}

func runGate(ctx context.Context, stdout, stderr io.Writer) int {
	app, err := wire(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "wiring failed: %v\n", err)
		return 1
	}
	defer app.Close(ctx)

	gate := app.Gate()
	go func() {
		if err := gate.Run(ctx, app.cfg.Visibility/2); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("gate loop stopped", "error", err)
		}
	}()

	fmt.Fprintln(stdout, "approval gate running; decisions: <task_id> approve|deny [reason]")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "pending" {
			for _, p := range gate.Pending() {
				fmt.Fprintf(stdout, "%s  action=%s  aggregate=%.2f  hint=%s\n",
					p.Envelope.TaskID,
					p.Envelope.Payload.Action,
					p.Evaluation.AggregateScore,
					p.Evaluation.DecisionHint,
				)
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			fmt.Fprintln(stdout, "expected: <task_id> approve|deny [reason]")
			continue
		}
		taskID, verdict := fields[0], fields[1]
		reason := strings.Join(fields[2:], " ")
		if reason == "" {
			reason = "decided via console"
		}

		approved := verdict == "approve"
		if !approved && verdict != "deny" {
			fmt.Fprintf(stdout, "unknown verdict %q\n", verdict)
			continue
		}

		decision, err := gate.Decide(ctx, taskID, operatorName(), approved, reason)
		if err != nil {
			fmt.Fprintf(stdout, "decision failed: %v\n", err)
			continue
		}
		fmt.Fprintf(stdout, "recorded: task=%s approved=%t reason=%s\n",
			decision.TaskID, decision.Approved, decision.Reason)
	}
	return 0
}

func operatorName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

func runExec(ctx context.Context, stderr io.Writer) int {
	app, err := wire(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "wiring failed: %v\n", err)
		return 1
	}
	defer app.Close(ctx)

	slog.Info("execution worker starting")
	if err := app.ExecWorker().Run(ctx, app.cfg.Visibility/2); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "execution worker stopped: %v\n", err)
		return 1
	}
	return 0
}

func runIngest(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	app, err := wire(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "wiring failed: %v\n", err)
		return 1
	}
	defer app.Close(ctx)

	worker := ingest.NewWorker(app.Producer(), app.cfg.LogFile, nil)
	n, err := worker.RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "ingest failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "submitted %d observation task(s)\n", n)
	return 0
}

func runStatus(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	taskID := fs.String("task", "", "task identifier")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *taskID == "" {
		fmt.Fprintln(stderr, "status: -task is required")
		return 2
	}

	app, err := wire(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "wiring failed: %v\n", err)
		return 1
	}
	defer app.Close(ctx)

	state, err := pipeline.TaskStatus(ctx, app.store, *taskID)
	if err != nil {
		fmt.Fprintf(stderr, "status failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(state))
	return 0
}

func init() {
	level := slog.LevelInfo
	if strings.EqualFold(config.Load().LogLevel, "debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
