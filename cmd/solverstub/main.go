// solverstub serves the built-in wake surrogate over the stdin/stdout JSON
// line protocol, standing in for an external CFD solver. One instance serves
// one environment; the trainer's process backend launches and owns it.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pthm-cable/wake/config"
	"github.com/pthm-cable/wake/env"
	"github.com/pthm-cable/wake/wake"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	seed := flag.Int64("seed", 1, "RNG seed for the surrogate")
	flag.Parse()

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// stdout carries the protocol, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	w := wake.New(config.Cfg().Wake, *seed)
	if err := serve(w, os.Stdin, os.Stdout); err != nil {
		slog.Error("solver stub failed", "error", err)
		os.Exit(1)
	}
}

// serve answers requests until a close op or EOF on in.
func serve(w env.Env, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(out)

	for sc.Scan() {
		var req env.SolverRequest
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			if err := enc.Encode(env.SolverResponse{Error: fmt.Sprintf("parse request: %v", err)}); err != nil {
				return err
			}
			continue
		}

		var resp env.SolverResponse
		switch req.Op {
		case "reset":
			obs, err := w.Reset()
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Obs = obs
			}
		case "step":
			if got, want := len(req.Action), w.ActionSpace().Dim(); got != want {
				resp.Error = fmt.Sprintf("action has %d values, want %d", got, want)
				break
			}
			obs, reward, done, err := w.Step(req.Action)
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Obs, resp.Reward, resp.Done = obs, reward, done
			}
		case "close":
			return nil
		default:
			resp.Error = fmt.Sprintf("unknown op %q", req.Op)
		}

		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return sc.Err()
}
