package env

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// SolverRequest is one line sent to the solver process. Solver-side
// implementations (cmd/solverstub, real CFD harnesses) decode it.
type SolverRequest struct {
	Op     string    `json:"op"` // reset | step | close
	Action []float64 `json:"action,omitempty"`
}

// SolverResponse is one line read back from the solver.
type SolverResponse struct {
	Obs    []float64 `json:"obs"`
	Reward float64   `json:"reward"`
	Done   bool      `json:"done"`
	Error  string    `json:"error,omitempty"`
}

// ProcEnv drives an external solver process over a line-oriented JSON
// protocol on stdin and stdout. The solver's stderr passes through. The
// caller supplies the spaces; the protocol does not negotiate them.
type ProcEnv struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *bufio.Scanner

	obsSpace Box
	actSpace Box
}

// StartProc launches the solver command in dir and prepares the pipes.
func StartProc(command string, args []string, dir string, obsSpace, actSpace Box) (*ProcEnv, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("solver stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("solver stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start solver: %w", err)
	}

	out := bufio.NewScanner(stdout)
	out.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &ProcEnv{
		cmd:      cmd,
		stdin:    stdin,
		out:      out,
		obsSpace: obsSpace,
		actSpace: actSpace,
	}, nil
}

func (p *ProcEnv) ObservationSpace() Box { return p.obsSpace }

func (p *ProcEnv) ActionSpace() Box { return p.actSpace }

// roundTrip sends one request line and decodes the reply line.
func (p *ProcEnv) roundTrip(req SolverRequest) (*SolverResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal solver request: %w", err)
	}
	data = append(data, '\n')
	if _, err := p.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write solver request: %w", err)
	}

	if !p.out.Scan() {
		if err := p.out.Err(); err != nil {
			return nil, fmt.Errorf("read solver response: %w", err)
		}
		return nil, fmt.Errorf("solver exited before responding")
	}

	var resp SolverResponse
	if err := json.Unmarshal(p.out.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse solver response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("solver: %s", resp.Error)
	}
	return &resp, nil
}

func (p *ProcEnv) Reset() ([]float64, error) {
	resp, err := p.roundTrip(SolverRequest{Op: "reset"})
	if err != nil {
		return nil, err
	}
	return resp.Obs, nil
}

func (p *ProcEnv) Step(action []float64) ([]float64, float64, bool, error) {
	resp, err := p.roundTrip(SolverRequest{Op: "step", Action: action})
	if err != nil {
		return nil, 0, false, err
	}
	return resp.Obs, resp.Reward, resp.Done, nil
}

// Close asks the solver to exit and reaps the process. The close request is
// best effort; a solver that already died still gets reaped.
func (p *ProcEnv) Close() error {
	if data, err := json.Marshal(SolverRequest{Op: "close"}); err == nil {
		p.stdin.Write(append(data, '\n'))
	}
	p.stdin.Close()
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("solver exit: %w", err)
	}
	return nil
}
