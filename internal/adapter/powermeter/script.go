package powermeter

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/b2500meter/internal/core/domain"
)

const DEFAULT_SCRIPT_TIMEOUT = 10 * time.Second

// ScriptSource runs a shell command and reads one value per output line.
type ScriptSource struct {
	name    string
	command string
	timeout time.Duration
}

func NewScriptSource(name string, command string, timeout time.Duration) *ScriptSource {
	if timeout <= 0 {
		timeout = DEFAULT_SCRIPT_TIMEOUT
	}
	return &ScriptSource{name: name, command: command, timeout: timeout}
}

func (s *ScriptSource) Fetch(ctx context.Context) (domain.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", s.command)
	// children of the shell may keep stdout open after it is killed
	cmd.WaitDelay = time.Second
	out, err := cmd.Output()
	if err != nil {
		return nil, domain.NewSourceError(s.name, err)
	}
	reading, err := parseLines(string(out))
	if err != nil {
		return nil, domain.NewSourceError(s.name, err)
	}
	return reading, nil
}

func (s *ScriptSource) WaitForMessage(_ context.Context, _ time.Duration) error {
	return nil
}

func parseLines(out string) (domain.Reading, error) {
	var reading domain.Reading
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("script output %q: %w", line, err)
		}
		reading = append(reading, v)
	}
	if len(reading) == 0 {
		return nil, domain.ErrNoValue
	}
	return reading, nil
}
