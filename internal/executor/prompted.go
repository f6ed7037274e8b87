package executor

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ConfirmPatterns is the closed set of prompts the driver recognizes from
// destructive external tools.
var ConfirmPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)are you sure.*\?`),
	regexp.MustCompile(`(?i)enter '?nuke'? to confirm`),
	regexp.MustCompile(`(?i)confirm.*\[y/?n?\]`),
	regexp.MustCompile(`(?i)type '?yes'? to continue`),
	regexp.MustCompile(`(?i)do you want to proceed`),
}

// ErrToolMissing marks an external binary absent from PATH.
type ErrToolMissing struct {
	Tool string
}

func (e *ErrToolMissing) Error() string {
	return "required external tool " + e.Tool + " is not on PATH; install it and retry"
}

// PromptedTool drives an external command that asks for interactive
// confirmation. The confirmation token is written to stdin exactly once,
// on the first recognized prompt. A force-send fallback, off by default,
// writes the token anyway after ForceSendAfter elapses with no prompt
// detected.
type PromptedTool struct {
	lg *zap.Logger

	// Command is the full command line, shell-quoted.
	Command string
	// Env is appended to the subprocess environment (AWS credentials for
	// the handle under execution).
	Env []string
	// ConfirmToken is written, newline-terminated, when a prompt matches.
	ConfirmToken string
	// Patterns defaults to ConfirmPatterns.
	Patterns []*regexp.Regexp

	// ForceSend enables the timed fallback; ForceSendAfter defaults to 10s.
	ForceSend      bool
	ForceSendAfter time.Duration

	// Timeout bounds the whole run; defaults to 30 minutes.
	Timeout time.Duration

	// OnOutput receives each stdout/stderr line as it streams.
	OnOutput func(line string)
}

// Run executes the tool to completion. The confirmation token is sent at
// most once regardless of how many prompt lines appear.
func (p *PromptedTool) Run(ctx context.Context) error {
	words, err := shellquote.Split(p.Command)
	if err != nil {
		return errors.Wrapf(err, "parse command %q", p.Command)
	}
	if len(words) == 0 {
		return errors.New("empty command")
	}
	if _, err := exec.LookPath(words[0]); err != nil {
		return &ErrToolMissing{Tool: words[0]}
	}

	timeout := p.Timeout
	if timeout == 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, words[0], words[1:]...)
	if len(p.Env) > 0 {
		cmd.Env = append(cmd.Environ(), p.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %q", words[0])
	}

	var sendOnce sync.Once
	send := func(trigger string) {
		sendOnce.Do(func() {
			p.lg.Info("sending confirmation to external tool",
				zap.String("tool", words[0]),
				zap.String("trigger", trigger),
			)
			io.WriteString(stdin, p.ConfirmToken+"\n")
		})
	}

	if p.ForceSend {
		after := p.ForceSendAfter
		if after == 0 {
			after = 10 * time.Second
		}
		timer := time.AfterFunc(after, func() { send("force-send-timer") })
		defer timer.Stop()
	}

	patterns := p.Patterns
	if len(patterns) == 0 {
		patterns = ConfirmPatterns
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if p.OnOutput != nil {
			p.OnOutput(line)
		}
		for _, pattern := range patterns {
			if pattern.MatchString(line) {
				send(strings.TrimSpace(line))
				break
			}
		}
	}

	err = cmd.Wait()
	stdin.Close()
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrapf(context.DeadlineExceeded, "%q exceeded %s", words[0], timeout)
	}
	return errors.Wrapf(err, "run %q", p.Command)
}
