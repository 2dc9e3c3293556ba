package pipeline

import (
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes pipeline steps by invoking an external
// command. The template is split on whitespace; the placeholders
// {step}, {input} and {output} are substituted in each argument.
type CommandRunner struct {
	Template string
}

func (r CommandRunner) RunStep(step Step, input, output string) error {
	fields := strings.Fields(r.Template)
	if len(fields) == 0 {
		return &PipelineError{Type: InvalidDefinition, Message: "empty step command template"}
	}
	args := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, "{step}", step.Name)
		f = strings.ReplaceAll(f, "{input}", input)
		f = strings.ReplaceAll(f, "{output}", output)
		args[i] = f
	}
	cmd := exec.Command(args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}
