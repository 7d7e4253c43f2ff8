package health

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/cuemby/embassyd/pkg/types"
)

// disabledExitCode is the sentinel a package's health-check script
// exits with to mean "I deliberately have nothing to report right
// now", distinct from a genuine failure.
const disabledExitCode = 59

// RunPackageCheck executes a package's declared health-check command
// and classifies its result into the tri-state outcome the supervisor's
// health loop consumes: success, failure with the captured stderr, or
// disabled.
func RunPackageCheck(ctx context.Context, command []string) types.HealthCheckResult {
	now := time.Now()
	if len(command) == 0 {
		return types.HealthCheckResult{
			Time:   now,
			Result: types.HealthCheckOutcome{Kind: types.HealthDisabled},
		}
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return types.HealthCheckResult{Time: now, Result: types.HealthCheckOutcome{Kind: types.HealthSuccess}}
	}

	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == disabledExitCode {
		return types.HealthCheckResult{Time: now, Result: types.HealthCheckOutcome{Kind: types.HealthDisabled}}
	}

	msg := err.Error()
	if stderr.Len() > 0 {
		msg = stderr.String()
	}
	return types.HealthCheckResult{
		Time:   now,
		Result: types.HealthCheckOutcome{Kind: types.HealthFailure, Error: msg},
	}
}
