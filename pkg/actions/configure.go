package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/openfroyo/pkg/orcherr"
	"github.com/openfroyo/openfroyo/pkg/streamer"
)

// RunConfiguration applies a declarative configuration to a reachable
// target by running the resolved spec as a remote shell script with the
// resolved-variable bundle exported as environment, per §4.1/§6. The
// configuration script is expected to end with the structured-output
// trailer described in §4.6 when it wants to report phase-level detail;
// otherwise the exit code alone determines success.
func (ProxmoxOps) RunConfiguration(ctx context.Context, target Host, spec string, vars map[string]string) (Result, error) {
	client, err := dial(ctx, target, target.AutomationUser)
	if err != nil {
		return Fail(orcherr.KindNotReady, "connecting to target: "+err.Error()), nil
	}
	defer client.Disconnect()

	command := fmt.Sprintf("%s %s", envPrefix(vars), spec)
	result, err := streamer.Run(ctx, client, streamer.Options{Command: command})
	if err != nil {
		return Fail(orcherr.KindOf(err), "running configuration: "+err.Error()), nil
	}
	if result.Trailer != nil && !result.Trailer.Success {
		return Fail(orcherr.KindRemoteFailure, result.Trailer.Error), nil
	}
	if result.Trailer == nil || !result.Trailer.Success {
		if result.ExitCode != 0 {
			return Fail(orcherr.KindRemoteFailure, fmt.Sprintf("configuration exited %d", result.ExitCode)), nil
		}
	}

	additions := map[string]string{}
	if result.Trailer != nil {
		for k, v := range result.Trailer.Context {
			additions[k] = v
		}
	}
	return Ok("configuration applied", additions), nil
}

// envPrefix renders vars as a POSIX shell environment-variable prefix with
// each value Go-quoted, e.g. `FOO="bar" BAZ="qux" `. Pairs come out in map
// iteration order.
func envPrefix(vars map[string]string) string {
	if len(vars) == 0 {
		return ""
	}
	parts := make([]string, 0, len(vars))
	for k, v := range vars {
		parts = append(parts, fmt.Sprintf("%s=%q", k, v))
	}
	return strings.Join(parts, " ") + " "
}
