package actions

import (
	"context"
	"fmt"

	"github.com/openfroyo/openfroyo/pkg/orcherr"
	"github.com/openfroyo/openfroyo/pkg/streamer"
)

// binaryName is the engine's own executable name, invoked remotely to
// recurse into a delegated subtree (§4.7 step 6).
const binaryName = "froyo"

// DelegateSubtree writes subManifestYAML (canonical YAML, as produced by
// manifest.Marshal) to a file on the target and invokes the engine's own
// binary there with the target verb, that file, and --structured-output,
// per §4.1/§4.6. Context additions are restricted to allowedContextKeys.
func (ProxmoxOps) DelegateSubtree(ctx context.Context, target Host, subManifestYAML []byte, verb string, env map[string]string, allowedContextKeys []string) (Result, error) {
	client, err := dial(ctx, target, target.AutomationUser)
	if err != nil {
		return Fail(orcherr.KindNotReady, "connecting to delegate target: "+err.Error()), nil
	}
	defer client.Disconnect()

	remoteManifestPath := "/tmp/froyo-delegated-manifest.yaml"
	if err := writeRemoteFile(ctx, client, remoteManifestPath, subManifestYAML); err != nil {
		return Fail(orcherr.KindRemoteFailure, "writing delegated manifest: "+err.Error()), nil
	}

	command := fmt.Sprintf("%s%s %s %s --structured-output", envPrefix(env), binaryName, verb, remoteManifestPath)

	result, err := streamer.Run(ctx, client, streamer.Options{
		Command:            command,
		AllowedContextKeys: allowedContextKeys,
	})
	if err != nil {
		return Fail(orcherr.KindOf(err), "delegating subtree: "+err.Error()), nil
	}
	if result.Trailer == nil || !result.Trailer.Success {
		msg := "delegated run reported failure"
		if result.Trailer != nil && result.Trailer.Error != "" {
			msg = result.Trailer.Error
		}
		return Fail(orcherr.KindRemoteFailure, msg), nil
	}

	return Ok("subtree delegated", result.Trailer.Context), nil
}

func writeRemoteFile(ctx context.Context, client interface {
	ExecuteCommand(ctx context.Context, cmd string) (string, string, error)
}, path string, content []byte) error {
	cmd := fmt.Sprintf("cat > %s << 'FROYO_MANIFEST_EOF'\n%s\nFROYO_MANIFEST_EOF", path, content)
	_, _, err := client.ExecuteCommand(ctx, cmd)
	return err
}
