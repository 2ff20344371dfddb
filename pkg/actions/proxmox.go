package actions

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/openfroyo/pkg/orcherr"
	froyossh "github.com/openfroyo/openfroyo/pkg/transports/ssh"
)

// pollInterval is the suspension-point polling period mandated by §5 for
// wait Actions (guidance: 2-5 seconds).
const pollInterval = 3 * time.Second

// ProxmoxOps is the reference implementation of every C1 capability,
// driving a Proxmox VE hypervisor over SSH with qm(1)/pvesh(1). It
// satisfies Provisioner, Reacher, Configurer, HypervisorOps and Delegator,
// so a Registry can be built directly from one value.
type ProxmoxOps struct{}

// ProvisionInfrastructure runs `qm clone`/`qm set` for each declared
// resource against the hypervisor at host.Address, per §4.1. It first
// checks whether a VM with the declared VMID already exists (idempotence:
// re-invocation with the same inputs is a no-op returning the same
// context additions).
func (ProxmoxOps) ProvisionInfrastructure(ctx context.Context, host Host, declared []ResourceDecl) (Result, error) {
	client, err := dial(ctx, host, host.InfraUser)
	if err != nil {
		return Fail(orcherr.KindNotReady, "connecting to hypervisor: "+err.Error()), nil
	}
	defer client.Disconnect()

	additions := map[string]string{}
	for _, d := range declared {
		exists, err := vmExists(ctx, client, d.VMID)
		if err != nil {
			return Fail(orcherr.KindRemoteFailure, err.Error()), nil
		}
		if !exists {
			cmd := fmt.Sprintf("qm clone %d %d --name %s --full", templateVMID(d.Image), d.VMID, d.Name)
			if _, _, err := client.ExecuteCommand(ctx, cmd); err != nil {
				return Fail(orcherr.KindRemoteFailure, "cloning resource: "+err.Error()), nil
			}
			if d.Disk != "" {
				resizeCmd := fmt.Sprintf("qm resize %d scsi0 %s", d.VMID, d.Disk)
				if _, _, err := client.ExecuteCommand(ctx, resizeCmd); err != nil {
					return Fail(orcherr.KindRemoteFailure, "resizing disk: "+err.Error()), nil
				}
			}
			if d.CloudInitUserData != "" {
				if err := attachCloudInit(ctx, client, d.VMID, d.CloudInitUserData); err != nil {
					return Fail(orcherr.KindRemoteFailure, "attaching cloud-init user-data: "+err.Error()), nil
				}
			}
		}
		additions[d.Name+"_id"] = strconv.Itoa(d.VMID)
	}
	return Ok("infrastructure provisioned", additions), nil
}

// StartResource runs `qm start` and polls `qm status` until the resource
// reports running.
func (ProxmoxOps) StartResource(ctx context.Context, host Host, id string) (Result, error) {
	client, err := dial(ctx, host, host.InfraUser)
	if err != nil {
		return Fail(orcherr.KindNotReady, "connecting to hypervisor: "+err.Error()), nil
	}
	defer client.Disconnect()

	if _, _, err := client.ExecuteCommand(ctx, fmt.Sprintf("qm start %s", id)); err != nil {
		return Fail(orcherr.KindRemoteFailure, "starting resource: "+err.Error()), nil
	}

	for {
		stdout, _, err := client.ExecuteCommand(ctx, fmt.Sprintf("qm status %s", id))
		if err == nil && strings.Contains(stdout, "running") {
			return Ok("resource running", nil), nil
		}
		select {
		case <-ctx.Done():
			return Fail(orcherr.KindCancelled, "cancelled waiting for resource to start"), nil
		case <-time.After(pollInterval):
		}
	}
}

// AwaitAddress polls the hypervisor's guest agent for a reachable address
// until timeout, returning not-ready on expiry per §4.1.
func (ProxmoxOps) AwaitAddress(ctx context.Context, host Host, id string, timeout time.Duration) (Result, error) {
	client, err := dial(ctx, host, host.InfraUser)
	if err != nil {
		return Fail(orcherr.KindNotReady, "connecting to hypervisor: "+err.Error()), nil
	}
	defer client.Disconnect()

	deadline := time.Now().Add(timeout)
	for {
		addr, ok := queryGuestAddress(ctx, client, id)
		if ok {
			return Ok("address published", map[string]string{"address": addr}), nil
		}
		if time.Now().After(deadline) {
			return Fail(orcherr.KindNotReady, "timed out waiting for a published address"), nil
		}
		select {
		case <-ctx.Done():
			return Fail(orcherr.KindCancelled, "cancelled waiting for address"), nil
		case <-time.After(pollInterval):
		}
	}
}

// DestroyResource best-effort removes a resource: success if already
// absent, per §4.1's idempotence contract.
func (ProxmoxOps) DestroyResource(ctx context.Context, host Host, idOrPattern string) (Result, error) {
	client, err := dial(ctx, host, host.InfraUser)
	if err != nil {
		return Fail(orcherr.KindNotReady, "connecting to hypervisor: "+err.Error()), nil
	}
	defer client.Disconnect()

	if id, err := strconv.Atoi(idOrPattern); err == nil {
		exists, existsErr := vmExists(ctx, client, id)
		if existsErr != nil {
			return Fail(orcherr.KindRemoteFailure, existsErr.Error()), nil
		}
		if !exists {
			return Ok("resource already absent", nil), nil
		}
		_, _, _ = client.ExecuteCommand(ctx, fmt.Sprintf("qm stop %d --skiplock", id))
		if _, _, err := client.ExecuteCommand(ctx, fmt.Sprintf("qm destroy %d --purge", id)); err != nil {
			return Fail(orcherr.KindRemoteFailure, "destroying resource: "+err.Error()), nil
		}
		return Ok("resource destroyed", nil), nil
	}

	if _, _, err := client.ExecuteCommand(ctx, fmt.Sprintf("qm destroy $(qm list | awk '/%s/{print $1}') --purge", idOrPattern)); err != nil {
		return Fail(orcherr.KindRemoteFailure, "destroying resource by pattern: "+err.Error()), nil
	}
	return Ok("resource destroyed", nil), nil
}

// AwaitReachable blocks until a trivial command succeeds over the
// interactive channel, per §4.1.
func (ProxmoxOps) AwaitReachable(ctx context.Context, target Host, timeout time.Duration) (Result, error) {
	deadline := time.Now().Add(timeout)
	for {
		client, err := dial(ctx, target, target.AutomationUser)
		if err == nil {
			_, _, execErr := client.ExecuteCommand(ctx, "true")
			client.Disconnect()
			if execErr == nil {
				return Ok("target reachable", nil), nil
			}
		}
		if time.Now().After(deadline) {
			return Fail(orcherr.KindNotReady, "timed out waiting for reachability"), nil
		}
		select {
		case <-ctx.Done():
			return Fail(orcherr.KindCancelled, "cancelled waiting for reachability"), nil
		case <-time.After(pollInterval):
		}
	}
}

// AwaitFile polls for file existence on the remote host, used by pull-mode
// completion detection per §4.1/§4.7.
func (ProxmoxOps) AwaitFile(ctx context.Context, target Host, path string, timeout time.Duration) (Result, error) {
	client, err := dial(ctx, target, target.AutomationUser)
	if err != nil {
		return Fail(orcherr.KindNotReady, "connecting to target: "+err.Error()), nil
	}
	defer client.Disconnect()

	deadline := time.Now().Add(timeout)
	for {
		_, _, err := client.ExecuteCommand(ctx, fmt.Sprintf("test -f %s", path))
		if err == nil {
			return Ok("completion marker present", nil), nil
		}
		if time.Now().After(deadline) {
			return Fail(orcherr.KindNotReady, "timed out waiting for completion marker"), nil
		}
		select {
		case <-ctx.Done():
			return Fail(orcherr.KindCancelled, "cancelled waiting for completion marker"), nil
		case <-time.After(pollInterval):
		}
	}
}

// IssueHypervisorCredential creates a scoped Proxmox API token,
// check-first-then-create for idempotence.
func (ProxmoxOps) IssueHypervisorCredential(ctx context.Context, target Host, role, identifier string) (Result, error) {
	client, err := dial(ctx, target, target.InfraUser)
	if err != nil {
		return Fail(orcherr.KindNotReady, "connecting to hypervisor: "+err.Error()), nil
	}
	defer client.Disconnect()

	checkCmd := fmt.Sprintf("pvesh get /access/users/%s/token/%s --output-format json", target.InfraUser, identifier)
	if stdout, _, err := client.ExecuteCommand(ctx, checkCmd); err == nil && strings.Contains(stdout, identifier) {
		return Ok("credential already present", map[string]string{"credential_id": identifier}), nil
	}

	createCmd := fmt.Sprintf("pvesh create /access/users/%s/token/%s --privsep 1 --output-format json", target.InfraUser, identifier)
	stdout, _, err := client.ExecuteCommand(ctx, createCmd)
	if err != nil {
		return Fail(orcherr.KindRemoteFailure, "issuing credential: "+err.Error()), nil
	}
	_ = role
	return Ok("credential issued", map[string]string{"credential_id": identifier, "credential_token": extractToken(stdout)}), nil
}

// EnsureImageArtifact ensures the named boot image exists in the
// hypervisor's local store, reassembling split-file artifacts when needed
// (§6).
func (ProxmoxOps) EnsureImageArtifact(ctx context.Context, target Host, imageName string) (Result, error) {
	client, err := dial(ctx, target, target.InfraUser)
	if err != nil {
		return Fail(orcherr.KindNotReady, "connecting to hypervisor: "+err.Error()), nil
	}
	defer client.Disconnect()

	storePath := fmt.Sprintf("/var/lib/vz/template/iso/%s.img", imageName)
	if _, _, err := client.ExecuteCommand(ctx, fmt.Sprintf("test -f %s", storePath)); err == nil {
		return Ok("image artifact present", nil), nil
	}

	partsCmd := fmt.Sprintf("ls %s.part* 2>/dev/null | sort", storePath)
	parts, _, _ := client.ExecuteCommand(ctx, partsCmd)
	if strings.TrimSpace(parts) == "" {
		return Fail(orcherr.KindNotFound, fmt.Sprintf("boot artifact %s not found on hypervisor", imageName)), nil
	}

	reassembleCmd := fmt.Sprintf("cat %s.part* > %s && rm -f %s.part*", storePath, storePath, storePath)
	if _, _, err := client.ExecuteCommand(ctx, reassembleCmd); err != nil {
		return Fail(orcherr.KindRemoteFailure, "reassembling split image: "+err.Error()), nil
	}
	return Ok("image artifact reassembled", nil), nil
}

func vmExists(ctx context.Context, client *froyossh.SSHClient, id int) (bool, error) {
	_, _, err := client.ExecuteCommand(ctx, fmt.Sprintf("qm status %d", id))
	if err != nil {
		if strings.Contains(err.Error(), "exist") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func queryGuestAddress(ctx context.Context, client *froyossh.SSHClient, id string) (string, bool) {
	stdout, _, err := client.ExecuteCommand(ctx, fmt.Sprintf("qm guest cmd %s network-get-interfaces", id))
	if err != nil {
		return "", false
	}
	addr := extractFirstNonLoopbackIP(stdout)
	return addr, addr != ""
}

func extractFirstNonLoopbackIP(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "\"ip-address\"") && !strings.Contains(line, "127.0.0.1") {
			fields := strings.SplitN(line, ":", 2)
			if len(fields) == 2 {
				return strings.Trim(strings.TrimSpace(fields[1]), "\", ")
			}
		}
	}
	return ""
}

func extractToken(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		if strings.Contains(line, "value") {
			fields := strings.SplitN(line, ":", 2)
			if len(fields) == 2 {
				return strings.Trim(strings.TrimSpace(fields[1]), "\", ")
			}
		}
	}
	return ""
}

// templateVMID resolves a named image to the VMID of its Proxmox template:
// a 31-multiplier hash of the image name, taken modulo 9999 and added to
// 90000, so every template VMID falls in 90000..99998.
func templateVMID(image string) int {
	h := 0
	for _, c := range image {
		h = h*31 + int(c)
	}
	if h < 0 {
		h = -h
	}
	return 90000 + h%9999
}

// cloudInitSnippetStorage names the Proxmox storage ID that must have the
// "snippets" content type enabled, by convention "local".
const cloudInitSnippetStorage = "local"

// attachCloudInit writes userData to the hypervisor's snippet directory
// and points the cloned VM's cicustom user-data at it, so the guest has
// its provisioning token and spec-server address available at first boot
// without the node executor ever opening a connection to the guest
// itself. Content travels base64-encoded over the command line to avoid
// any quoting interaction with the YAML payload.
func attachCloudInit(ctx context.Context, client *froyossh.SSHClient, vmid int, userData string) error {
	snippetPath := fmt.Sprintf("/var/lib/vz/snippets/froyo-%d-user.yaml", vmid)
	encoded := base64.StdEncoding.EncodeToString([]byte(userData))
	writeCmd := fmt.Sprintf("echo %s | base64 -d > %s", encoded, snippetPath)
	if _, _, err := client.ExecuteCommand(ctx, writeCmd); err != nil {
		return fmt.Errorf("writing snippet: %w", err)
	}

	setCmd := fmt.Sprintf("qm set %d --cicustom user=%s:snippets/froyo-%d-user.yaml", vmid, cloudInitSnippetStorage, vmid)
	if _, _, err := client.ExecuteCommand(ctx, setCmd); err != nil {
		return fmt.Errorf("setting cicustom: %w", err)
	}
	return nil
}
