package orchestrator

import "fmt"

// buildCloudInitUserData renders the #cloud-config document attached to a
// pull-mode node's clone, per §4.7. It writes the node's provisioning
// token, spec identity, and spec-server address to a well-known env file
// and enables the agent unit that reads it; the template image is expected
// to ship that unit (froyo-agent.service) pre-installed, since cloud-init
// has no reliable way to deliver the agent binary itself.
func buildCloudInitUserData(identity, spec, token, serverAddr string) string {
	return fmt.Sprintf(`#cloud-config
write_files:
  - path: /etc/froyo/agent.env
    permissions: '0600'
    owner: root:root
    content: |
      FROYO_IDENTITY=%s
      FROYO_SPEC=%s
      FROYO_TOKEN=%s
      FROYO_SPEC_SERVER=%s
runcmd:
  - systemctl enable --now froyo-agent.service
`, identity, spec, token, serverAddr)
}
