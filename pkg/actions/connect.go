package actions

import (
	"context"
	"time"

	froyossh "github.com/openfroyo/openfroyo/pkg/transports/ssh"
)

// connectTimeout bounds how long a single SSH dial is allowed to take
// before an Action surfaces not-ready instead of hanging.
const connectTimeout = 15 * time.Second

// dial opens an SSH connection to target using user and the Host's
// CredentialsRef as a private key path, falling back to agent auth when no
// key is configured. Callers are responsible for closing the returned
// client.
func dial(ctx context.Context, target Host, user string) (*froyossh.SSHClient, error) {
	cfg := froyossh.DefaultConfig(target.Address, user)
	cfg.ConnectionTimeout = connectTimeout
	cfg.StrictHostKeyChecking = false

	if target.CredentialsRef != "" {
		cfg.AuthMethod = froyossh.AuthMethodKey
		cfg.PrivateKeyPath = target.CredentialsRef
	} else {
		cfg.AuthMethod = froyossh.AuthMethodAgent
	}

	client, err := froyossh.NewSSHClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}
