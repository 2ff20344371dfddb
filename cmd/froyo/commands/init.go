package commands

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/openfroyo/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"
)

// newInitCommand repurposes the teacher's workspace bootstrap to seed the
// directories and keys an orchestration workspace needs: execution state
// (§4.3), served specs (§4.5), the HMAC provisioning-token signing key
// (§4.4), an audit SQLite database (supplemental to, not a substitute for,
// ExecutionState), and an SSH keypair for the automation user.
func newInitCommand() *cobra.Command {
	var solo bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an orchestration workspace",
		Long: `Initialize a new workspace: execution-state and specs directories, an
audit database, an HMAC provisioning-token signing key, and an SSH keypair
for the automation user.

The --solo flag initializes a standalone workspace using SQLite and local
file storage, suitable for single-operator use.`,
		Example: `  froyo init --solo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			dataDir := defaultDataDir()

			fmt.Printf("Initializing workspace in %s\n\n", dataDir)

			dirs := []string{dataDir, stateDir(), specsDir(), keysDir()}
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("creating directory %s: %w", dir, err)
				}
				fmt.Printf("created directory: %s\n", dir)
			}

			dbPath := filepath.Join(dataDir, "audit.db")
			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("creating audit store: %w", err)
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("initializing audit store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrating audit store: %w", err)
			}
			fmt.Printf("initialized audit database: %s\n", dbPath)

			if err := seedSigningKey(); err != nil {
				return err
			}
			if err := seedAutomationKeypair(); err != nil {
				return err
			}

			log.Info().Str("data_dir", dataDir).Bool("solo", solo).Msg("workspace initialized")
			fmt.Println("\nworkspace initialized; see `froyo apply --help` to run a manifest")
			return nil
		},
	}

	cmd.Flags().BoolVar(&solo, "solo", false, "initialize a standalone, single-operator workspace")
	cmd.MarkFlagRequired("solo")

	return cmd
}

func seedSigningKey() error {
	path := keysDir() + "/provisioning-signing-key"
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("provisioning signing key already exists: %s\n", path)
		return nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating signing key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return fmt.Errorf("writing signing key: %w", err)
	}
	fmt.Printf("generated provisioning-token signing key: %s\n", path)
	return nil
}

func seedAutomationKeypair() error {
	keyPath := filepath.Join(keysDir(), "automation-ed25519")
	if _, err := os.Stat(keyPath); err == nil {
		fmt.Printf("automation SSH keypair already exists: %s\n", keyPath)
		return nil
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating keypair: %w", err)
	}

	privKeyBytes, err := sshpkg.MarshalPrivateKey(privKey, "")
	if err != nil {
		return fmt.Errorf("marshaling private key: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(privKeyBytes), 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	sshPubKey, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("building SSH public key: %w", err)
	}
	if err := os.WriteFile(keyPath+".pub", sshpkg.MarshalAuthorizedKey(sshPubKey), 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	fmt.Printf("generated automation SSH keypair: %s\n", keyPath)
	return nil
}
