// Package main implements froyo-agent, the pull-mode first-boot runner:
// a small static binary that fetches its node's resolved spec from the
// spec server and applies it locally, then marks itself configured.
// It is installed on the template image and started by cloud-init
// (§4.7, §D) rather than pushed and driven interactively over SSH.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/openfroyo/pkg/micro_runner/handlers"
	"github.com/openfroyo/openfroyo/pkg/micro_runner/protocol"
)

const (
	configuredMarker = "/var/lib/froyo/configured"
	fetchTimeout     = 10 * time.Second
	fetchDeadline    = 10 * time.Minute
	fetchBackoff     = 5 * time.Second
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := run(); err != nil {
		log.Error().Err(err).Msg("provisioning failed")
		os.Exit(1)
	}
}

// agentConfig is read from the environment cloud-init wrote to
// /etc/froyo/agent.env (delivered as a systemd EnvironmentFile), per the
// cloud-init payload built by pkg/orchestrator's buildCloudInitUserData.
type agentConfig struct {
	identity string
	spec     string
	token    string
	server   string
}

func loadConfig() (agentConfig, error) {
	cfg := agentConfig{
		identity: os.Getenv("FROYO_IDENTITY"),
		spec:     os.Getenv("FROYO_SPEC"),
		token:    os.Getenv("FROYO_TOKEN"),
		server:   os.Getenv("FROYO_SPEC_SERVER"),
	}
	switch {
	case cfg.identity == "":
		return cfg, fmt.Errorf("FROYO_IDENTITY is not set")
	case cfg.spec == "":
		return cfg, fmt.Errorf("FROYO_SPEC is not set")
	case cfg.token == "":
		return cfg, fmt.Errorf("FROYO_TOKEN is not set")
	case cfg.server == "":
		return cfg, fmt.Errorf("FROYO_SPEC_SERVER is not set")
	}
	return cfg, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading agent config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchDeadline)
	defer cancel()

	doc, err := fetchSpec(ctx, cfg)
	if err != nil {
		return fmt.Errorf("fetching spec: %w", err)
	}
	log.Info().Str("identity", doc.Identity).Int("steps", len(doc.Steps)).Msg("spec fetched")

	if err := applySteps(ctx, doc.Steps); err != nil {
		return fmt.Errorf("applying spec: %w", err)
	}

	if err := markConfigured(); err != nil {
		return fmt.Errorf("writing completion marker: %w", err)
	}
	log.Info().Str("marker", configuredMarker).Msg("configuration complete")
	return nil
}

// fetchSpec polls the spec server for the node's spec document,
// retrying on transient failures until fetchDeadline: the server may
// still be starting up, or the node may have booted before its DNS/route
// to the operator's machine settled.
func fetchSpec(ctx context.Context, cfg agentConfig) (*protocol.SpecDocument, error) {
	client := &http.Client{
		Timeout: fetchTimeout,
		Transport: &http.Transport{
			// The spec server's certificate is self-signed per-deployment
			// (pkg/specserver/tls.go); the bearer token is the actual
			// authentication boundary here, not the TLS chain.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	url := fmt.Sprintf("https://%s/spec/%s", cfg.server, cfg.identity)

	var lastErr error
	for {
		doc, err := requestSpec(ctx, client, url, cfg.token)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		log.Warn().Err(err).Msg("spec fetch failed, retrying")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("deadline exceeded, last error: %w", lastErr)
		case <-time.After(fetchBackoff):
		}
	}
}

func requestSpec(ctx context.Context, client *http.Client, url, token string) (*protocol.SpecDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spec server returned %s", resp.Status)
	}

	var doc protocol.SpecDocument
	if err := yaml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding spec document: %w", err)
	}
	return &doc, nil
}

// applySteps runs each step's handler in order, stopping at the first
// failure: a pull-mode spec has no rollback semantics of its own, so a
// partial apply is reported as a failed run and left for re-provisioning.
func applySteps(ctx context.Context, steps []protocol.Step) error {
	for _, step := range steps {
		logger := log.With().Str("step", step.ID).Str("type", string(step.Type)).Logger()

		stepCtx := ctx
		var cancel context.CancelFunc
		if step.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.Timeout)*time.Second)
		}

		result, err := applyStep(stepCtx, step)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			logger.Error().Err(err).Msg("step failed")
			return fmt.Errorf("step %s (%s): %w", step.ID, step.Type, err)
		}
		logger.Info().Interface("result", result).Msg("step applied")
	}
	return nil
}

// applyStep dispatches one step to the pkg/micro_runner/handlers handler
// for its type, applied directly rather than framed as a stdio
// command/response pair.
func applyStep(ctx context.Context, step protocol.Step) (json.RawMessage, error) {
	eventCh := make(chan *protocol.EventMessage, 10)
	go func() {
		for evt := range eventCh {
			log.Debug().Str("command_id", evt.CommandID).Str("level", evt.Level).Msg(evt.Message)
		}
	}()
	defer close(eventCh)

	switch step.Type {
	case protocol.CommandTypeExec:
		var params protocol.ExecParams
		if err := protocol.ParseParams(step.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.ExecHandler{}).Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeFileWrite:
		var params protocol.FileWriteParams
		if err := protocol.ParseParams(step.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.FileWriteHandler{}).Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeFileRead:
		var params protocol.FileReadParams
		if err := protocol.ParseParams(step.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.FileReadHandler{}).Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypePkgEnsure:
		var params protocol.PkgEnsureParams
		if err := protocol.ParseParams(step.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.PkgEnsureHandler{}).Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeServiceReload:
		var params protocol.ServiceReloadParams
		if err := protocol.ParseParams(step.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.ServiceReloadHandler{}).Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeSudoersEnsure:
		var params protocol.SudoersEnsureParams
		if err := protocol.ParseParams(step.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.SudoersEnsureHandler{}).Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeSSHDHarden:
		var params protocol.SSHDHardenParams
		if err := protocol.ParseParams(step.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.SSHDHardenHandler{}).Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	default:
		return nil, fmt.Errorf("unsupported step type: %s", step.Type)
	}
}

func markConfigured() error {
	if err := os.MkdirAll("/var/lib/froyo", 0o755); err != nil {
		return err
	}
	return os.WriteFile(configuredMarker, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644)
}
