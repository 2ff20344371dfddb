package engine

import (
	"context"
	"time"
)

// Evaluator parses and validates CUE configurations and runs Starlark
// hooks over them. pkg/config's CUEParser implements this.
type Evaluator interface {
	// Evaluate parses CUE configuration files and returns the parsed configuration.
	Evaluate(ctx context.Context, sources []string) (*Config, error)

	// Validate validates a configuration against schemas and policies.
	Validate(ctx context.Context, config *Config) error

	// EvaluateStarlark executes Starlark scripts for procedural logic.
	EvaluateStarlark(ctx context.Context, script string, input map[string]interface{}) (map[string]interface{}, error)

	// MergeConfigs merges multiple configurations into a single configuration.
	MergeConfigs(ctx context.Context, configs []*Config) (*Config, error)
}

// TargetInfo contains information about a target system, used as the
// policy input's notion of what a plan or resource applies to.
type TargetInfo struct {
	// ID is the unique identifier of the target.
	ID string `json:"id"`

	// Type is the target type (e.g., "ssh", "local", "winrm").
	Type string `json:"type"`

	// Hostname is the target hostname or IP address.
	Hostname string `json:"hostname,omitempty"`

	// Labels are key-value pairs for organizing targets.
	Labels map[string]string `json:"labels,omitempty"`

	// Metadata contains additional target metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed indicates if the operation is allowed.
	Allowed bool `json:"allowed"`

	// Violations lists policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists policy warnings.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the policy name that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity (error, warning).
	Severity string `json:"severity"`

	// ResourceID is the resource that violated the policy, if applicable.
	ResourceID string `json:"resource_id,omitempty"`
}
