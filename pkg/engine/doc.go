// Package engine defines the shared vocabulary that pkg/providers/host,
// pkg/config, and pkg/policy build on: the Provider plugin contract, the
// resource/plan/change data model those providers and policies read and
// write, and the capability and error-classification types that gate what
// a WASM-hosted provider may do.
//
// # Provider Interface
//
// Providers implement resource management through the Provider interface:
//
//	type Provider interface {
//	    Init(ctx context.Context, config ProviderConfig) error
//	    Read(ctx context.Context, req ReadRequest) (*ReadResponse, error)
//	    Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error)
//	    Apply(ctx context.Context, req ApplyRequest) (*ApplyResponse, error)
//	    Destroy(ctx context.Context, req DestroyRequest) (*DestroyResponse, error)
//	    Validate(ctx context.Context, config json.RawMessage) error
//	    Schema() (*ProviderSchema, error)
//	    Metadata() ProviderMetadata
//	}
//
// Providers are loaded as WASM modules with declared capabilities and
// schemas; pkg/providers/host is the sandboxed host that runs them.
//
// # Core Domain Types
//
//   - Resource: A managed infrastructure resource with desired and actual state
//   - PlanUnit / Plan: A unit of work and the plan it belongs to
//   - Dependency: An edge between plan units (require/notify/order)
//   - Change: A single field-level difference a provider reports or applies
//   - Config: The resolved form of a CUE configuration, produced by an Evaluator
//
// # Policy Vocabulary
//
// PolicyResult, PolicyViolation, and TargetInfo are the shapes pkg/policy
// evaluates configurations, plans, and resources against.
//
// # Error Classification
//
// Errors are classified for intelligent retry logic:
//
//   - Transient: Temporary failures that may succeed on retry
//   - Throttled: Rate limiting that requires backoff
//   - Conflict: Resource conflicts requiring retry
//   - Permanent: Non-recoverable errors
//
// Use the error helper functions to classify and inspect errors:
//
//	if IsTransient(err) {
//	    // Retry the operation
//	}
package engine
