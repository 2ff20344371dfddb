// Package host sandboxes and runs a node's post_scenario hook (SPEC_FULL.md
// §D.2): a WASM module, selected by the manifest's execution.post_scenario
// field, executed after the node reaches `configured`.
//
// A post_scenario provider is installed as a subdirectory of the configured
// providers directory, holding a manifest.yaml (engine.ProviderManifest) and
// its compiled WASM module. PostScenarioRunner loads it through Registry,
// instantiates it in a wazero runtime via WASMHostProvider, and drives it
// through the same Init/Apply contract pkg/engine.Provider defines for any
// resource provider — the hook's node name and post_scenario_args become its
// Apply desired state.
//
// Because providers are WASM binaries built and shipped independently of
// this module (providers/linux.pkg is one such provider, compiled to its
// own .wasm and never imported by Go code here), the enforcement surface —
// CapabilityEnforcer, WASMBridge's memory marshaling, ManifestLoader's
// checksum verification — exists to contain code this module does not
// control at build time.
package host
