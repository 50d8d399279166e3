// Package deployment provides pure functions for planning a Compose run.
//
// This package contains the functional core logic for transforming a decoded
// compose.Document into runtime invocations. Everything here is deterministic
// and free of process-level side effects; the only host interaction is the
// injected HostFS used to prepare mount directories.
//
// # Functions
//
//   - Ordering: Resolve the dependency graph and selective subsets (ResolveGraph, Graph.Select)
//   - Variables: Layer environments and interpolate templates (MergeEnvironment, Interpolate)
//   - Naming: Container identities, project names, volume paths (ContainerName, DeriveProjectName)
//   - Container: Synthesize launch instructions (BuildRunSpec, MapRestartPolicy)
//   - Resources: Network and volume provisioning plans (PlanNetworks, PlanVolumes)
//   - Phases: The driver's state machine (Phase, CanTransition)
//
// # Usage
//
// The imperative shell (internal/shell/docker) uses these pure functions
// to plan a run, then executes the plans through a runtime client.
//
//	graph, err := deployment.ResolveGraph(doc.Services)
//	env, err := deployment.ResolveServiceEnvironment(name, svc, envFiles, project)
//	spec, warnings, err := deployment.BuildRunSpec(params)
package deployment
