package dependency

import "context"

// DependencyExecutor executes external commands in one of the execution modes.
//
// Implementations:
//   - LocalExecutor: runs the binary on this host in its own process group
//   - RemoteExecutor: posts the request to the dependency service, behind a circuit breaker
//   - FallbackExecutor: tries remote first, falls back to local on network failure
type DependencyExecutor interface {
	// ExecuteCommand executes a command with the given request. Cancelling ctx
	// terminates the command promptly.
	ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error)

	// HealthCheck verifies that the executor is ready to handle requests.
	HealthCheck(ctx context.Context) error
}
