// Package loginflow models supervised asynchronous task execution with
// multi-channel state observation.
//
// A caller triggers a long-running login; the operation runs as a child task
// under a supervising parent; parent and child may independently fail, be
// cancelled, or complete; and every transition is broadcast to several
// observers, each with its own delivery contract.
//
// The root package holds the leaf types shared by every layer: the immutable
// State snapshot and the error taxonomy.
//
// # Package Organization
//
//	github.com/dmitrymomot/loginflow/pkg/async            - Cancellable child tasks, suspension points, dispatchers
//	github.com/dmitrymomot/loginflow/pkg/broadcast        - Conflate, Replay, PassThrough and Rendezvous channels behind one Hub
//	github.com/dmitrymomot/loginflow/core/operation       - Simulated login operation with propagate and local-recovery variants
//	github.com/dmitrymomot/loginflow/core/supervisor      - Parent task: cancellation, wait and failure-handling policies
//	github.com/dmitrymomot/loginflow/app/login            - Login entry point exposing all observer channels
//	github.com/dmitrymomot/loginflow/core/config          - Type-safe environment variable loading
//	github.com/dmitrymomot/loginflow/core/logger          - Structured logging built on slog
//	github.com/dmitrymomot/loginflow/core/metrics         - Prometheus collectors
//	github.com/dmitrymomot/loginflow/core/health          - HTTP health handlers
//	github.com/dmitrymomot/loginflow/core/server          - HTTP server with graceful shutdown
//	github.com/dmitrymomot/loginflow/core/response        - JSON responses and HTTP errors
//	github.com/dmitrymomot/loginflow/integration/redis    - Redis connection and snapshot mirror
//	github.com/dmitrymomot/loginflow/integration/websocket - Websocket snapshot observer
//	github.com/dmitrymomot/loginflow/cmd/loginflow        - run and serve commands
//
// # Snapshots
//
// State values are copied on every transition:
//
//	s := loginflow.Initial().Called()
//	s = s.Running()
//	s = s.Completed(true)
//	s = s.Finished(true)
//
// A snapshot never has IsError together with IsSuccess or IsLoggedIn; Valid
// reports this.
//
// # Errors
//
// Three categories are distinguished:
//
//   - CancellationSignal: cooperative halt request, never a failure
//   - OperationFailure: ordinary failure inside the operation body
//   - UnhandledFailure: an OperationFailure no boundary caught
//
// Category and Message derive the text used in error snapshots:
//
//	loginflow.Category(loginflow.Cancellation(loginflow.CancelRequested, nil)) // "CancelRequested"
package loginflow
