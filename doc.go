// Package gateway provides a policy-mediated MCP tool-call gateway.
//
// The gateway sits between an AI agent and the containers that execute
// tool calls. The agent speaks JSON-RPC 2.0 (the MCP methods initialize,
// tools/list, and tools/call) over HTTP or WebSocket; every tools/call
// is checked against an external policy engine before anything runs.
//
// Approved calls follow a claim-check flow: the full request body is
// parked in an in-memory context store and only the request id crosses
// the RabbitMQ work queue. The Executor dereferences the id exactly once
// via GET /context/{requestID}, runs the tool, and reports the outcome
// to POST /callback, which wakes the agent's blocked tools/call.
//
// Start the server:
//
//	gateway serve --config services.yaml
//
// The packages under pkg/ compose the pipeline:
//
//	pkg/router       tool name resolution and enablement
//	pkg/policy       policy engine client
//	pkg/contextstore claim-check store with TTL sweep
//	pkg/queue        RabbitMQ publisher
//	pkg/rendezvous   sync-over-async callback matching
//	pkg/mediator     the tools/call orchestration
//	pkg/server       HTTP and WebSocket surfaces
package gateway
