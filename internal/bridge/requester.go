package bridge

import "context"

// Requester is the asynchronous request side of the backend bridge. Calls
// return an error only when the request itself is rejected synchronously;
// eventual outcomes arrive on the bus topics in topics.go.
//
// Implementations: comms.Service (serial/TCP device link) and
// simulator.Backend (in-process simulated drone).
type Requester interface {
	InitializeComms(ctx context.Context, cfg CommsConfig) error
	CancelConnection(ctx context.Context) error
	Disconnect(ctx context.Context) error

	SendConfigRequest(ctx context.Context, cfg PingFinderConfig) error
	CancelConfigRequest(ctx context.Context) error

	SendStartRequest(ctx context.Context) error
	CancelStartRequest(ctx context.Context) error

	SendStopRequest(ctx context.Context) error
	CancelStopRequest(ctx context.Context) error
}
