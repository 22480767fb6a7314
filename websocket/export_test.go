package websocket

// This file exports internal functions for the external test package.
// It is only compiled during tests.

import "bufio"

// ReadFrameForTest reads one frame as an endpoint of the given role would.
// Tests use RoleServer to inspect what the client put on the wire.
func ReadFrameForTest(r *bufio.Reader, role Role) (*Frame, error) {
	return readFrame(r, readOptions{role: role})
}

// ComputeAcceptKeyForTest computes Sec-WebSocket-Accept (exported for testing).
func ComputeAcceptKeyForTest(key string) string {
	return computeAcceptKey(key)
}
