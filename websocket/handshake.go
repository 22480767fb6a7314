package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1" // #nosec G505 - SHA-1 required by RFC 6455 Section 1.3
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Magic GUID from RFC 6455 Section 1.3.
// Used for computing Sec-WebSocket-Accept header.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Extension is a negotiated protocol extension (RFC 6455 Section 9).
//
// This package does not transform payloads itself. An extension claims RSV
// bits; frames carrying those bits are accepted on read and may be written
// with Transmitter.WriteFrame.
type Extension interface {
	// Name returns the extension token, e.g. "permessage-deflate".
	Name() string

	// ReservedBits returns the RSV bits the extension uses on data frames.
	ReservedBits() HeaderFlags
}

// ExtensionProvider negotiates an extension during the opening handshake.
type ExtensionProvider interface {
	// Offer returns the Sec-WebSocket-Extensions request value.
	// An empty string offers nothing.
	Offer() string

	// Accept inspects the server's Sec-WebSocket-Extensions value.
	// It returns a nil Extension when the server accepted none.
	Accept(header string) (Extension, error)
}

// NegotiatedExtension is the immutable extension state shared by both halves
// of a connection. The zero value means no extension.
type NegotiatedExtension struct {
	ext Extension
}

// Extension returns the negotiated extension, if any.
func (n NegotiatedExtension) Extension() (Extension, bool) {
	return n.ext, n.ext != nil
}

// ReservedBits returns the RSV bits claimed by the extension.
func (n NegotiatedExtension) ReservedBits() HeaderFlags {
	if n.ext == nil {
		return 0
	}
	return n.ext.ReservedBits().Rsv()
}

// String returns the extension name, or "none".
func (n NegotiatedExtension) String() string {
	if n.ext == nil {
		return "none"
	}
	return n.ext.Name()
}

// ProtocolRegistry is the ordered list of subprotocols a client offers.
// A nil registry offers none.
type ProtocolRegistry struct {
	protocols []string
}

// NewProtocolRegistry returns a registry offering protocols in order.
func NewProtocolRegistry(protocols ...string) *ProtocolRegistry {
	return &ProtocolRegistry{protocols: append([]string(nil), protocols...)}
}

// Header returns the Sec-WebSocket-Protocol request value.
func (r *ProtocolRegistry) Header() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.protocols, ", ")
}

// Contains reports whether p was offered.
func (r *ProtocolRegistry) Contains(p string) bool {
	if r == nil {
		return false
	}
	for _, proto := range r.protocols {
		if proto == p {
			return true
		}
	}
	return false
}

// negotiate validates the server's selected subprotocol.
//
// RFC 6455 Section 4.1: The client MUST fail the connection if the server
// selects a subprotocol that was not offered.
func (r *ProtocolRegistry) negotiate(selected string) (string, error) {
	selected = strings.TrimSpace(selected)
	if selected == "" {
		return "", nil
	}
	if !r.Contains(selected) {
		return "", &HandshakeError{Reason: fmt.Sprintf("server selected unrequested subprotocol %q", selected)}
	}
	return selected, nil
}

// HandshakeResult is the outcome of a successful opening handshake.
type HandshakeResult struct {
	// Subprotocol is the server-selected subprotocol, empty for none.
	Subprotocol string

	// Extension is the negotiated extension state.
	Extension NegotiatedExtension
}

// ClientHandshake performs the client opening handshake over rw.
//
// Implements RFC 6455 Section 4.1 on top of net/http:
//  1. Send GET with Upgrade, Connection, Sec-WebSocket-Key/Version
//  2. Offer subprotocols and extensions
//  3. Read response, require 101 Switching Protocols
//  4. Check Upgrade/Connection tokens and Sec-WebSocket-Accept
//  5. Validate selected subprotocol and extension
//
// The returned reader holds any frame bytes the server sent right after the
// response and must be used for all further reads.
func ClientHandshake(ctx context.Context, rw io.ReadWriter, req *http.Request,
	ext ExtensionProvider, protocols *ProtocolRegistry,
) (HandshakeResult, *bufio.Reader, error) {
	return clientHandshake(ctx, rw, req, ext, protocols, defaultReadBufferSize)
}

//nolint:gocyclo,cyclop // Handshake requires many validation steps per RFC 6455
func clientHandshake(ctx context.Context, rw io.ReadWriter, req *http.Request,
	ext ExtensionProvider, protocols *ProtocolRegistry, bufSize int,
) (HandshakeResult, *bufio.Reader, error) {
	var result HandshakeResult

	if req == nil || req.URL == nil {
		return result, nil, &HandshakeError{Reason: "missing request URL"}
	}

	key, err := newChallengeKey()
	if err != nil {
		return result, nil, &HandshakeError{Reason: "generate key", Err: err}
	}

	req = req.Clone(ctx)
	req.Method = http.MethodGet
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")
	if offer := protocols.Header(); offer != "" {
		req.Header.Set("Sec-WebSocket-Protocol", offer)
	}
	if ext != nil {
		if offer := ext.Offer(); offer != "" {
			req.Header.Set("Sec-WebSocket-Extensions", offer)
		}
	}

	// net/http only writes http and https request lines.
	switch req.URL.Scheme {
	case "ws":
		req.URL.Scheme = "http"
	case "wss":
		req.URL.Scheme = "https"
	}

	stop := watchContext(ctx, rw)
	defer stop()

	if err := req.Write(rw); err != nil {
		return result, nil, &HandshakeError{Reason: "write request", Err: contextCause(ctx, err)}
	}

	br := bufio.NewReaderSize(rw, bufSize)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return result, nil, &HandshakeError{Reason: "read response", Err: contextCause(ctx, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		return result, nil, &HandshakeError{Reason: fmt.Sprintf("bad status %d, expect 101", resp.StatusCode)}
	}

	if !headerContainsToken(resp.Header.Get("Upgrade"), "websocket") {
		return result, nil, &HandshakeError{Reason: "missing or invalid Upgrade header"}
	}

	if !headerContainsToken(resp.Header.Get("Connection"), "upgrade") {
		return result, nil, &HandshakeError{Reason: "missing or invalid Connection header"}
	}

	if resp.Header.Get("Sec-WebSocket-Accept") != computeAcceptKey(key) {
		return result, nil, &HandshakeError{Reason: "bad Sec-WebSocket-Accept"}
	}

	result.Subprotocol, err = protocols.negotiate(resp.Header.Get("Sec-WebSocket-Protocol"))
	if err != nil {
		return result, nil, err
	}

	extHeader := resp.Header.Get("Sec-WebSocket-Extensions")
	switch {
	case ext != nil:
		accepted, err := ext.Accept(extHeader)
		if err != nil {
			return result, nil, &HandshakeError{Reason: "extension rejected", Err: err}
		}
		result.Extension = NegotiatedExtension{ext: accepted}
	case extHeader != "":
		// RFC 6455 Section 4.1: extensions not requested fail the connection.
		return result, nil, &HandshakeError{Reason: fmt.Sprintf("server selected unrequested extension %q", extHeader)}
	}

	return result, br, nil
}

// newChallengeKey returns a random base64 Sec-WebSocket-Key.
// RFC 6455 Section 4.1: 16 random bytes, base64-encoded.
func newChallengeKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// computeAcceptKey computes Sec-WebSocket-Accept from client key.
//
// RFC 6455 Section 1.3:
//
//	Sec-WebSocket-Accept = base64(SHA-1(key + GUID))
//
// Example:
//
//	key := "dGhlIHNhbXBsZSBub25jZQ=="
//	accept := computeAcceptKey(key)
//	// accept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
func computeAcceptKey(key string) string {
	// #nosec G401 - SHA-1 required by RFC 6455 Section 1.3 (not for cryptographic security)
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// headerContainsToken checks if header value contains token (case-insensitive).
//
// RFC 6455 Section 4.2.1: Header tokens are case-insensitive.
//
// Example:
//
//	headerContainsToken("Upgrade, HTTP/2.0", "upgrade") // true
//	headerContainsToken("keep-alive", "upgrade")        // false
func headerContainsToken(header, token string) bool {
	for _, h := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(h), token) {
			return true
		}
	}
	return false
}

// deadliner is implemented by net.Conn and by pipes that support deadlines.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// watchContext interrupts blocked I/O on rw when ctx is done.
// The returned func stops watching and clears the deadline.
func watchContext(ctx context.Context, rw any) func() {
	d, ok := rw.(deadliner)
	if !ok {
		return func() {}
	}

	return watchDeadline(ctx, d.SetDeadline)
}

// watchDeadline calls set with a past deadline once ctx is done, so an
// interrupted call always finds ctx.Err set. The returned func stops
// watching, waits for a callback already under way, then clears the
// deadline.
func watchDeadline(ctx context.Context, set func(time.Time) error) func() {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = set(time.Unix(1, 0))
	})

	return func() {
		if !stop() {
			<-fired
		}
		_ = set(time.Time{})
	}
}

// contextCause prefers the context error over the I/O error it provoked.
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%w)", ctxErr, err)
	}
	return err
}
