package events

import (
	"time"

	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
)

// SocketBroadcaster is the Broadcaster implementation wired over
// zishang520/socket.io, funneling every event name through a single
// typed entry point rather than ad-hoc `s.io.Emit(name, payload)` calls.
type SocketBroadcaster struct {
	io *socket.Server
}

// NewSocketServer builds the underlying Socket.IO server (CORS wide open
// for the browser UI, Engine.IO v3 compatibility for older clients).
func NewSocketServer() *socket.Server {
	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{Origin: "*", Credentials: true})
	opts.SetAllowEIO3(true)
	return socket.NewServer(nil, opts)
}

// NewSocketBroadcaster wraps an existing Socket.IO server.
func NewSocketBroadcaster(io *socket.Server) *SocketBroadcaster {
	return &SocketBroadcaster{io: io}
}

// Publish emits a known event type wrapped in the required
// type/timestamp envelope: every message carries its type and an
// ISO-8601 timestamp.
func (b *SocketBroadcaster) Publish(typ Type, data interface{}) {
	b.emit(typ, data)
}

// Broadcast is the generic escape hatch for event types that don't have a
// dedicated typed payload struct.
func (b *SocketBroadcaster) Broadcast(typ Type, data interface{}) {
	b.emit(typ, data)
}

func (b *SocketBroadcaster) emit(typ Type, data interface{}) {
	if b == nil || b.io == nil {
		return
	}
	env := Envelope{Type: typ, Timestamp: time.Now(), Data: data}
	b.io.Emit(string(typ), env)
}

var _ Broadcaster = (*SocketBroadcaster)(nil)
