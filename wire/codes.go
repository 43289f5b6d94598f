package wire

// Command identifies the kind of request/event carried in a dispatch
// frame.
type Command int32

const (
	CmdQuery                    Command = 50
	CmdDisposeResult            Command = 55
	CmdResultSection            Command = 60
	CmdStreamableObjectSection  Command = 61
	CmdDisposeStreamableObject  Command = 62
	CmdPushStreamableObjectPart Command = 63
	CmdPing                     Command = 65
	CmdClose                    Command = 70
	CmdDatabaseEvent            Command = 75
	CmdServerRequest            Command = 80
)

// Status is the response status code — the first int32 of a response
// body after the dispatch id.
type Status int32

const (
	StatusAcknowledgement       Status = 5
	StatusUserAuthPassed        Status = 10
	StatusUserAuthFailed        Status = 15
	StatusSuccess               Status = 20
	StatusException             Status = 30
	StatusAuthenticationError   Status = 35
)

// StatusFailed is any nonzero, non-SUCCESS status in a disposal reply.
func StatusFailed(s Status) bool { return s != StatusSuccess }

// EventType tags the body of an asynchronous (dispatchId == -1) frame.
// The reference protocol does not define this explicitly; this driver
// reuses the command codes PING and DATABASE_EVENT as event-type tags
// for the async channel, since both are documented as server-originated
// with no reply.
type EventType int32

const (
	EventPing     EventType = EventType(CmdPing)
	EventDatabase EventType = EventType(CmdDatabaseEvent)
)

// AsyncDispatchID is the reserved dispatch id meaning "server-initiated
// event, no reply expected".
const AsyncDispatchID int64 = -1

// HandshakeMagic is the magic number the client sends as the first word
// of the handshake frame.
const HandshakeMagic int32 = 0x0CED007

// Driver protocol version advertised during the handshake.
const (
	DriverMajor int32 = 1
	DriverMinor int32 = 0
)

// HandshakeACK is the fixed first word of the server's handshake reply.
const HandshakeACK int32 = 5

// Nominal chunk size for streamable-object upload/download pages.
const StreamChunkSize = 64 * 1024
