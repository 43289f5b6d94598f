package ponyserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/ponysql/ponysql-go/wire"
)

// Credentials the stub server accepts. A zero value (unset Schema,
// User, Password) means "the stub server is unsecured": any username
// and password is accepted, matching a local development embedded
// server rather than a production deployment.
type Credentials struct {
	Schema   string
	User     string
	Password string
}

// Server is the stub's process-wide state: its table catalog and the
// set of currently-connected sessions, used to fan DATABASE_EVENT
// frames out to every connection exactly as a real trigger-capable
// server would.
type Server struct {
	catalog                    *Catalog
	creds                      Credentials
	caseInsensitiveIdentifiers bool

	mu       sync.Mutex
	sessions map[*serverConn]struct{}
	listener net.Listener
}

// New creates a Server with an empty catalog. Callers populate it via
// Catalog().CreateTable before accepting connections.
func New(creds Credentials) *Server {
	return &Server{
		catalog:                    NewCatalog(),
		creds:                      creds,
		caseInsensitiveIdentifiers: true,
		sessions:                   make(map[*serverConn]struct{}),
	}
}

// Catalog returns the server's table catalog, for test/demo fixture
// setup before (or after) connections are accepted.
func (s *Server) Catalog() *Catalog { return s.catalog }

// authenticate reports whether schema/user/password satisfy s.creds. A
// zero Credentials accepts anything.
func (s *Server) authenticate(schema, user, password string) bool {
	if s.creds == (Credentials{}) {
		return true
	}
	return schema == s.creds.Schema && user == s.creds.User && password == s.creds.Password
}

// ListenAndServe accepts TCP connections on addr until ctx is canceled,
// running one goroutine per connection. Grounded on the teacher's
// daemon accept loop (cmd/sql-tapd/main.go: net.ListenConfig, a
// signal.NotifyContext-canceled ctx, log.Printf status lines).
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("ponyserver: listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	log.Printf("ponyserver: listening on %s", addr)
	for {
		netConn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ponyserver: accept: %w", err)
		}
		go s.serve(wire.NewTCPTransport(netConn))
	}
}

// ServeEmbedded wires up an in-memory pipe transport pair: the server
// half is driven on a new goroutine (the jdbc:pony:local:// realisation,
// spec §4.2(b)), and the client half is returned for conn.New.
func (s *Server) ServeEmbedded() wire.Transport {
	client, server := wire.NewPipeTransportPair()
	go s.serve(server)
	return client
}

// Publish fires a DATABASE_EVENT frame carrying "<triggerName> <source>
// <fireCount>" to every currently-connected session. Subscription
// filtering by trigger name happens client-side (package trigger); the
// server side has no notion of which client subscribed to what.
func (s *Server) Publish(triggerName, source string, fireCount int64) {
	payload := appendEventPayload(nil, wire.EventDatabase, fmt.Sprintf("%s %s %d", triggerName, source, fireCount))

	s.mu.Lock()
	targets := make([]*serverConn, 0, len(s.sessions))
	for c := range s.sessions {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.sendAsync(payload)
	}
}

// Close stops accepting new connections. In-flight sessions are left
// to terminate on their own as their transports close.
func (s *Server) Close() error {
	s.mu.Lock()
	lis := s.listener
	s.mu.Unlock()
	if lis == nil {
		return nil
	}
	return lis.Close()
}

func (s *Server) serve(transport wire.Transport) {
	c := newServerConn(s, transport)
	s.mu.Lock()
	s.sessions[c] = struct{}{}
	s.mu.Unlock()

	c.run()

	s.mu.Lock()
	delete(s.sessions, c)
	s.mu.Unlock()
}

func appendEventPayload(dst []byte, eventType wire.EventType, msg string) []byte {
	var buf []byte
	buf = append(buf, dst...)
	buf = appendInt32(buf, int32(eventType))
	buf = appendUTF(buf, msg)
	return buf
}
