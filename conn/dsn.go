package conn

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/ponysql/ponysql-go/ponyerr"
)

// DefaultPort is the default TCP port for the pony:// scheme.
const DefaultPort = 9157

// Scheme distinguishes the two connection URL grammars.
type Scheme int

const (
	// SchemeTCP is jdbc:pony://host[:port][/schema][?k=v&...].
	SchemeTCP Scheme = iota
	// SchemeLocal is jdbc:pony:local://config_path[?k=v&...].
	SchemeLocal
)

// DSN is a parsed connection URL.
type DSN struct {
	Scheme Scheme

	Host   string
	Port   int
	Schema string

	ConfigPath string

	User         string
	Password     string
	Create       bool
	BootOrCreate bool

	// Extra carries unrecognised query keys through to the embedded
	// server configuration.
	Extra map[string]string
}

// ParseDSN parses a jdbc:pony://... or jdbc:pony:local://... connection
// URL.
func ParseDSN(raw string) (DSN, error) {
	switch {
	case strings.HasPrefix(raw, "jdbc:pony:local://"):
		return parseLocalDSN(strings.TrimPrefix(raw, "jdbc:pony:local://"))
	case strings.HasPrefix(raw, "jdbc:pony://"):
		return parseTCPDSN(strings.TrimPrefix(raw, "jdbc:pony://"))
	default:
		return DSN{}, ponyerr.NewProtocolError("unrecognised connection url: %q", raw)
	}
}

func parseTCPDSN(rest string) (DSN, error) {
	u, err := url.Parse("tcp://" + rest)
	if err != nil {
		return DSN{}, ponyerr.NewProtocolError("invalid connection url: %v", err)
	}

	d := DSN{Scheme: SchemeTCP, Host: u.Hostname(), Port: DefaultPort}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return DSN{}, ponyerr.NewProtocolError("invalid connection url port %q", p)
		}
		d.Port = port
	}
	d.Schema = strings.TrimPrefix(u.Path, "/")
	applyDSNQuery(&d, u.Query())
	return d, nil
}

func parseLocalDSN(rest string) (DSN, error) {
	u, err := url.Parse("local://" + rest)
	if err != nil {
		return DSN{}, ponyerr.NewProtocolError("invalid connection url: %v", err)
	}

	d := DSN{Scheme: SchemeLocal, ConfigPath: u.Host + u.Path}
	applyDSNQuery(&d, u.Query())
	return d, nil
}

func applyDSNQuery(d *DSN, q url.Values) {
	d.Extra = make(map[string]string, len(q))
	for key, values := range q {
		if len(values) == 0 {
			continue
		}
		v := values[len(values)-1]
		switch key {
		case "user":
			d.User = v
		case "password":
			d.Password = v
		case "create":
			d.Create, _ = strconv.ParseBool(v)
		case "boot_or_create", "create_or_boot":
			d.BootOrCreate, _ = strconv.ParseBool(v)
		default:
			d.Extra[key] = v
		}
	}
}
