package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rickgao/instrument-refresh/internal/model"
)

// Kind selects a provider implementation.
type Kind int

const (
	KindSSI Kind = iota + 1
	KindVNDirect
	KindTCBS
)

var kindNames = map[Kind]string{
	KindSSI:      "ssi",
	KindVNDirect: "vndirect",
	KindTCBS:     "tcbs",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a config string into a Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown provider kind %q", s)
}

var (
	// errAbsent marks a response that says the symbol does not exist.
	errAbsent = errors.New("symbol not listed")

	// errThrottled marks a 2xx response whose body reports throttling.
	errThrottled = errors.New("throttled by provider")
)

// backend holds the provider-specific wire format.
type backend interface {
	// defaultBaseURL is used when the config leaves base_url empty.
	defaultBaseURL() string

	// capabilities lists everything the provider can serve.
	capabilities() []model.Capability

	// authorize attaches an API key to a request.
	authorize(req *http.Request, key string)

	// endpoint builds the request for a capability.
	endpoint(c model.Capability, symbol string) endpoint

	// decode parses a 2xx body. It returns errAbsent or errThrottled for
	// provider signals carried in the body.
	decode(c model.Capability, symbol string, body []byte) (model.Payload, error)
}

func newBackend(k Kind) (backend, error) {
	switch k {
	case KindSSI:
		return ssiBackend{}, nil
	case KindVNDirect:
		return vndirectBackend{}, nil
	case KindTCBS:
		return tcbsBackend{}, nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %v", k)
	}
}
