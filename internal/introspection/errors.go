package introspection

import (
	"errors"
	"fmt"
)

// QueryErrorKind classifies why one capability query failed
type QueryErrorKind string

const (
	// KindNetwork is a connection, TLS or timeout failure
	KindNetwork QueryErrorKind = "network"

	// KindHTTPStatus is a non-success HTTP status
	KindHTTPStatus QueryErrorKind = "http_status"

	// KindRPC is a JSON-RPC error payload
	KindRPC QueryErrorKind = "rpc"

	// KindProtocol is a reply that carries no usable JSON-RPC result
	KindProtocol QueryErrorKind = "protocol"
)

// QueryError is the failure of a single capability query against one endpoint
type QueryError struct {
	Kind    QueryErrorKind
	Status  int
	Code    int64
	Message string
}

func (e *QueryError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		if e.Message == "" {
			return fmt.Sprintf("HTTP %d", e.Status)
		}
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	case KindRPC:
		return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
	default:
		return e.Message
	}
}

// isNetworkError reports whether err is a network-level query failure
func isNetworkError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Kind == KindNetwork
}
