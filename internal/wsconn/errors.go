package wsconn

import "errors"

// ErrNotConnected is returned when sending on a client with no live connection.
var ErrNotConnected = errors.New("wsconn: not connected")
