package providers

import (
	"github.com/orchestra-mcp/chatrelay/src/hub"
	"github.com/orchestra-mcp/chatrelay/src/ratelimit"
	"github.com/orchestra-mcp/chatrelay/src/service"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

// Compile-time interface assertions.
var (
	_ hub.Handler      = (*service.Service)(nil)
	_ service.Admitter = (*ratelimit.Limiter)(nil)
	_ types.Conn       = (*wsConn)(nil)
	_ types.Pinger     = (*wsConn)(nil)
)
