package proxy

import (
	"bufio"
	"net"

	"go.uber.org/zap"
)

func (p *Proxy) handleHTTP(client net.Conn, reader *bufio.Reader) {
	req, err := p.parseRequest(reader, "80")
	if err != nil {
		p.Logger.Error("Error parsing HTTP request", zap.Error(err))
		return
	}

	if p.intercept(client, req.AbsoluteURL("http")) {
		return
	}

	p.Logger.Info("HTTP request",
		zap.String("method", req.Method),
		zap.String("host", req.Host),
		zap.String("path", req.Path),
		zap.String("proto", req.Protocol),
		zap.String("clientRemoteAddr", client.RemoteAddr().String()))

	// Connect to target
	target := net.JoinHostPort(req.Host, req.Port)
	conn, err := net.DialTimeout("tcp", target, p.timeout)
	if err != nil {
		p.Logger.Error("Error connecting to target", zap.String("target", target), zap.Error(err))
		p.sendBadGateway(client)
		return
	}
	defer conn.Close()
	server := newIdleConn(conn, p.timeout)

	if err := p.forwardRequest(server, reader, req); err != nil {
		p.Logger.Error("Error forwarding request", zap.Error(err))
		return
	}

	if err := p.forwardResponse(client, server); err != nil {
		p.Logger.Error("Error forwarding response", zap.Error(err))
	}
}
