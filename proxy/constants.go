package proxy

import "time"

const (
	defaultTimeout = 30 * time.Second

	connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

	redirectResponseTemplate = "HTTP/1.1 %d %s\r\n" +
		"Location: %s\r\n" +
		"Content-Length: 0\r\n" +
		"Connection: close\r\n" +
		"\r\n"

	badGatewayResponse = "HTTP/1.1 502 Bad Gateway\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Length: 11\r\n" +
		"Connection: close\r\n" +
		"\r\nBad Gateway"
)
