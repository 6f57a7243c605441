// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package output

import (
	"net"
	"os"
	"strings"
	"sync"
)

var serverIPOnce sync.Once
var cachedServerIP string

// Returns the address identifying this host in uploaded segment names. The
// SERVER_IP environment variable wins; otherwise the host's outbound
// interface address is discovered (no packets are sent).
func serverIP() string {
	serverIPOnce.Do(func() {
		if ip := os.Getenv("SERVER_IP"); ip != "" {
			cachedServerIP = strings.TrimSpace(ip)
			return
		}
		conn, err := net.Dial("udp", "8.8.8.8:80")
		if err != nil {
			cachedServerIP = "127.0.0.1"
			return
		}
		defer conn.Close()
		cachedServerIP = conn.LocalAddr().(*net.UDPAddr).IP.String()
	})
	return cachedServerIP
}
