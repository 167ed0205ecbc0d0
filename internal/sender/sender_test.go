package sender

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP accepts one session and records the envelope and data.
type fakeSMTP struct {
	ln   net.Listener
	wg   sync.WaitGroup
	cmds []string
	data string
}

func startFakeSMTP(t *testing.T, rejectRcpt bool) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSMTP{ln: ln}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = io.WriteString(conn, s+"\r\n") }

		reply("220 fake ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			f.cmds = append(f.cmds, line)
			verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch {
			case verb == "EHLO" || verb == "HELO":
				reply("250 fake")
			case strings.HasPrefix(strings.ToUpper(line), "RCPT") && rejectRcpt:
				reply("550 no such user")
			case verb == "DATA":
				reply("354 go ahead")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				f.data = b.String()
				reply("250 queued")
			case verb == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeSMTP) port(t *testing.T) int {
	_, p, err := net.SplitHostPort(f.ln.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendDeliversRawMessage(t *testing.T) {
	srv := startFakeSMTP(t, false)
	s := New("127.0.0.1", srv.port(t), "", "", false, discard())

	raw := "From: support@example.org\r\nTo: client@example.com\r\nSubject: Hi\r\n\r\nHello\r\n"
	err := s.Send(context.Background(), "support@example.org", []string{"client@example.com"}, []byte(raw))
	require.NoError(t, err)
	srv.wg.Wait()

	assert.Contains(t, srv.cmds, "MAIL FROM:<support@example.org>")
	assert.Contains(t, srv.cmds, "RCPT TO:<client@example.com>")
	assert.Contains(t, srv.data, "Subject: Hi")
	assert.Contains(t, srv.data, "Hello")
}

func TestSendRejectedRecipient(t *testing.T) {
	srv := startFakeSMTP(t, true)
	s := New("127.0.0.1", srv.port(t), "", "", false, discard())

	err := s.Send(context.Background(), "support@example.org", []string{"nobody@example.com"}, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp RCPT TO nobody@example.com")
}

func TestSendWithoutRecipients(t *testing.T) {
	s := New("127.0.0.1", 1, "", "", false, discard())
	err := s.Send(context.Background(), "a@example.org", nil, []byte("x"))
	assert.ErrorContains(t, err, "no recipients")
}
