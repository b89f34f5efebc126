package mailer

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/monitron-io/monitron/internal/config"
	"github.com/monitron-io/monitron/internal/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.InitLogger(logging.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

func TestSanitizeHeader(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"hello\r\nworld", "helloworld"},
		{"inject\rvalue", "injectvalue"},
		{"inject\nvalue", "injectvalue"},
		{"Subject: test\r\nX-Evil: injected", "Subject: testX-Evil: injected"},
	}
	for _, tc := range tests {
		if got := sanitizeHeader(tc.in); got != tc.want {
			t.Errorf("sanitizeHeader(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("alerts@example.com", "owner@example.com", "[Monitron] Monitor 'api' appears down", "Hello,\n\nbody text"))

	checks := []string{
		"From: alerts@example.com\r\n",
		"To: owner@example.com\r\n",
		"Subject: [Monitron] Monitor 'api' appears down\r\n",
		"MIME-Version: 1.0\r\n",
		"Content-Type: text/plain; charset=UTF-8\r\n",
	}
	for _, want := range checks {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in message", want)
		}
	}

	headerEnd := strings.Index(msg, "\r\n\r\n")
	if headerEnd < 0 {
		t.Fatalf("missing header/body separator")
	}
	if body := msg[headerEnd+4:]; body != "Hello,\n\nbody text" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestSendPlain(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	type delivery struct{ from, to, body string }
	doneCh := make(chan delivery, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(doneCh)
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { conn.Write([]byte(s + "\r\n")) }

		write("220 testsmtp ESMTP")
		var from, to, body string
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				break
			}
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				write("250 OK")
			case strings.HasPrefix(line, "MAIL FROM:"):
				from = line
				write("250 OK")
			case strings.HasPrefix(line, "RCPT TO:"):
				to = line
				write("250 OK")
			case line == "DATA":
				write("354 Start input")
				var sb strings.Builder
				for {
					l, _ := r.ReadString('\n')
					if strings.TrimSpace(l) == "." {
						break
					}
					sb.WriteString(l)
				}
				body = sb.String()
				write("250 OK")
			case line == "QUIT":
				write("221 Bye")
				doneCh <- delivery{from, to, body}
				return
			}
		}
		doneCh <- delivery{from, to, body}
	}()

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	m := NewSMTP(config.SMTPConfig{
		Host:        "127.0.0.1",
		Port:        port,
		From:        "alerts@example.com",
		TimeoutSecs: 5,
	}, testLogger(t))

	err = m.Send(context.Background(), "owner@example.com", "[Monitron] Monitor 'api' appears down", "Hello,\n\nservice is down.")
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	got := <-doneCh
	if !strings.Contains(got.from, "alerts@example.com") {
		t.Errorf("MAIL FROM: got %q", got.from)
	}
	if !strings.Contains(got.to, "owner@example.com") {
		t.Errorf("RCPT TO: got %q", got.to)
	}
	if !strings.Contains(got.body, "Subject: [Monitron] Monitor 'api' appears down") {
		t.Errorf("missing subject header in %q", got.body)
	}
	if !strings.Contains(got.body, "service is down.") {
		t.Errorf("missing body text in %q", got.body)
	}
}

func TestSendDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	m := NewSMTP(config.SMTPConfig{
		Host:        "127.0.0.1",
		Port:        port,
		From:        "alerts@example.com",
		TimeoutSecs: 1,
	}, testLogger(t))

	if err := m.Send(context.Background(), "owner@example.com", "subject", "body"); err == nil {
		t.Fatalf("expected dial error")
	}
}
