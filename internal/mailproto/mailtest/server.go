// Package mailtest runs scripted SMTP and POP3 servers on the loopback
// interface for tests.
package mailtest

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type server struct {
	ln   net.Listener
	Host string
	Port int
}

func start(t testing.TB, handle func(net.Conn)) server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				handle(c)
			}()
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return server{ln: ln, Host: host, Port: port}
}

// ClosedPort returns a loopback port nothing listens on.
func ClosedPort(t testing.TB) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

type session struct {
	conn net.Conn
	r    *bufio.Reader
}

func (s *session) write(lines ...string) {
	for _, l := range lines {
		_, _ = s.conn.Write([]byte(l + "\r\n"))
	}
}

func (s *session) read() (string, bool) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

// SMTP answers a minimal SMTP dialogue. Zero value replies are positive.
type SMTP struct {
	server

	Greeting  string
	MailReply string
	// RcptReply decides per recipient; nil accepts everybody.
	RcptReply func(addr string) string
	DataReply string
	EndReply  string

	mu       sync.Mutex
	commands []string
	messages [][]string
}

func NewSMTP(t testing.TB) *SMTP {
	s := &SMTP{
		Greeting:  "220 fake.example ESMTP",
		MailReply: "250 2.1.0 Ok",
		DataReply: "354 End data with <CR><LF>.<CR><LF>",
		EndReply:  "250 2.0.0 Ok: queued as ABC123",
	}
	s.server = start(t, s.handle)
	return s
}

func (s *SMTP) handle(c net.Conn) {
	sess := &session{conn: c, r: bufio.NewReader(c)}
	sess.write(s.Greeting)
	if !strings.HasPrefix(s.Greeting, "220 ") {
		return
	}

	var data []string
	inData := false
	for {
		line, ok := sess.read()
		if !ok {
			return
		}
		if inData {
			if line == "." {
				inData = false
				s.mu.Lock()
				s.messages = append(s.messages, data)
				s.mu.Unlock()
				data = nil
				sess.write(s.EndReply)
				continue
			}
			data = append(data, line)
			continue
		}

		s.mu.Lock()
		s.commands = append(s.commands, line)
		s.mu.Unlock()

		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "EHLO"):
			sess.write("250-fake.example", "250-PIPELINING", "250 8BITMIME")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			sess.write(s.MailReply)
		case strings.HasPrefix(upper, "RCPT TO:"):
			addr := strings.Trim(line[len("RCPT TO:"):], "<> ")
			reply := "250 2.1.5 Ok"
			if s.RcptReply != nil {
				reply = s.RcptReply(addr)
			}
			sess.write(reply)
		case upper == "DATA":
			sess.write(s.DataReply)
			inData = strings.HasPrefix(s.DataReply, "354")
		case upper == "QUIT":
			sess.write("221 2.0.0 Bye")
			return
		default:
			sess.write("502 5.5.2 Error: command not recognized")
		}
	}
}

func (s *SMTP) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Messages returns the DATA payloads received so far, one slice of lines
// per message.
func (s *SMTP) Messages() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.messages...)
}

// POP3 serves a mailbox of messages given as header blocks.
type POP3 struct {
	server

	User     string
	Password string
	// StatReply overrides the computed STAT answer when set.
	StatReply string

	mu       sync.Mutex
	mailbox  [][]string
	deleted  map[int]bool
	commands []string
}

func NewPOP3(t testing.TB, user, password string) *POP3 {
	p := &POP3{User: user, Password: password, deleted: map[int]bool{}}
	p.server = start(t, p.handle)
	return p
}

// Deliver appends a message with the given subject.
func (p *POP3) Deliver(subject string, extraHeaders ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	headers := append([]string{"From: probe@example.com", "Subject: " + subject}, extraHeaders...)
	p.mailbox = append(p.mailbox, headers)
}

// Remaining returns the subjects of messages not deleted.
func (p *POP3) Remaining() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for i, m := range p.mailbox {
		if p.deleted[i+1] {
			continue
		}
		for _, h := range m {
			if strings.HasPrefix(h, "Subject: ") {
				out = append(out, strings.TrimPrefix(h, "Subject: "))
			}
		}
	}
	return out
}

func (p *POP3) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

func (p *POP3) handle(c net.Conn) {
	sess := &session{conn: c, r: bufio.NewReader(c)}
	sess.write("+OK fake POP3 ready")

	pending := map[int]bool{}
	for {
		line, ok := sess.read()
		if !ok {
			return
		}
		p.mu.Lock()
		p.commands = append(p.commands, line)
		p.mu.Unlock()

		fields := strings.Fields(line)
		if len(fields) == 0 {
			sess.write("-ERR empty command")
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "USER":
			if len(fields) > 1 && fields[1] == p.User {
				sess.write("+OK")
			} else {
				sess.write("-ERR no such user")
			}
		case "PASS":
			if strings.TrimPrefix(line, fields[0]+" ") == p.Password {
				sess.write("+OK logged in")
			} else {
				sess.write("-ERR invalid password")
			}
		case "STAT":
			if p.StatReply != "" {
				sess.write(p.StatReply)
				continue
			}
			p.mu.Lock()
			n := len(p.mailbox)
			p.mu.Unlock()
			sess.write("+OK " + strconv.Itoa(n) + " " + strconv.Itoa(n*100))
		case "TOP":
			idx := 0
			if len(fields) > 1 {
				idx, _ = strconv.Atoi(fields[1])
			}
			p.mu.Lock()
			if idx < 1 || idx > len(p.mailbox) {
				p.mu.Unlock()
				sess.write("-ERR no such message")
				continue
			}
			headers := append([]string(nil), p.mailbox[idx-1]...)
			p.mu.Unlock()
			sess.write("+OK headers follow")
			for _, h := range headers {
				if strings.HasPrefix(h, ".") {
					h = "." + h
				}
				sess.write(h)
			}
			sess.write(".")
		case "DELE":
			idx := 0
			if len(fields) > 1 {
				idx, _ = strconv.Atoi(fields[1])
			}
			pending[idx] = true
			sess.write("+OK message deleted")
		case "QUIT":
			p.mu.Lock()
			for idx := range pending {
				p.deleted[idx] = true
			}
			p.mu.Unlock()
			sess.write("+OK bye")
			return
		default:
			sess.write("-ERR unknown command")
		}
	}
}
