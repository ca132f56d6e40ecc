package audit

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/platformbuilds/shiftgate/internal/models"
)

// respServer is a minimal Valkey stand-in that records commands and answers
// with canned replies.
type respServer struct {
	listener net.Listener

	mu       sync.Mutex
	commands [][]string
}

func newRespServer(t *testing.T) *respServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := &respServer{listener: listener}
	go server.serve()
	t.Cleanup(func() { listener.Close() })
	return server
}

func (s *respServer) addr() string {
	return s.listener.Addr().String()
}

func (s *respServer) recorded() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *respServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *respServer) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		command, err := readCommand(reader)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, command)
		s.mu.Unlock()

		switch strings.ToUpper(command[0]) {
		case "PING":
			conn.Write([]byte("+PONG\r\n"))
		case "SET":
			conn.Write([]byte("+OK\r\n"))
		case "RPUSH":
			conn.Write([]byte(":1\r\n"))
		default:
			conn.Write([]byte("-ERR unknown command\r\n"))
		}
	}
}

func readCommand(reader *bufio.Reader) ([]string, error) {
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "*")))
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		sizeLine, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(sizeLine, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		for n := 0; n < len(buf); {
			m, err := reader.Read(buf[n:])
			if err != nil {
				return nil, err
			}
			n += m
		}
		parts = append(parts, string(buf[:size]))
	}
	return parts, nil
}

func testConfig(addr string) ValkeyConfig {
	return ValkeyConfig{
		Addr:         addr,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		RunTTL:       time.Hour,
	}
}

func TestNewValkeyRecorderPings(t *testing.T) {
	server := newRespServer(t)
	recorder, err := NewValkeyRecorder(testConfig(server.addr()))
	if err != nil {
		t.Fatalf("NewValkeyRecorder: %v", err)
	}
	defer recorder.Close()

	commands := server.recorded()
	if len(commands) != 1 || strings.ToUpper(commands[0][0]) != "PING" {
		t.Fatalf("expected initial PING, got %+v", commands)
	}
}

func TestNewValkeyRecorderFailsWhenUnreachable(t *testing.T) {
	cfg := testConfig("127.0.0.1:1")
	cfg.DialTimeout = 100 * time.Millisecond
	if _, err := NewValkeyRecorder(cfg); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestRecordRunSetsKeyWithTTL(t *testing.T) {
	server := newRespServer(t)
	recorder, err := NewValkeyRecorder(testConfig(server.addr()))
	if err != nil {
		t.Fatalf("NewValkeyRecorder: %v", err)
	}
	defer recorder.Close()

	run := models.MigrationRun{
		ID:      "run-1",
		Service: "auth",
		Stages:  []int{50, 0},
		Status:  models.RunSucceeded,
	}
	if err := recorder.RecordRun(context.Background(), run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	commands := server.recorded()
	var set []string
	for _, cmd := range commands {
		if strings.ToUpper(cmd[0]) == "SET" {
			set = cmd
		}
	}
	if set == nil {
		t.Fatalf("expected SET command, got %+v", commands)
	}
	if set[1] != "shiftgate:run:auth:run-1" {
		t.Fatalf("unexpected key %s", set[1])
	}
	if !strings.Contains(set[2], `"status":"Succeeded"`) {
		t.Fatalf("expected run JSON payload, got %s", set[2])
	}
	if len(set) < 5 || strings.ToUpper(set[3]) != "PX" {
		t.Fatalf("expected PX TTL argument, got %+v", set)
	}
}

func TestRecordRollbackAppendsToList(t *testing.T) {
	server := newRespServer(t)
	recorder, err := NewValkeyRecorder(testConfig(server.addr()))
	if err != nil {
		t.Fatalf("NewValkeyRecorder: %v", err)
	}
	defer recorder.Close()

	event := models.RollbackEvent{
		ID:            "evt-1",
		Service:       "auth",
		Trigger:       models.Trigger{Signal: "error_rate"},
		ObservedValue: 0.12,
		Timestamp:     time.Now().UTC(),
	}
	if err := recorder.RecordRollback(context.Background(), event); err != nil {
		t.Fatalf("RecordRollback: %v", err)
	}

	commands := server.recorded()
	var rpush []string
	for _, cmd := range commands {
		if strings.ToUpper(cmd[0]) == "RPUSH" {
			rpush = cmd
		}
	}
	if rpush == nil {
		t.Fatalf("expected RPUSH command, got %+v", commands)
	}
	if rpush[1] != "shiftgate:rollbacks:auth" {
		t.Fatalf("unexpected key %s", rpush[1])
	}
	if !strings.Contains(rpush[2], `"error_rate"`) {
		t.Fatalf("expected event JSON payload, got %s", rpush[2])
	}
}
