package realtime

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

type fakeConn struct {
	mu     sync.Mutex
	closed bool
	code   websocket.StatusCode
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestSessionManager_Register(t *testing.T) {
	sm := NewSessionManager()
	conn := &fakeConn{}

	sm.Register("user123", "chat-1", conn)

	if active := sm.GetActive("user123", "chat-1"); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
}

func TestSessionManager_RegisterReplacesOlder(t *testing.T) {
	sm := NewSessionManager()
	older := &fakeConn{}
	newer := &fakeConn{}

	sm.Register("user123", "chat-1", older)
	sm.Register("user123", "chat-1", newer)

	if !older.isClosed() {
		t.Error("Expected older connection to be closed")
	}
	if newer.isClosed() {
		t.Error("Expected newer connection to stay open")
	}

	// A late unregister from the replaced socket must not remove the new one.
	sm.Unregister("user123", "chat-1", older)
	if active := sm.GetActive("user123", "chat-1"); active != newer {
		t.Errorf("Expected connection %v, got %v", newer, active)
	}
}

func TestSessionManager_Unregister(t *testing.T) {
	sm := NewSessionManager()
	conn := &fakeConn{}

	sm.Register("user123", "chat-1", conn)
	sm.Unregister("user123", "chat-1", conn)

	if active := sm.GetActive("user123", "chat-1"); active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
	if n := sm.Count(); n != 0 {
		t.Errorf("Expected 0 connections, got %d", n)
	}
}

func TestSessionManager_CloseChat(t *testing.T) {
	sm := NewSessionManager()
	target := &fakeConn{}
	other := &fakeConn{}

	sm.Register("user123", "chat-1", target)
	sm.Register("user123", "chat-2", other)

	sm.CloseChat("chat-1")

	if !target.isClosed() || target.code != websocket.StatusGoingAway {
		t.Errorf("Expected chat-1 socket closed with going away, got closed=%v code=%v", target.closed, target.code)
	}
	if other.isClosed() {
		t.Error("Expected chat-2 socket to stay open")
	}
	if n := sm.Count(); n != 1 {
		t.Errorf("Expected 1 connection, got %d", n)
	}

	sm.CloseAll()
	if !other.isClosed() || sm.Count() != 0 {
		t.Error("Expected all sockets closed")
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	sm := NewSessionManager()
	userID := "concurrentUser"

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.Register(userID, "chat-"+strconv.Itoa(i), &fakeConn{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.GetActive(userID, "chat-"+strconv.Itoa(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.CloseChat("chat-" + strconv.Itoa(i))
		}
	}()
	wg.Wait()
}
