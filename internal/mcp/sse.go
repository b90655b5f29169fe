package mcp

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// session is one legacy-SSE client: the GET stream carries server
// frames, the companion POST endpoint receives client frames.
type session struct {
	id     string
	events chan []byte

	mu     sync.Mutex
	closed bool
}

// push queues a frame for the event stream. It reports false once the
// stream is gone.
func (s *session) push(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- data:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (st *sessionStore) create() *session {
	s := &session{
		id:     uuid.New().String(),
		events: make(chan []byte, 16),
	}
	st.mu.Lock()
	st.sessions[s.id] = s
	st.mu.Unlock()
	return s
}

func (st *sessionStore) get(id string) (*session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *sessionStore) remove(id string) {
	st.mu.Lock()
	if s, ok := st.sessions[id]; ok {
		delete(st.sessions, id)
		st.mu.Unlock()
		s.close()
		return
	}
	st.mu.Unlock()
}

// handleSSE opens the legacy event stream. The first event names the
// message endpoint the client must POST to.
func (s *Server) handleSSE(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	sess := s.sessions.create()
	defer s.sessions.remove(sess.id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	fmt.Fprintf(c.Writer, "event: endpoint\ndata: /api/mcp/messages/%s\n\n", sess.id)
	flusher.Flush()

	s.log.WithField("session", sess.id).Debug("mcp sse session opened")

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case data, ok := <-sess.events:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
