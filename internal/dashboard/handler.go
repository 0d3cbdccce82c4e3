package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/marksync/marksync/internal/bookmark"
	engine "github.com/marksync/marksync/internal/sync"
)

// SyncFinishedData describes one finished sync.
type SyncFinishedData struct {
	UniqueID  string        `json:"uniqueId,omitempty"`
	Success   bool          `json:"success"`
	ErrorCode bookmark.Code `json:"errorCode,omitempty"`
	Error     string        `json:"error,omitempty"`
	Bookmarks int           `json:"bookmarks"`
}

// Handler turns orchestrator notifications into dashboard messages. It
// implements sync.Notifier.
type Handler struct {
	server *Server
	logger *log.Logger

	mu       sync.Mutex
	finished int
	failed   int
}

// NewHandler creates a new handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{server: server, logger: logger}
}

// SyncFinished broadcasts resp, followed by a fresh status snapshot when
// the server has a status source.
func (h *Handler) SyncFinished(resp engine.Response) {
	data := SyncFinishedData{
		UniqueID:  resp.UniqueID,
		Success:   resp.Success,
		Bookmarks: resp.Bookmarks.Count(),
	}
	if resp.Err != nil {
		data.ErrorCode = bookmark.ErrorCode(resp.Err)
		data.Error = resp.Err.Error()
	}

	h.mu.Lock()
	h.finished++
	if !resp.Success {
		h.failed++
	}
	h.mu.Unlock()

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal sync data: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeSyncFinished,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	h.broadcastStatus()
}

func (h *Handler) broadcastStatus() {
	st, ok := h.server.snapshot(context.Background())
	if !ok {
		return
	}
	dataJSON, err := json.Marshal(st)
	if err != nil {
		h.logger.Printf("Failed to marshal status: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeStatus,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// Counts returns how many syncs finished and how many of them failed.
func (h *Handler) Counts() (finished, failed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished, h.failed
}
