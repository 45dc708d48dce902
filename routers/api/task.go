package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ScriptSuite-server/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GetTaskStatus handles GET /tasks/:task_id.
func (h *Handler) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	t, err := models.GetTask(h.DB, taskID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		RespondError(c, http.StatusNotFound, CodeTaskNotFound, errors.New("task not found"))
		return
	}
	if err != nil {
		h.Log.Error("Load task failed", "task_id", taskID, "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, errors.New("failed to load task"))
		return
	}
	RespondOK(c, gin.H{"task": t})
}

// TaskProgressWebSocket pushes the task every time its status or progress
// changes, and closes after the final state. The database is the only source;
// the processor writes progress there.
func (h *Handler) TaskProgressWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	t, err := models.GetTask(h.DB, taskID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		RespondError(c, http.StatusNotFound, CodeTaskNotFound, errors.New("task not found"))
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, CodeInternal, errors.New("failed to load task"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn("WebSocket upgrade failed", "task_id", taskID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// The client never sends anything; a failed read means it went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(gin.H{"task": t}); err != nil {
		return
	}
	if models.TaskTerminal(t.Status) {
		closeNormal(conn)
		return
	}

	ticker := time.NewTicker(h.WSPoll)
	defer ticker.Stop()
	prevStatus, prevProgress := t.Status, t.Progress
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cur, err := models.GetTask(h.DB, taskID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				_ = conn.WriteJSON(ErrorEnvelope{Error: APIError{Message: "task deleted", Code: CodeTaskNotFound}})
				closeNormal(conn)
				return
			}
			continue
		}
		if cur.Status == prevStatus && cur.Progress == prevProgress {
			continue
		}
		if err := conn.WriteJSON(gin.H{"task": cur}); err != nil {
			return
		}
		prevStatus, prevProgress = cur.Status, cur.Progress
		if models.TaskTerminal(cur.Status) {
			closeNormal(conn)
			return
		}
	}
}

func closeNormal(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task settled"),
		time.Now().Add(time.Second))
}
