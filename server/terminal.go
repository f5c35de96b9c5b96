package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/agentrun/sandbox"
	"github.com/hupe1980/agentrun/task"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The terminal endpoint is same-origin by deployment; cross-origin
	// policy is left to a fronting proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleTerminal upgrades the connection and bridges text frames into the
// task sandbox's persistent terminal session. Each frame is one command; the
// command output comes back as one text frame. The session is keyed by the
// task id, so it shares state with the agent's terminal tool.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	sb, err := s.registry.Sandbox(taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sb == nil {
		writeError(w, http.StatusConflict, "task has no sandbox")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("server.terminal.upgrade_failed", "task", taskID, "error", err.Error())
		return
	}
	defer conn.Close()

	s.logger.Info("server.terminal.attached", "task", taskID)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}

		output, err := sb.ExecuteLongTermCommand(r.Context(), sandbox.LongTermCommand{
			SessionID: taskID,
			Command:   string(data),
		})
		if err != nil {
			output = "Error: " + err.Error()
		}

		if err := conn.WriteMessage(websocket.TextMessage, []byte(output)); err != nil {
			return
		}
	}
}
