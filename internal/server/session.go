package server

import (
	"context"
	"time"

	"github.com/conneroisu/flick/internal/build"
	flickerrors "github.com/conneroisu/flick/internal/errors"
	"github.com/conneroisu/flick/internal/project"
	"github.com/conneroisu/flick/internal/protocol"
	"github.com/conneroisu/flick/internal/websocket"
)

// sessionHandler routes device session events into the coordinator.
type sessionHandler struct {
	server *PreviewServer
}

// initData is the payload of the init message: the snapshot fields plus
// session details.
type initData struct {
	project.SnapshotData
	Features  protocol.Features `json:"features"`
	ClientID  string            `json:"clientId"`
	Timestamp int64             `json:"timestamp"`
}

func (h *sessionHandler) OnConnect(session *websocket.ClientSession) {
	s := h.server
	s.logger.Info(context.Background(), "Device connected",
		"ip", session.RemoteAddr, "client_id", session.ID, "clients", s.registry.Count())

	data := initData{
		Features:  s.Features(),
		ClientID:  session.ID,
		Timestamp: protocol.Timestamp(time.Now()),
	}
	if s.snapshot != nil {
		data.SnapshotData = s.snapshot.Data()
	}

	s.broadcaster.SendTo(session.ID, protocol.Init{Type: protocol.TypeInit, Data: data})
}

func (h *sessionHandler) OnDisconnect(session *websocket.ClientSession) {
	s := h.server
	s.logger.Info(context.Background(), "Device disconnected",
		"ip", session.RemoteAddr, "client_id", session.ID, "clients", s.registry.Count())
}

func (h *sessionHandler) OnMessage(session *websocket.ClientSession, frame []byte) {
	s := h.server
	ctx := context.Background()

	msg, err := protocol.Decode(frame)
	if err != nil {
		s.logger.Warn(ctx, err, "Error parsing message", "client_id", session.ID)
		s.broadcaster.SendTo(session.ID, protocol.ErrorReply{
			Type:  protocol.TypeError,
			Error: protocol.InvalidMessageFormat,
		})
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		s.broadcaster.SendTo(session.ID, protocol.Simple{Type: protocol.TypePong})

	case protocol.TypeReady:
		s.broadcaster.SendTo(session.ID, protocol.Simple{Type: protocol.TypeAcknowledged})

	case protocol.TypeCompileRequest:
		h.handleCompileRequest(ctx, session, msg)

	case protocol.TypeGetModule:
		h.handleGetModule(session, msg)

	case protocol.TypeLog:
		s.logger.Info(ctx, "[Device] "+msg.Message, "client_id", session.ID)

	case protocol.TypeError:
		s.logger.Error(ctx, nil, "[Device] "+msg.Error, "client_id", session.ID)

	default:
		s.logger.Debug(ctx, "Unknown message type", "type", msg.Type, "client_id", session.ID)
	}
}

func (h *sessionHandler) handleCompileRequest(ctx context.Context, session *websocket.ClientSession, msg *protocol.Inbound) {
	s := h.server

	reject := func(text string) {
		s.broadcaster.SendTo(session.ID, protocol.CompilationError{
			Type:       protocol.TypeCompilationError,
			RequestID:  msg.RequestID,
			ModuleName: msg.ModuleName,
			Error:      text,
			Timestamp:  protocol.Timestamp(time.Now()),
		})
	}

	if msg.DartCode == "" || msg.ModuleName == "" {
		reject(protocol.MissingCompileFields)
		return
	}
	if !s.config.Compiler.Enabled {
		reject("Compilation is disabled")
		return
	}

	s.logger.Info(ctx, "Compiling module", "module", msg.ModuleName, "request_id", msg.RequestID, "client_id", session.ID)

	err := s.queue.Enqueue(build.CompileJob{
		Source:     msg.DartCode,
		ModuleName: msg.ModuleName,
		RequestID:  msg.RequestID,
		SessionID:  session.ID,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn(ctx, err, "Compile request rejected", "module", msg.ModuleName)
		reject(err.Error())
	}
}

func (h *sessionHandler) handleGetModule(session *websocket.ClientSession, msg *protocol.Inbound) {
	s := h.server

	artifact, ok := s.cache.Get(msg.ModuleID)
	if !ok {
		s.broadcaster.SendTo(session.ID, protocol.ModuleNotFound{
			Type:      protocol.TypeModuleNotFound,
			RequestID: msg.RequestID,
			ModuleID:  msg.ModuleID,
			Error:     flickerrors.NewModuleNotFound(msg.ModuleID).Message,
		})
		return
	}

	s.broadcaster.SendTo(session.ID, protocol.ModuleData{
		Type:       protocol.TypeModuleData,
		RequestID:  msg.RequestID,
		ModuleID:   artifact.ID,
		ModuleName: artifact.Name,
		Size:       artifact.Size,
		Checksum:   artifact.Checksum,
		CompiledAt: protocol.Timestamp(artifact.CompiledAt),
		Bytecode:   artifact.Payload,
	})
}
