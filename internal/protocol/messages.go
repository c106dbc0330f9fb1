// Package protocol defines the JSON messages exchanged with client devices
// over the session WebSocket.
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	flickerrors "github.com/conneroisu/flick/internal/errors"
)

// Message types.
const (
	TypeInit                = "init"
	TypePing                = "ping"
	TypePong                = "pong"
	TypeReady               = "ready"
	TypeAcknowledged        = "acknowledged"
	TypeHotReload           = "hot_reload"
	TypeFileAdded           = "file_added"
	TypeFileDeleted         = "file_deleted"
	TypeCompileRequest      = "compile-request"
	TypeCompilationComplete = "compilation-complete"
	TypeModuleCompiled      = "module-compiled"
	TypeCompilationError    = "compilation-error"
	TypeGetModule           = "get-module"
	TypeModuleData          = "module-data"
	TypeModuleNotFound      = "module-not-found"
	TypeLog                 = "log"
	TypeError               = "error"
)

// InvalidMessageFormat is the error text sent for undecodable frames.
const InvalidMessageFormat = "Invalid message format"

// MissingCompileFields is the error text for a compile request without
// source or module name.
const MissingCompileFields = "dartCode and moduleName are required"

// Inbound is any message a client may send. Fields not used by Type are
// left empty.
type Inbound struct {
	Type       string `json:"type"`
	DartCode   string `json:"dartCode,omitempty"`
	ModuleName string `json:"moduleName,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	ModuleID   string `json:"moduleId,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Decode parses one client frame. Frames that are not a JSON object with a
// string type are a MalformedMessage.
func Decode(frame []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, flickerrors.NewMalformedMessage(flickerrors.ErrCodeInvalidJSON, InvalidMessageFormat, err)
	}
	if strings.TrimSpace(msg.Type) == "" {
		return nil, flickerrors.NewMalformedMessage(flickerrors.ErrCodeMissingField, InvalidMessageFormat, nil).
			WithContext("field", "type")
	}
	return &msg, nil
}

// Timestamp returns t as unix milliseconds, the unit clients expect.
func Timestamp(t time.Time) int64 {
	return t.UnixMilli()
}

// Features advertises what the session can do.
type Features struct {
	DartEval    bool `json:"dartEval"`
	HotReload   bool `json:"hotReload"`
	Compilation bool `json:"compilation"`
}

// Simple is a message with a type only (pong, acknowledged).
type Simple struct {
	Type string `json:"type"`
}

// ErrorReply is sent for malformed input.
type ErrorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// FileEvent is hot_reload, file_added or file_deleted.
type FileEvent struct {
	Type      string  `json:"type"`
	File      string  `json:"file"`
	Content   *string `json:"content,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// CompilationComplete is directed to the requesting session.
type CompilationComplete struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId"`
	Success    bool   `json:"success"`
	ModuleID   string `json:"moduleId"`
	ModuleName string `json:"moduleName"`
	Size       int    `json:"size"`
	Timestamp  int64  `json:"timestamp"`
}

// ModuleCompiled is broadcast to every session.
type ModuleCompiled struct {
	Type       string `json:"type"`
	ModuleID   string `json:"moduleId"`
	ModuleName string `json:"moduleName"`
	Size       int    `json:"size"`
	ClientID   string `json:"clientId"`
	Timestamp  int64  `json:"timestamp"`
}

// CompilationError is directed to the requesting session.
type CompilationError struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId,omitempty"`
	ModuleName string `json:"moduleName,omitempty"`
	Error      string `json:"error"`
	Timestamp  int64  `json:"timestamp"`
}

// ModuleData answers a get-module hit. Bytecode is base64 encoded.
type ModuleData struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId"`
	ModuleID   string `json:"moduleId"`
	ModuleName string `json:"moduleName"`
	Size       int    `json:"size"`
	Checksum   string `json:"checksum"`
	CompiledAt int64  `json:"compiledAt"`
	Bytecode   []byte `json:"bytecode"`
}

// ModuleNotFound answers a get-module miss.
type ModuleNotFound struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	ModuleID  string `json:"moduleId"`
	Error     string `json:"error"`
}

// Init is the first message of every session.
type Init struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewFileEvent builds a file event. content is omitted for file_deleted.
func NewFileEvent(msgType, file string, content *string, at time.Time) FileEvent {
	return FileEvent{Type: msgType, File: file, Content: content, Timestamp: Timestamp(at)}
}
