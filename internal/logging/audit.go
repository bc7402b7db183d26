package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names one kind of audit record.
type AuditEventType string

const (
	// Session events
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"

	// Exchange lifecycle
	AuditExchangeStart  AuditEventType = "exchange_start"
	AuditExchangeAnswer AuditEventType = "exchange_answer"
	AuditExchangeError  AuditEventType = "exchange_error"

	// Config and serving
	AuditConfigReload AuditEventType = "config_reload"
	AuditProxyError   AuditEventType = "proxy_error"
)

// AuditEvent is one JSON line in the audit log.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`      // Unix milliseconds
	EventType  AuditEventType         `json:"event"`   // Event kind
	Category   string                 `json:"cat"`     // Log category
	SessionID  string                 `json:"session"` // Session correlation
	Target     string                 `json:"target"`  // Endpoint or config path
	Success    bool                   `json:"success"` // Operation succeeded
	DurationMs int64                  `json:"dur_ms"`  // Duration in milliseconds
	Error      string                 `json:"error"`   // Error message if failed
	Message    string                 `json:"msg"`     // Human-readable message
	Fields     map[string]interface{} `json:"fields"`  // Additional structured fields
	Line       string                 `json:"line"`    // Single-line summary for grep
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger = &AuditLogger{}
)

// AuditLogger writes audit events, optionally scoped to a session.
type AuditLogger struct {
	sessionID string
	category  Category
}

// InitAudit opens the audit log when debug mode is on.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	cfgMu.RLock()
	dir := logsDir
	cfgMu.RUnlock()
	if dir == "" {
		return fmt.Errorf("logging not initialized")
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(dir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	return auditLogger
}

// AuditWithSession creates an audit logger scoped to a session
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// Log writes an audit event. It is a no-op unless InitAudit opened the file.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" {
		event.SessionID = a.sessionID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	event.Line = summaryLine(event)

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.Write(append(data, '\n'))
	}
}

// summaryLine renders an event as event(session, target, success, dur_ms, "msg").
func summaryLine(e AuditEvent) string {
	text := e.Message
	if e.Error != "" {
		text = e.Error
	}
	return fmt.Sprintf("%s(%q, %q, %v, %d, \"%s\")",
		e.EventType, e.SessionID, e.Target, e.Success, e.DurationMs, escapeString(text))
}

// escapeString escapes quotes, backslashes and control whitespace so the
// summary stays on one line.
func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/10)

	for _, c := range s {
		switch c {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// SessionStart logs the start of a chat session
func (a *AuditLogger) SessionStart(surface string) {
	a.Log(AuditEvent{
		EventType: AuditSessionStart,
		Category:  string(CategoryWidget),
		Target:    surface,
		Success:   true,
		Message:   "Session started on " + surface,
	})
}

// SessionEnd logs the end of a chat session
func (a *AuditLogger) SessionEnd(turns int) {
	a.Log(AuditEvent{
		EventType: AuditSessionEnd,
		Category:  string(CategoryWidget),
		Success:   true,
		Message:   fmt.Sprintf("Session ended after %d turns", turns),
		Fields:    map[string]interface{}{"turns": turns},
	})
}

// ExchangeStart logs a question being sent
func (a *AuditLogger) ExchangeStart(questionLen int) {
	a.Log(AuditEvent{
		EventType: AuditExchangeStart,
		Category:  string(CategoryWidget),
		Success:   true,
		Message:   fmt.Sprintf("Question sent (%d chars)", questionLen),
		Fields:    map[string]interface{}{"question_len": questionLen},
	})
}

// ExchangeComplete logs the settled exchange
func (a *AuditLogger) ExchangeComplete(durationMs int64, answerLen int, err error) {
	ev := AuditEvent{
		EventType:  AuditExchangeAnswer,
		Category:   string(CategoryWidget),
		Success:    err == nil,
		DurationMs: durationMs,
		Message:    fmt.Sprintf("Answer received (%d chars)", answerLen),
		Fields:     map[string]interface{}{"answer_len": answerLen},
	}
	if err != nil {
		ev.EventType = AuditExchangeError
		ev.Error = err.Error()
		ev.Message = "Exchange failed"
	}
	a.Log(ev)
}

// ConfigReload logs a config reload attempt
func (a *AuditLogger) ConfigReload(path string, err error) {
	ev := AuditEvent{
		EventType: AuditConfigReload,
		Category:  string(CategoryConfig),
		Target:    path,
		Success:   err == nil,
		Message:   "Config reloaded",
	}
	if err != nil {
		ev.Error = err.Error()
		ev.Message = "Config reload rejected"
	}
	a.Log(ev)
}

// ProxyError logs a failed pass-through to the backend
func (a *AuditLogger) ProxyError(target string, err error) {
	a.Log(AuditEvent{
		EventType: AuditProxyError,
		Category:  string(CategoryWeb),
		Target:    target,
		Success:   false,
		Error:     err.Error(),
		Message:   "Proxy request failed",
	})
}
