package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	auditMu  sync.Mutex
	auditLog *log.Logger
)

// SetAuditWriter 设置逐 bar 诊断日志的输出；nil 关闭审计日志。
func SetAuditWriter(w io.Writer) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if w == nil {
		auditLog = nil
		return
	}
	auditLog = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}

// AuditEnabled 报告审计日志是否开启。
func AuditEnabled() bool {
	auditMu.Lock()
	defer auditMu.Unlock()
	return auditLog != nil
}

// AuditField 是审计行里的一个 key=value 片段。
type AuditField struct {
	Key   string
	Value string
}

// Audit 写一行审计记录：[AUDIT] kind session=<id> k=v ...
func Audit(kind, session string, fields ...AuditField) {
	auditMu.Lock()
	l := auditLog
	auditMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[AUDIT] ")
	b.WriteString(strings.TrimSpace(kind))
	if session != "" {
		b.WriteString(" session=")
		b.WriteString(session)
	}
	for _, f := range fields {
		key := strings.TrimSpace(f.Key)
		if key == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(f.Value))
	}
	l.Println(b.String())
}

func quoteIfNeeded(v string) string {
	if v == "" {
		return `""`
	}
	if strings.ContainsAny(v, " \t\"=") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}
