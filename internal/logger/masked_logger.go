package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 敏感信息类型
const (
	APIKey   = "api_key"
	Password = "password"
	Token    = "token"
	DSN      = "dsn"
)

// MaskSensitiveInfo 对敏感信息进行打码
func MaskSensitiveInfo(info string, infoType string) string {
	if info == "" {
		return ""
	}

	switch infoType {
	case APIKey, Password, Token, DSN:
		if len(info) <= 8 {
			return "****"
		}
		// 保留前4位和后4位
		return info[:4] + strings.Repeat("*", len(info)-8) + info[len(info)-4:]
	default:
		return info
	}
}

// NewMaskedLogger 创建一个会对敏感信息进行打码的日志记录器
func NewMaskedLogger(baseLogger *zap.Logger) *zap.Logger {
	return baseLogger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &maskedCore{Core: core}
	}))
}

type maskedCore struct {
	zapcore.Core
}

// With 保证通过 logger.With 附加的字段同样被打码
func (c *maskedCore) With(fields []zapcore.Field) zapcore.Core {
	return &maskedCore{Core: c.Core.With(maskFields(fields))}
}

func (c *maskedCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *maskedCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(entry, maskFields(fields))
}

func maskFields(fields []zapcore.Field) []zapcore.Field {
	for i, field := range fields {
		if field.Type == zapcore.StringType && isSensitiveField(field.Key) {
			fields[i] = zap.String(field.Key, MaskSensitiveInfo(field.String, getFieldType(field.Key)))
		}
	}
	return fields
}

// isSensitiveField 判断字段是否为敏感字段
func isSensitiveField(key string) bool {
	key = strings.ToLower(key)
	for _, marker := range []string{"api_key", "apikey", "password", "token", "secret", "auth", "bearer", "dsn"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

// getFieldType 根据字段名获取敏感信息类型
func getFieldType(key string) string {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "api_key") || strings.Contains(key, "apikey"):
		return APIKey
	case strings.Contains(key, "password"):
		return Password
	case strings.Contains(key, "dsn"):
		return DSN
	case strings.Contains(key, "token") || strings.Contains(key, "secret") ||
		strings.Contains(key, "auth") || strings.Contains(key, "bearer"):
		return Token
	}
	return ""
}
