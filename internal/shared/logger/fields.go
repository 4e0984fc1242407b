package logger

import (
	"time"

	"go.uber.org/zap"
)

// Common field constructors so keys stay consistent across packages.

func RequestID(id string) zap.Field { return zap.String("request_id", id) }

func UserID(id string) zap.Field { return zap.String("user_id", id) }

func Role(role string) zap.Field { return zap.String("role", role) }

func SessionID(id string) zap.Field { return zap.String("session_id", id) }

func Permission(perm string) zap.Field { return zap.String("permission", perm) }

func Path(p string) zap.Field { return zap.String("path", p) }

func Method(m string) zap.Field { return zap.String("method", m) }

func Status(code int) zap.Field { return zap.Int("status", code) }

func Duration(d time.Duration) zap.Field { return zap.Duration("duration", d) }

func Op(op string) zap.Field { return zap.String("op", op) }

func Err(err error) zap.Field { return zap.Error(err) }
