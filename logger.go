package lazylink

import (
	"go.uber.org/zap"
)

func modField(m *Module) zap.Field {
	return zap.String("module", m.id)
}

func logFailure(log *zap.Logger, m *Module, kind string, idx int, err error) {
	log.Warn("slot failed",
		modField(m),
		zap.String("kind", kind),
		zap.Int("index", idx),
		zap.Error(err))
}
