package engine

import "sync"

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// InitDefault creates the process-wide engine on first call; later calls return it and ignore cfg
func InitDefault(cfg Config) *Engine {
	defaultOnce.Do(func() {
		defaultEngine = New(cfg)
	})
	return defaultEngine
}

// Default returns the process-wide engine, creating it with DefaultConfig if needed
func Default() *Engine {
	return InitDefault(DefaultConfig())
}
