package wain

import (
	"go.uber.org/zap"

	"github.com/wainlabs/wain/internal/wasm"
	"github.com/wainlabs/wain/internal/wasm/interpreter"
)

// RuntimeConfig controls runtime behavior. The zero value is not usable;
// start from NewRuntimeConfig. The With* methods return copies, so a config
// can be shared as a template.
type RuntimeConfig struct {
	callStackCeiling int
	memoryLimitPages uint32
	logger           *zap.Logger
}

// NewRuntimeConfig returns a config with the interpreter's default call
// stack ceiling, the specification's 2^16-page memory cap, and a no-op
// logger.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		callStackCeiling: interpreter.DefaultCallStackCeiling,
		memoryLimitPages: wasm.MemoryLimitPages,
		logger:           zap.NewNop(),
	}
}

// WithCallStackCeiling sets the maximum call frame depth. The specification
// requires at least 1024; smaller values are raised to it.
func (c *RuntimeConfig) WithCallStackCeiling(ceiling int) *RuntimeConfig {
	if ceiling < 1024 {
		ceiling = 1024
	}
	ret := *c
	ret.callStackCeiling = ceiling
	return &ret
}

// WithMemoryLimitPages caps the memory any module in this runtime may
// declare, in 64KB pages. Values above the 2^16 hard cap are clamped.
func (c *RuntimeConfig) WithMemoryLimitPages(pages uint32) *RuntimeConfig {
	if pages > wasm.MemoryLimitPages {
		pages = wasm.MemoryLimitPages
	}
	ret := *c
	ret.memoryLimitPages = pages
	return &ret
}

// WithLogger sets the logger used by the runtime facade. The core decode,
// validate and execute paths never log.
func (c *RuntimeConfig) WithLogger(logger *zap.Logger) *RuntimeConfig {
	ret := *c
	ret.logger = logger
	return &ret
}
