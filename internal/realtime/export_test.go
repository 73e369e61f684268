package realtime

import (
	"sync"

	"github.com/rickgao/docchat/internal/config"
)

// reset discards the shared socket so each test starts from scratch.
func reset(rc func() config.RuntimeConfig) {
	mu.Lock()
	if shared != nil {
		shared.Close()
	}
	shared = nil
	opts = settings{}
	acquired = false
	once = sync.Once{}
	runtimeConfig = rc
	mu.Unlock()
}
