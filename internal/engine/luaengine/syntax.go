package luaengine

import (
	"strconv"

	"github.com/itsmostafa/goverticle/internal/engine"
)

// ShimModule is the preloaded module included by every wrapped program.
const ShimModule = "vertx.sync"

// Syntax switches the chunk environment to a fresh namespace table and
// runs the body in a block, so assignments to free names land in the
// namespace while reads fall back to globals.
type Syntax struct{}

func (Syntax) Prelude() string {
	return `local __vertx = require("` + ShimModule + `") `
}

func (Syntax) Open(id engine.ScopeID) string {
	return `local __ns = __vertx.bind(` + strconv.Quote(string(id)) + `) setfenv(1, __ns) do `
}

func (Syntax) Close(engine.ScopeID, string) string { return "\nend" }

func (Syntax) Trailer(engine.ScopeID) string { return "\nreturn __ns" }
