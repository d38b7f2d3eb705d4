package engine

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// ScopePrefix starts every generated scope identifier.
const ScopePrefix = "Mod___VertxInternalVert__"

// ScopeID names the isolated top-level namespace of one running unit. It is
// a valid identifier in every supported language.
type ScopeID string

func (id ScopeID) String() string { return string(id) }

// Valid reports whether id has the shape produced by a NameAllocator.
func (id ScopeID) Valid() bool {
	n, ok := strings.CutPrefix(string(id), ScopePrefix)
	if !ok || n == "" {
		return false
	}
	_, err := strconv.ParseUint(n, 10, 64)
	return err == nil
}

// NameAllocator hands out ScopeIDs that are never reused.
type NameAllocator struct {
	seq atomic.Uint64
}

// Scopes is shared by every factory in the process.
var Scopes = &NameAllocator{}

// Next returns a fresh ScopeID. Safe for concurrent use.
func (a *NameAllocator) Next() ScopeID {
	return ScopeID(ScopePrefix + strconv.FormatUint(a.seq.Add(1)-1, 10))
}
