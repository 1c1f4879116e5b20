// Package kvtest provides an in-process miniredis-backed kvstore.Store for
// tests in other packages. Kept separate from kvstore itself so production
// binaries never link miniredis.
package kvtest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/otcsettle/controlplane/internal/kvstore"
)

func NewStore(t *testing.T) *kvstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return kvstore.Connect(mr.Addr(), "", 0)
}
