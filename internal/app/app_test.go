package app

import (
	"testing"

	"github.com/skobkin/gfxpower/internal/auth"
	"github.com/skobkin/gfxpower/internal/config"
)

func TestAuthBackendSelection(t *testing.T) {
	t.Parallel()

	if _, ok := authBackend(config.AuthRoot, nil).(auth.Root); !ok {
		t.Fatal("root backend not selected")
	}
	if _, ok := authBackend(config.AuthPolkit, nil).(*auth.Polkit); !ok {
		t.Fatal("polkit backend not selected")
	}
}
