package tor

import (
	"errors"
	"io"
	"testing"
	"time"
)

var _ io.Closer = (*EmbeddedTor)(nil)

func TestNewEmbeddedTor(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		embedded := NewEmbeddedTor()
		if embedded.startupTimeout != DefaultStartupTimeout {
			t.Errorf("startupTimeout = %v, want %v", embedded.startupTimeout, DefaultStartupTimeout)
		}
		if embedded.logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("applies WithStartupTimeout", func(t *testing.T) {
		t.Parallel()

		embedded := NewEmbeddedTor(WithStartupTimeout(30 * time.Second))
		if embedded.startupTimeout != 30*time.Second {
			t.Errorf("startupTimeout = %v", embedded.startupTimeout)
		}
	})
}

func TestEmbeddedTorBeforeStart(t *testing.T) {
	t.Parallel()

	embedded := NewEmbeddedTor()
	if embedded.IsRunning() {
		t.Error("IsRunning() = true before start")
	}
	if embedded.SocksAddr() != "" || embedded.ControlAddr() != "" {
		t.Errorf("addresses set before start: %q %q", embedded.SocksAddr(), embedded.ControlAddr())
	}
	if _, err := embedded.NewClient(time.Second); !errors.Is(err, ErrNotRunning) {
		t.Errorf("NewClient() error = %v, want ErrNotRunning", err)
	}
	for range 2 {
		if err := embedded.Close(); err != nil {
			t.Errorf("Close() on unstarted instance: %v", err)
		}
	}
}
