package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/Sentinel-Gate/toolgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/toolgate/internal/domain/audit"
)

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	_ Pinger = (*FileStore)(nil)
	_ Pinger = (*SQLiteStore)(nil)
)

// OpenStore builds the audit store named by output:
//
//	stdout              JSON lines on standard output
//	file:///abs/path    JSON lines file with size rotation
//	sqlite:///abs/path  SQLite table tool_call_audit
func OpenStore(ctx context.Context, output string, logger *slog.Logger) (audit.Store, error) {
	if output == "" || output == "stdout" {
		return memory.NewAuditStore(os.Stdout, 0), nil
	}

	u, err := url.Parse(output)
	if err != nil {
		return nil, fmt.Errorf("parse audit output %q: %w", output, err)
	}
	if u.Host != "" || u.Path == "" || !filepath.IsAbs(u.Path) {
		return nil, fmt.Errorf("audit output %q: path must be absolute", output)
	}

	switch u.Scheme {
	case "file":
		return NewFileStore(FileConfig{Path: u.Path}, logger)
	case "sqlite":
		return NewSQLiteStore(ctx, u.Path)
	default:
		return nil, fmt.Errorf("audit output %q: unsupported scheme %q", output, u.Scheme)
	}
}
