package main

import (
	"context"
	"log/slog"
	"os"

	ioc "github.com/duskvault/signing-core/pkg/infra/ioc"
	sm_in "github.com/duskvault/signing-core/pkg/sm/ports/in"
)

// wsm-admin hosts the administrative operations that never ride the
// request path. The only one today is integrity-material rotation.
func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		slog.Error("usage: wsm-admin rotate-integrity")
		os.Exit(2)
	}

	builder := ioc.NewContainerBuilder()
	c := builder.WithEnvFile().WithMongoDB().WithSigningModule().Build()
	defer builder.Close(c)

	switch os.Args[1] {
	case "rotate-integrity":
		var keystore sm_in.KeyStoreService
		if err := c.Resolve(&keystore); err != nil {
			slog.ErrorContext(ctx, "failed to resolve keystore", "error", err)
			os.Exit(1)
		}
		if err := keystore.RotateIntegrityMaterial(ctx); err != nil {
			slog.ErrorContext(ctx, "integrity rotation failed", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "integrity material rotated")
	default:
		slog.Error("unrecognized command", "command", os.Args[1])
		os.Exit(2)
	}
}
