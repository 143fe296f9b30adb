package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	jobs "github.com/duskvault/signing-core/pkg/app/jobs"
	common "github.com/duskvault/signing-core/pkg/common"
	notify_services "github.com/duskvault/signing-core/pkg/cp/notify/services"
	recovery_in "github.com/duskvault/signing-core/pkg/cp/recovery/ports/in"
	ioc "github.com/duskvault/signing-core/pkg/infra/ioc"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	builder := ioc.NewContainerBuilder()
	c := builder.WithEnvFile().WithMongoDB().WithSigningModule().WithInboundPorts().Build()
	defer builder.Close(c)

	var cfg common.Config
	if err := c.Resolve(&cfg); err != nil {
		slog.ErrorContext(ctx, "failed to resolve config", "error", err)
		panic(err)
	}

	var dispatcher *notify_services.Dispatcher
	if err := c.Resolve(&dispatcher); err != nil {
		slog.ErrorContext(ctx, "failed to resolve notification dispatcher", "error", err)
		panic(err)
	}
	go jobs.NewNotificationDispatchJob(dispatcher, cfg.DispatchInterval).Run(ctx)

	var recovery recovery_in.RecoveryService
	if err := c.Resolve(&recovery); err != nil {
		slog.ErrorContext(ctx, "failed to resolve recovery service", "error", err)
		panic(err)
	}
	go jobs.NewRecoveryExpiryJob(recovery, cfg.ExpirySweepInterval).Run(ctx)

	slog.InfoContext(ctx, "signing core started")

	// The transport layer (REST, queue consumers) is out of this core's
	// scope; it resolves the inbound ports from the same container and
	// terminates requests into them. This process hosts the background
	// loops and keeps the container alive until shutdown.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.InfoContext(ctx, "signing core stopping")
}
