package main

import (
	"context"

	"bankfeed-backend/cmd/bankfeed/commands"
	"bankfeed-backend/lib/serviceutil"
	"bankfeed-backend/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "bankfeed-cli")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer tel.Shutdown(context.Background())

	commands.ExecuteContext(ctx)
}
