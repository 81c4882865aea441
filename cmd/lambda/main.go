package main

import (
	"context"
	"log/slog"
	"os"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/gin-gonic/gin"

	"github.com/ammiranda/treestore/config"
	"github.com/ammiranda/treestore/internal/app"
	"github.com/ammiranda/treestore/internal/lambda"
)

func main() {
	ctx := context.Background()
	gin.SetMode(gin.ReleaseMode)

	// Database secrets come from Secrets Manager when configured, everything else from the environment
	var provider config.Provider = config.NewEnvProvider("")
	if os.Getenv("AWS_SECRET_NAME") != "" {
		secrets, err := config.NewAWSConfigProvider(ctx)
		if err != nil {
			slog.Error("failed to create secrets provider", "error", err)
			os.Exit(1)
		}
		provider = config.NewChainProvider(provider, secrets)
	}

	logger := app.NewLogger(provider)
	a, err := app.New(ctx, provider, logger, app.Options{})
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	// Create handler in front of the router
	handler := lambda.NewHandler(a.Handler())

	// Start Lambda
	awslambda.Start(handler.Handle)
}
