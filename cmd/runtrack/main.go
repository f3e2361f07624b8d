// Runtrack CLI — инструмент командной строки для работы
// с runs, шагами и проверкой инвариантов через HTTP API.
//
// Использование:
//
//	runtrack [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	run       Управление runs
//	step      Управление шагами
//	validate  Проверка run из файла
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Runtrack/internal/cli"
	"github.com/shaiso/Runtrack/internal/config"
	"github.com/shaiso/Runtrack/internal/mq"
	"github.com/shaiso/Runtrack/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var rabbitURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "runtrack",
		Short:         "Runtrack CLI — run execution tracking",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultRabbit := os.Getenv("RABBITMQ_URL")
	if defaultRabbit == "" {
		defaultRabbit = config.DefaultRabbitMQURL
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:"+config.DefaultAPIPort, "API server URL")
	rootCmd.PersistentFlags().StringVar(&rabbitURL, "rabbitmq-url", defaultRabbit, "RabbitMQ URL for --via-queue")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	queueFn := func(ctx context.Context) (cli.StepUpdatePublisher, func() error, error) {
		logger := telemetry.NewLogger(os.Stderr, "WARN", "text")
		conn, err := mq.NewConnection(rabbitURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to RabbitMQ: %w", err)
		}
		if err := mq.SetupTopology(ctx, conn); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return mq.NewPublisher(conn, logger), conn.Close, nil
	}

	rootCmd.AddCommand(
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewStepCmd(clientFn, outputFn, queueFn),
		cli.NewValidateCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
