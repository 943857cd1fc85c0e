package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fruitripe.dev/chamber-hub/internal/simulator"
	"fruitripe.dev/chamber-hub/pkg/metrics"
	"fruitripe.dev/chamber-hub/pkg/mq"
)

var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Publish synthetic chamber telemetry",
	Long: `Publish synthetic ripening-chamber telemetry to RabbitMQ.

Each simulated chamber publishes a reading on every tick, with realistic
daily temperature cycles and ripening-driven CO2/ethylene drift.`,
	RunE: runSimulator,
}

func init() {
	rootCmd.AddCommand(simulatorCmd)

	simulatorCmd.Flags().String("mq-url", "amqp://localhost:5672", "RabbitMQ URL")
	simulatorCmd.Flags().String("mq-exchange", "telemetry", "RabbitMQ topic exchange for telemetry")
	simulatorCmd.Flags().StringSlice("serials", nil, "chamber serials to simulate (required)")
	simulatorCmd.Flags().Duration("interval", 10*time.Second, "publish interval per chamber")

	_ = viper.BindPFlag("simulator.mq.url", simulatorCmd.Flags().Lookup("mq-url"))
	_ = viper.BindPFlag("simulator.mq.exchange", simulatorCmd.Flags().Lookup("mq-exchange"))
	_ = viper.BindPFlag("simulator.serials", simulatorCmd.Flags().Lookup("serials"))
	_ = viper.BindPFlag("simulator.interval", simulatorCmd.Flags().Lookup("interval"))
}

func runSimulator(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting telemetry simulator")

	serials := viper.GetStringSlice("simulator.serials")
	if len(serials) == 0 {
		return errors.New("at least one chamber serial is required (--serials)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Publisher only; no queue is declared or bound here.
	mqClient := mq.New(mq.Config{
		URL:      viper.GetString("simulator.mq.url"),
		Exchange: viper.GetString("simulator.mq.exchange"),
	}, logger)
	mqClient.SetMetrics(metrics.NewMQMetrics("chamber_simulator"))
	defer func() {
		if err := mqClient.Close(); err != nil {
			logger.Error("failed to close mq client", "error", err)
		}
	}()

	sim, err := simulator.New(&simulator.Config{
		Logger:   logger,
		Client:   mqClient,
		Serials:  serials,
		Interval: viper.GetDuration("simulator.interval"),
	})
	if err != nil {
		return err
	}

	if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("telemetry simulator stopped")
	return nil
}
