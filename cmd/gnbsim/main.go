package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/roman-kulish/iq-capture/internal/gnbsim"
	"github.com/roman-kulish/iq-capture/internal/iq"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	config := gnbsim.Config{Topics: iq.DefaultTopics()}
	var level string
	flag.StringVar(&config.RXEndpoint, "rx", "tcp://0.0.0.0:55555", "RX stream publisher endpoint")
	flag.StringVar(&config.TXEndpoint, "tx", "tcp://0.0.0.0:55556", "TX stream publisher endpoint")
	flag.StringVar(&config.ControlEndpoint, "control", "tcp://0.0.0.0:55557", "Control responder endpoint")
	flag.StringVar(&config.Topics.RX, "rx-topic", iq.TopicRX, "RX stream topic")
	flag.StringVar(&config.Topics.TX, "tx-topic", iq.TopicTX, "TX stream topic")
	flag.IntVarP(&config.Antennas, "antennas", "a", gnbsim.DefaultAntennas, "Antennas per frame")
	flag.IntVarP(&config.Samples, "samples", "s", gnbsim.DefaultSamples, "Samples per antenna per frame")
	flag.Float64VarP(&config.FrameRate, "rate", "r", gnbsim.DefaultFrameRate, "Frames per second per stream")
	flag.StringVar(&level, "log-level", "INFO", "Log level")
	flag.Parse()

	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := gnbsim.New(config, gnbsim.WithLogger(logger)).Run(ctx); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
