package commands

import (
	"fmt"

	"github.com/bootline/bootline/internal/logger"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	imageFlagDesc = `Boot image to send when the remote chainloader asks for one.
Without this flag boot requests are ignored.`
	baudFlagDesc  = "Baud rate of the serial line"
	chunkFlagDesc = "Chunk size in bytes for image pushes"
)

var validate = validator.New()

// validateLineSettings checks the resolved serial line options before the
// port is opened, so a typo fails fast instead of surfacing as an odd
// device error.
func validateLineSettings() error {
	if err := validate.Var(viper.GetInt("baud_rate"), "gt=0"); err != nil {
		return fmt.Errorf("invalid baud rate %d", viper.GetInt("baud_rate"))
	}
	if err := validate.Var(viper.GetInt("data_bits"), "oneof=5 6 7 8"); err != nil {
		return fmt.Errorf("invalid data bits %d (use 5-8)", viper.GetInt("data_bits"))
	}
	if err := validate.Var(viper.GetString("parity"), "oneof=N n O o E e"); err != nil {
		return fmt.Errorf("invalid parity %q (use N, O or E)", viper.GetString("parity"))
	}
	if err := validate.Var(viper.GetInt("stop_bits"), "oneof=1 2"); err != nil {
		return fmt.Errorf("invalid stop bits %d (use 1 or 2)", viper.GetInt("stop_bits"))
	}
	if err := validate.Var(viper.GetInt("chunk_size"), "gt=0"); err != nil {
		return fmt.Errorf("invalid chunk size %d", viper.GetInt("chunk_size"))
	}
	return nil
}

func setupLoggingFromViper(cmd string) (*zap.Logger, func(), error) {
	if !viper.GetBool("verbose") {
		return zap.NewNop(), func() {}, nil
	}
	log, err := logger.New(fmt.Sprintf(".bootline-%s.log", cmd))
	if err != nil {
		return nil, nil, fmt.Errorf("could not log to the provided file: %w", err)
	}
	return log, func() { _ = log.Sync() }, nil
}
