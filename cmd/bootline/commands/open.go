package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bootline/bootline/internal/conn"
	"github.com/bootline/bootline/internal/relay"
	"github.com/bootline/bootline/internal/upload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// -------------------------------------------------------- Open -------------------------------------------------------

func Open() *cobra.Command {
	openCmd := &cobra.Command{
		Use:   "open device",
		Short: "Open a terminal session on a serial device",
		Long: `The open command relays your terminal to the given serial device.
Type <Enter> ~ . to end the session. With --image set, the remote
chainloader's boot request is answered by sending the image.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			flags := map[string]string{
				"baud_rate":  "baud",
				"data_bits":  "data-bits",
				"parity":     "parity",
				"stop_bits":  "stop-bits",
				"chunk_size": "chunk-size",
			}
			for key, flag := range flags {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return fmt.Errorf("binding %s flag: %w", flag, err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateLineSettings(); err != nil {
				return err
			}
			image, err := cmd.Flags().GetString("image")
			if err != nil {
				return fmt.Errorf("reading image flag: %w", err)
			}
			log, closeLog, err := setupLoggingFromViper("open")
			if err != nil {
				return err
			}
			defer closeLog()
			if err := handleOpenCommand(log, args[0], image); err != nil {
				return fmt.Errorf("running open command: %w", err)
			}
			return nil
		},
	}
	openCmd.Flags().StringP("image", "i", "", imageFlagDesc)
	openCmd.Flags().IntP("baud", "b", 0, baudFlagDesc)
	openCmd.Flags().Int("data-bits", 0, "Bits per character (5-8)")
	openCmd.Flags().String("parity", "", "Parity checking mode (N, O or E)")
	openCmd.Flags().Int("stop-bits", 0, "Stop bits transmitted after every character (1 or 2)")
	openCmd.Flags().Int("chunk-size", 0, chunkFlagDesc)
	return openCmd
}

// ------------------------------------------------------ Handlers -----------------------------------------------------

// handleOpenCommand is the terminal session application.
func handleOpenCommand(log *zap.Logger, device, image string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("standard input is not a terminal")
	}

	if err := waitForDevice(device); err != nil {
		return err
	}

	channel, err := conn.OpenSerial(device, conn.Options{
		BaudRate: viper.GetInt("baud_rate"),
		DataBits: viper.GetInt("data_bits"),
		Parity:   viper.GetString("parity"),
		StopBits: viper.GetInt("stop_bits"),
	})
	if err != nil {
		return err
	}
	defer channel.Close()
	log.Info("serial device opened",
		zap.String("device", device),
		zap.Int("baud_rate", viper.GetInt("baud_rate")),
	)

	opts := []relay.Option{relay.WithLogger(log)}
	if image != "" {
		req, err := upload.New(image)
		if err != nil {
			// The terminal session still works, only the push feature
			// stays unavailable.
			fmt.Println(WarningText(fmt.Sprintf("Image unavailable, boot requests will be ignored: %v", err)))
			log.Warn("image unavailable", zap.Error(err))
		} else {
			engine := upload.NewEngine(
				upload.WithChunkSize(viper.GetInt("chunk_size")),
				upload.WithLogger(log),
			)
			opts = append(opts, relay.WithUpload(req, engine))
		}
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("entering raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	out := os.Stdout
	writeBanner(out, device)
	opts = append(opts,
		relay.WithNotifier(func(line string) {
			fmt.Fprintf(out, "\r\n%s\r\n", InfoStyle(line))
		}),
		relay.WithProgress(func(p upload.Progress) {
			fmt.Fprintf(out, "\r%s", HelpStyle(fmt.Sprintf("%d/%d bytes", p.Sent, p.Total)))
		}),
	)

	r := relay.New(conn.WithLogging(channel, log), os.Stdin, out, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Run(ctx); err != nil {
		fmt.Fprintf(out, "\r\n%s\r\n", ErrorText(fmt.Sprintf("Session ended: %v", err)))
		return err
	}
	fmt.Fprintf(out, "\r\n%s\r\n", CheckText("Connection closed."))
	return nil
}

// waitForDevice blocks until the device node exists, covering boards that
// enumerate their USB serial adapter only after power-on.
func waitForDevice(device string) error {
	if _, err := os.Stat(device); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking device %s: %w", device, err)
	}
	fmt.Println(InfoStyle(fmt.Sprintf("Waiting for %s to appear...", device)))
	for {
		if _, err := os.Stat(device); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func writeBanner(out io.Writer, device string) {
	fmt.Fprintf(out, "%s\r\n%s\r\n",
		InfoStyle(fmt.Sprintf("Connected to %s.", device)),
		HelpStyle("To exit type <Enter> + ~ + . or unplug the serial port."))
}
