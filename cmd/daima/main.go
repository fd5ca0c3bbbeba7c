package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/omochice/daima/internal/client"
	"github.com/omochice/daima/internal/config"
	"github.com/omochice/daima/internal/logging"
	"github.com/omochice/daima/pkg/protocol"
)

// lineTag marks stdin lines sent as frames. The daemon decodes it as Unknown.
const lineTag = 2

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("client failed")
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to a TOML config file")
	name := flag.String("name", "daima_cli", "Name announced to the daemon")
	raw := flag.Bool("raw", false, "Send lines unframed, terminated by \\n\\0")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [socket]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logging.Configure(logging.Options{App: "daima", Level: cfg.LogLevel})

	socket := cfg.ResolvedSocketPath()
	if flag.NArg() > 0 {
		socket = flag.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, socket,
		client.WithCodec(cfg.ValueCodec()),
		client.WithLimits(protocol.Limits{MaxPayloadLength: cfg.MaxFrameBytes}),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	log.Info().Str("socket", socket).Str("name", *name).Msg("connected")

	if err := c.Send(ctx, protocol.Init{Name: *name}); err != nil {
		return fmt.Errorf("failed to announce: %w", err)
	}

	// Start goroutine to receive and display messages
	go func() {
		for {
			msg, err := c.Receive(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
					log.Debug().Err(err).Msg("receive stopped")
				}
				return
			}
			switch m := msg.(type) {
			case protocol.Init:
				fmt.Printf("*** daemon: %s ***\n", m.Name)
			case protocol.Unknown:
				fmt.Printf("*** daemon sent message tag %d ***\n", m.Tag)
			}
		}
	}()

	// Read from stdin and send messages
	fmt.Println("Type your messages (or 'exit' to quit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" {
			break
		}

		if *raw {
			err = c.SendLine(ctx, text)
		} else {
			err = c.SendFrame(ctx, lineTag, []byte(text))
		}
		if err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	log.Info().Msg("disconnected from daemon")
	return nil
}
