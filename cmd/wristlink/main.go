package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/bhandras/wristlink/internal/config"
	"github.com/bhandras/wristlink/internal/crypto"
	"github.com/bhandras/wristlink/internal/relay"
	"github.com/bhandras/wristlink/internal/session"
	"github.com/bhandras/wristlink/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("wristlink failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(args) > 0 {
		switch args[0] {
		case "pair":
			return pairCommand(cfg)
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Printf("wristlink %s\n", version.RichVersion())
			return nil
		default:
			printUsage()
			return fmt.Errorf("unknown command: %s", args[0])
		}
	}

	return runBridge(cfg)
}

func parseFlags(cfg *config.Config, argv []string) ([]string, error) {
	fs := flag.NewFlagSet("wristlink", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerAddress, "server", cfg.ServerAddress, "server websocket address (host:port)")
	fs.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device id reported to the server")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable verbose logging")
	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

// pairCommand prints the pairing QR code the companion app scans: the server
// address plus, when configured, a freshly minted device token.
func pairCommand(cfg *config.Config) error {
	payload := "wristlink://" + cfg.ServerAddress
	if cfg.AccessKey != "" {
		tokens, err := crypto.NewTokenManager(cfg.AccessKey)
		if err != nil {
			return err
		}
		token, err := tokens.CreateToken(cfg.DeviceID, "watch")
		if err != nil {
			return fmt.Errorf("failed to mint device token: %w", err)
		}
		payload += "#" + token
	}

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		log.Warn().Err(err).Msg("failed to generate QR code")
		fmt.Println(payload)
		return nil
	}
	fmt.Println(qr.ToSmallString(false))
	fmt.Printf("Server: %s\n", cfg.ServerAddress)
	return nil
}

// runBridge runs both halves of the relay over an in-process loopback: the
// bridge side owns the real server connection, the remote side reduces the
// forwarded stream exactly as the watch would. Useful for exercising a
// server end to end from one machine.
func runBridge(cfg *config.Config) error {
	wsHeader := http.Header{}
	if cfg.AccessKey != "" {
		tokens, err := crypto.NewTokenManager(cfg.AccessKey)
		if err != nil {
			return err
		}
		token, err := tokens.CreateToken(cfg.DeviceID, "phone")
		if err != nil {
			return fmt.Errorf("failed to mint device token: %w", err)
		}
		wsHeader.Set("Authorization", "Bearer "+token)
	}

	phoneEnd, watchEnd := relay.NewLoopbackPair("phone", "watch")

	bridge := relay.NewBridge(relay.BridgeConfig{
		Messenger:      phoneEnd,
		Channels:       phoneEnd,
		WSURL:          cfg.WebSocketURL(),
		WSHeader:       wsHeader,
		HTTPBaseURL:    cfg.HTTPBaseURL(),
		ReconnectDelay: cfg.ReconnectDelay,
		Log:            log.With().Str("side", "bridge").Logger(),
	})
	phoneEnd.Handle(bridge.HandleMessage, bridge.HandleChannel)
	bridge.Start()
	defer bridge.Stop()

	transport := relay.NewTransport(relay.Config{
		Messenger:      watchEnd,
		Channels:       watchEnd,
		Nodes:          watchEnd,
		RequestTimeout: cfg.RequestTimeout,
		BinaryTimeout:  cfg.BinaryTimeout,
		Log:            log.With().Str("side", "remote").Logger(),
	})
	defer transport.Close()

	listener := relay.NewListener(relay.ListenerConfig{
		Transport: transport,
		Wake: func() {
			log.Info().Msg("permission request pending")
		},
		Log: log.With().Str("side", "remote").Logger(),
	})
	watchEnd.Handle(
		func(_, path string, data []byte) { listener.HandleMessage(path, data) },
		func(_, path string, r io.Reader) { listener.HandleChannel(path, r) },
	)

	client := session.NewClient(session.Config{
		Transport:      &relay.SessionTransport{Transport: transport, Log: log.Logger},
		ReconnectDelay: cfg.ReconnectDelay,
		Log:            log.With().Str("side", "remote").Logger(),
	})
	defer client.Destroy()

	go watchUpdates(client)
	client.Connect()
	log.Info().Str("server", cfg.ServerAddress).Msg("wristlink bridge running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
	return nil
}

// watchUpdates logs the reduced session state as it evolves.
func watchUpdates(client *session.Client) {
	statusCh, cancelStatus := client.ConnectionStatus().Subscribe()
	defer cancelStatus()
	stateCh, cancelState := client.ClaudeState().Subscribe()
	defer cancelState()
	msgCh, cancelMsgs := client.Messages().Subscribe()
	defer cancelMsgs()
	promptCh, cancelPrompt := client.Prompt().Subscribe()
	defer cancelPrompt()
	usageCh, cancelUsage := client.Usage().Subscribe()
	defer cancelUsage()

	for {
		select {
		case status := <-statusCh:
			log.Info().Stringer("status", status).Msg("connection")
		case state := <-stateCh:
			log.Info().Str("status", state.Status).Str("tool", state.CurrentTool).Msg("agent")
		case msgs := <-msgCh:
			if n := len(msgs); n > 0 {
				last := msgs[n-1]
				log.Info().Str("role", last.Role).Str("content", last.Content).Msg("chat")
			}
		case prompt := <-promptCh:
			if prompt != nil {
				log.Info().Str("question", prompt.Question).Bool("permission", prompt.IsPermission).Msg("prompt")
			}
		case usage := <-usageCh:
			log.Info().Int("tokens", usage.TotalContext).Float64("cost", usage.CostUSD).Msg("usage")
		}
	}
}

func printUsage() {
	fmt.Println(`wristlink - companion session relay

Usage:
  wristlink [flags]          run the relay bridge against the configured server
  wristlink pair             print the pairing QR code
  wristlink version          print version

Flags:
  -server host:port          server websocket address
  -device-id id              device id reported to the server
  -debug                     verbose logging`)
}
