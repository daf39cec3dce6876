package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/iamxvbaba/chanhub"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	app := &cli.Command{
		Name:  "chanhub-client",
		Usage: "Join a chanhub room and shout lines read from stdin",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://localhost:8080/socket/websocket", Sources: cli.EnvVars("CHANHUB_URL")},
			&cli.StringFlag{Name: "topic", Value: "room:lobby"},
			&cli.StringFlag{Name: "name", Usage: "display name sent with join"},
			&cli.StringFlag{Name: "origin", Usage: "Origin header sent with the handshake"},
		},
		Action: run,
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("client failed")
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	opts := chanhub.DefaultOptions()
	opts.HeartbeatEnabled = true
	opts.HeartbeatInterval = 10 * time.Second
	opts.ReconnectEnabled = true
	opts.ReconnectBackoff = time.Second
	opts.ReconnectMaxBackoff = 10 * time.Second
	opts.Origin = cmd.String("origin")

	client, err := chanhub.ConnectWithOptions(cmd.String("url"), "", &opts)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	topic := cmd.String("topic")
	for _, event := range []string{"shout", "joined", "left"} {
		event := event
		client.On(topic, event, func(payload json.RawMessage) {
			fmt.Printf("[%s] %s %s\n", topic, event, string(payload))
		})
	}
	client.On(topic, chanhub.EventClose, func(json.RawMessage) {
		log.Info().Str("topic", topic).Msg("channel closed")
	})

	joinCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	resp, err := client.Join(joinCtx, topic, map[string]string{"name": cmd.String("name")})
	cancel()
	if err != nil {
		return fmt.Errorf("join %s: %w", topic, err)
	}
	log.Info().Str("topic", topic).Str("response", string(resp)).Msg("joined")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return client.Leave(topic)
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := client.Push(topic, "shout", line); err != nil {
				log.Warn().Err(err).Msg("push failed")
			}
		case <-ctx.Done():
			return client.Leave(topic)
		}
	}
}
