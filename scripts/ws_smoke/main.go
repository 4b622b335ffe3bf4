package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vovakirdan/chatprobe/internal/api"
	"github.com/vovakirdan/chatprobe/internal/proto"
	"github.com/vovakirdan/chatprobe/internal/realtime"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run joins the user's own room, sends a message to itself and waits for
// the push to come back.
func run() error {
	addr := flag.String("addr", "http://localhost:8080", "backend base URL")
	token := flag.String("token", "", "backend credential")
	userID := flag.Int64("user", 199, "user id to join and send to")
	protocol := flag.String("protocol", realtime.ProtocolV4, "socket.io protocol revision")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ch, err := realtime.New(realtime.Options{URL: *addr, Token: *token, Protocol: *protocol})
	if err != nil {
		return err
	}
	defer ch.Close()

	joined := make(chan struct{}, 1)
	received := make(chan proto.Message, 1)
	failed := make(chan string, 1)

	ch.On(proto.EventConnect, func([]json.RawMessage) {
		if err := ch.Emit(ctx, proto.EventJoin, *userID); err != nil {
			failed <- fmt.Sprintf("join: %v", err)
		}
	})
	ch.On(proto.EventJoined, func([]json.RawMessage) {
		select {
		case joined <- struct{}{}:
		default:
		}
	})
	ch.On(proto.EventReceiveMessage, func(args []json.RawMessage) {
		if len(args) == 0 {
			return
		}
		var msg proto.Message
		if err := json.Unmarshal(args[0], &msg); err != nil {
			log.Printf("decode message: %v", err)
			return
		}
		select {
		case received <- msg:
		default:
		}
	})
	ch.On(proto.EventConnectError, func(args []json.RawMessage) {
		select {
		case failed <- fmt.Sprintf("connect_error: %s", firstArg(args)):
		default:
		}
	})

	if err := ch.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	select {
	case <-joined:
	case reason := <-failed:
		return fmt.Errorf("%s", reason)
	case <-ctx.Done():
		return fmt.Errorf("waiting for joined: %w", ctx.Err())
	}

	sender := api.NewClient(api.Config{BaseURL: *addr, Token: *token, Timeout: *timeout}, nil, nil)
	if err := sender.Send(ctx, proto.SendRequest{Message: *text, ReceiverID: *userID}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		select {
		case msg := <-received:
			if msg.Message == *text {
				fmt.Printf("received from %d at %s: %s\n", msg.SenderID, msg.Timestamp, msg.Message)
				return nil
			}
		case reason := <-failed:
			return fmt.Errorf("%s", reason)
		case <-ctx.Done():
			return fmt.Errorf("waiting for message: %w", ctx.Err())
		}
	}
}

func firstArg(args []json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	return string(args[0])
}
