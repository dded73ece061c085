// Command devconsole-client-demo is a minimal example consumer of
// pkg/client: it opens a channel, listens on it, publishes a line of text
// to it every five seconds, and prints anything it receives on it. The
// broker does not deliver a client's own messages back to it, so printed
// lines come only from other clients sending on the same channel id. It is
// not a general-purpose CLI front-end for DevConsole.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/devconsole/devconsole/pkg/client"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:9001/ws", "broker websocket URL")
	channel := flag.String("channel", "demo", "channel name to open and listen on")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	h, err := client.Connect(*url, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer h.Close()

	ch, err := h.Open(*channel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}

	if nodeID, ok := h.GetNodeID(); ok {
		logger.Info("connected", zap.Uint64("node_id", uint64(nodeID)), zap.String("trace_id", h.TraceID()))
	}

	text := make(chan string, 16)
	if err := h.Listen(ch, text, nil); err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}

	go func() {
		for {
			select {
			case line := <-text:
				fmt.Printf("[%s] %s\n", *channel, line)
			case <-h.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := h.Send(ch, fmt.Sprintf("hello from %s", h.TraceID())); err != nil {
				logger.Warn("send failed", zap.Error(err))
			}
		case <-sigCh:
			return
		case <-h.Done():
			return
		}
	}
}
