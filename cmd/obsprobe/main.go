// obsprobe connects to a single OBS instance, runs the handshake and prints
// the instance version and output status to the console.
// Usage: go run ./cmd/obsprobe --host 127.0.0.1 --port 4455 --password secret
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reStrike-d-o-o/obslink/internal/connection"
	"github.com/reStrike-d-o-o/obslink/internal/model"
)

func main() {
	host := flag.String("host", "127.0.0.1", "OBS host")
	port := flag.Int("port", 0, "OBS port (default: 4455 for v5, 4444 for v4)")
	password := flag.String("password", "", "OBS WebSocket password")
	protoFlag := flag.String("protocol", "v5", "protocol version: v4 or v5")
	timeout := flag.Duration("timeout", 10*time.Second, "handshake timeout")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	proto := model.Protocol(*protoFlag)
	if !proto.Valid() {
		fmt.Fprintf(os.Stderr, "unknown protocol %q\n", *protoFlag)
		os.Exit(1)
	}
	if *port == 0 {
		*port = proto.DefaultPort()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	mcfg := connection.DefaultManagerConfig()
	mcfg.HandshakeTimeout = *timeout
	mcfg.Reconnect.AutoReconnect = false

	mgr := connection.NewManager(mcfg, logger, nil)
	if err := mgr.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start manager: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		mgr.Stop(stopCtx)
	}()

	probe := connection.Config{
		Name:     "probe",
		Host:     *host,
		Port:     *port,
		Password: *password,
		Protocol: proto,
		Enabled:  true,
	}
	if err := mgr.AddConnection(probe); err != nil {
		fmt.Fprintf(os.Stderr, "add connection: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("connecting to ws://%s:%d (%s)...\n", *host, *port, proto)

	deadline := time.After(*timeout + 2*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			fmt.Fprintln(os.Stderr, "probe timed out")
			os.Exit(1)
		case change := <-mgr.StateChanges():
			fmt.Printf("state: %s\n", change.State)
			switch change.State {
			case model.StateError:
				fmt.Fprintf(os.Stderr, "error: %s\n", change.ErrorDetail)
				os.Exit(1)
			case model.StateAuthenticated:
				if err := printStatus(ctx, mgr, proto); err != nil {
					fmt.Fprintf(os.Stderr, "status: %v\n", err)
					os.Exit(1)
				}
				return
			}
		}
	}
}

// printStatus issues the protocol's status requests against the ready session
// and prints the raw replies.
func printStatus(ctx context.Context, mgr *connection.Manager, proto model.Protocol) error {
	sessions := mgr.ReadySessions()
	if len(sessions) == 0 {
		return fmt.Errorf("no ready session")
	}
	sess := sessions[0]

	var requests []string
	switch proto {
	case model.ProtocolV5:
		requests = []string{"GetVersion", "GetRecordStatus", "GetStreamStatus", "GetStats"}
	case model.ProtocolV4:
		requests = []string{"GetVersion", "GetStreamingStatus", "GetStats"}
	}

	for _, rt := range requests {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		reply, err := sess.Request(reqCtx, rt)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", rt, err)
		}

		switch {
		case reply.V5 != nil:
			if !reply.V5.RequestStatus.Result {
				fmt.Printf("%s: rejected (%s)\n", rt, reply.V5.RequestStatus.Comment)
				continue
			}
			fmt.Printf("%s: %s\n", rt, reply.V5.ResponseData)
		case reply.V4 != nil:
			if reply.V4.Failed() {
				fmt.Printf("%s: rejected (%s)\n", rt, reply.V4.Detail())
				continue
			}
			fmt.Printf("%s: %s\n", rt, reply.V4.Raw)
		}
	}
	return nil
}
