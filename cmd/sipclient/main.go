// Command sipclient registers a SIP account and optionally places a
// call, printing engine events as they arrive. Credentials come from
// the environment: SIP_DOMAIN, SIP_USERNAME, SIP_PASSWORD and the
// optional SIP_PORT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/arzzra/sip_client/pkg/account"
	"github.com/arzzra/sip_client/pkg/media"
	"github.com/arzzra/sip_client/pkg/sip/message"
	"github.com/arzzra/sip_client/pkg/sip/stack"
)

func main() {
	var (
		localHost = flag.String("host", "", "Local address to bind (default all interfaces)")
		localPort = flag.Int("port", 5060, "Local SIP port, 0 picks an ephemeral port")
		proto     = flag.String("transport", "udp", "Transport: udp or tcp")
		target    = flag.String("call", "", "Target URI for an outgoing call, e.g. sip:bob@example.com")
		callFor   = flag.Duration("duration", 15*time.Second, "How long to keep an answered call up")
		mediaPort = flag.Int("media-port", 10000, "Local RTP port announced in SDP")
		expires   = flag.Int("expires", 3600, "Requested registration lifetime in seconds")
		debug     = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	acc, err := accountFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	stk, err := stack.New(acc, stack.Config{
		LocalHost:      *localHost,
		LocalPort:      *localPort,
		Transport:      *proto,
		ExpiresSeconds: *expires,
		Logger:         logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "stack: %v\n", err)
		os.Exit(1)
	}

	if err := stk.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}
	defer stk.Stop()

	go func() {
		for ev := range stk.Events() {
			fmt.Printf("%s %s\n", ev.Time.Format("15:04:05.000"), ev)
		}
	}()

	ctx := context.Background()
	if err := stk.Register(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *target != "" {
		if err := placeCall(ctx, stk, *target, *localHost, *mediaPort, *callFor, sigCh); err != nil {
			fmt.Fprintf(os.Stderr, "call: %v\n", err)
		}
		return
	}

	fmt.Println("registered, waiting for Ctrl+C")
	<-sigCh
}

func placeCall(ctx context.Context, stk *stack.Stack, target, host string, mediaPort int, keepUp time.Duration, sigCh <-chan os.Signal) error {
	uri, err := message.ParseURI(target)
	if err != nil {
		return fmt.Errorf("invalid target %q: %w", target, err)
	}

	if host == "" {
		host = "127.0.0.1"
	}
	offer, err := media.BuildOffer(media.DefaultOfferConfig(host, mediaPort))
	if err != nil {
		return err
	}

	callID, err := stk.Call(ctx, uri, offer)
	if err != nil {
		return err
	}
	fmt.Printf("calling %s, call-id %s\n", target, callID)

	select {
	case <-time.After(keepUp):
		return stk.Hangup(callID)
	case <-sigCh:
		if err := stk.Hangup(callID); err != nil {
			return stk.Cancel(callID)
		}
		return nil
	}
}

func accountFromEnv() (*account.Account, error) {
	domain := os.Getenv("SIP_DOMAIN")
	username := os.Getenv("SIP_USERNAME")
	password := os.Getenv("SIP_PASSWORD")

	acc, err := account.New(username, password, domain)
	if err != nil {
		return nil, fmt.Errorf("SIP_DOMAIN, SIP_USERNAME and SIP_PASSWORD must be set: %w", err)
	}

	if p := os.Getenv("SIP_PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid SIP_PORT %q", p)
		}
		acc.Port = port
	}

	return acc, nil
}
