// Command rudp-echo is a small demo binary exercising the transport:
// run in server mode to echo back every data packet a client sends, or
// in client mode to connect and send each line read from stdin.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ventosilenzioso/go-rudp/internal/config"
	"github.com/ventosilenzioso/go-rudp/internal/events"
	"github.com/ventosilenzioso/go-rudp/internal/udpio"
	"github.com/ventosilenzioso/go-rudp/pkg/rudp"
	"github.com/ventosilenzioso/go-rudp/pkg/rudplog"
)

const version = "1.0.0"

func main() {
	mode := flag.String("mode", "server", "server or client")
	remoteHost := flag.String("remote-host", "127.0.0.1", "client mode: server host")
	remotePort := flag.Int("remote-port", 9999, "client mode: server port")
	flag.Parse()

	rudplog.Banner("RUDP Echo", version)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := rudplog.New(cfg.LogLevel)

	switch *mode {
	case "server":
		runServer(cfg, log)
	case "client":
		runClient(cfg, log, *remoteHost, *remotePort)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(1)
	}
}

func runServer(cfg *config.Config, log zerolog.Logger) {
	rudplog.Section("Server Mode")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("starting rudp echo server")

	io, err := udpio.NewServerAdapter(cfg.Host, cfg.Port)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind udp socket")
	}

	em := events.NewManager()
	conn := rudp.NewServer(io, cfg.Transport, events.Bind(em))
	conn.SetLogger(log)

	em.Register(events.TypeClientConnect, func(ev events.Event) {
		_ = conn.AcceptSYN(ev.Peer)
	})
	em.Register(events.TypePacketReceived, func(ev events.Event) {
		if ev.Packet == nil || ev.Packet.Type != rudp.PacketDAT {
			return
		}
		log.Info().Str("peer", ev.Peer.String()).Bytes("data", ev.Packet.Data).Msg("echoing packet")
		_ = conn.Send(ev.Peer, rudp.PacketDAT, ev.Packet.Data)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.Listen()
	}()

	keepAlive := time.NewTicker(cfg.Transport.KeepAliveInterval)
	cleanup := time.NewTicker(cfg.Transport.SessionTimeout / 3)
	defer keepAlive.Stop()
	defer cleanup.Stop()
	go func() {
		for {
			select {
			case <-keepAlive.C:
				conn.SendKeepAlive()
			case <-cleanup.C:
				conn.CleanupStaleSessions()
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("server loop exited")
	case sig := <-sigCh:
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		_ = conn.Disconnect()
		time.Sleep(time.Second)
		log.Info().Msg("server stopped")
	}
}

func runClient(cfg *config.Config, log zerolog.Logger, host string, port int) {
	rudplog.Section("Client Mode")
	remote := rudp.Endpoint{IP: net.ParseIP(host), Port: port}
	log.Info().Str("remote", remote.String()).Msg("connecting")

	io, err := udpio.NewClientAdapter(remote)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial udp socket")
	}

	em := events.NewManager()
	conn := rudp.NewClient(io, remote, cfg.Transport, events.Bind(em))
	conn.SetLogger(log)

	em.Register(events.TypeConnected, func(ev events.Event) {
		log.Info().Msg("handshake complete")
	})
	em.Register(events.TypePacketReceived, func(ev events.Event) {
		if ev.Packet == nil || ev.Packet.Type != rudp.PacketDAT {
			return
		}
		fmt.Printf("echo: %s\n", ev.Packet.Data)
	})

	if err := conn.Connect(); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			_ = conn.Send(remote, rudp.PacketDAT, []byte(scanner.Text()))
		}
	}()

	<-sigCh
	log.Warn().Msg("received signal, shutting down")
	_ = conn.Disconnect()
	time.Sleep(time.Second)
	log.Info().Msg("client stopped")
}
