package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	identityverifier "github.com/0xsequence/identity-verifier"
	"github.com/0xsequence/identity-verifier/config"
	"github.com/0xsequence/identity-verifier/server"
	"github.com/go-chi/traceid"
	"github.com/go-chi/transport"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		panic(err)
	}

	// HTTP transport chain to use for all outgoing connections
	transportChain := transport.Chain(
		http.DefaultTransport,
		transport.SetHeader("User-Agent", "identity-verifier/"+identityverifier.VERSION),
		traceid.Transport,
	)

	s, err := server.New(cfg, transportChain)
	if err != nil {
		panic(err)
	}
	defer s.Stop(context.Background())

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Service.Port))
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx, l); err != nil {
		panic(err)
	}
}
