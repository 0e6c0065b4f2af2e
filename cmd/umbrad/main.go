// Package main provides the umbrad daemon - the swap node's networking and
// persistence core.
package main

import (
	"context"
	"errors"
	"flag"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/umbra-exchange/umbra/internal/config"
	"github.com/umbra-exchange/umbra/internal/database"
	"github.com/umbra-exchange/umbra/internal/network"
	"github.com/umbra-exchange/umbra/internal/seed"
	"github.com/umbra-exchange/umbra/internal/swap"
	"github.com/umbra-exchange/umbra/internal/tor"
	"github.com/umbra-exchange/umbra/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir     = flag.String("data-dir", "~/.umbra", "Data directory")
		listenAddr  = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		useTor      = flag.Bool("tor", false, "Provision an onion service at startup")
		rate        = flag.Float64("rate", 0, "Quoted XMR per BTC (0 disables quoting)")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("umbrad %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Load or create config file
	cfg, err := config.Load(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *listenAddr != "" {
		cfg.Network.ListenAddrs = []string{*listenAddr}
	}
	if *useTor {
		cfg.Tor.Enabled = true
	}
	cfg.Logging.Level = *logLevel

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataPath := cfg.DataDir()

	// Open the swap database
	db, err := database.Open(filepath.Join(dataPath, "database"))
	if err != nil {
		log.Fatal("Failed to open database", "error", err)
	}
	defer db.Close()
	log.Info("Database opened", "path", dataPath)

	reportUnfinishedSwaps(db, log)

	// Load or create the node identity
	sd, err := seed.Load(dataPath)
	if err != nil {
		log.Fatal("Failed to load identity", "error", err)
	}
	peerID, err := sd.PeerID()
	if err != nil {
		log.Fatal("Failed to derive peer id", "error", err)
	}

	// Build the transport
	transport, err := network.Build(sd.Identity(), cfg.Tor.Socks5Port)
	if err != nil {
		log.Fatal("Failed to build transport", "error", err)
	}

	// Bind listeners
	var listeners []network.ConnListener
	for _, s := range cfg.Network.ListenAddrs {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			log.Fatal("Invalid listen address", "addr", s, "error", err)
		}
		ln, err := transport.Listen(addr)
		if err != nil {
			log.Fatal("Failed to listen", "addr", s, "error", err)
		}
		defer ln.Close()
		listeners = append(listeners, ln)
	}

	// Optionally expose the first listener as an onion service
	var torSession *tor.AuthenticatedConn
	if cfg.Tor.Enabled {
		torSession, err = provisionOnionService(ctx, cfg, dataPath, log)
		if err != nil {
			log.Fatal("Failed to provision onion service", "error", err)
		}
		defer torSession.Close()
	}

	// Serve quote requests
	if *rate > 0 {
		maker := &quoteMaker{
			xmrPerBtc: *rate,
			db:        db,
			log:       log.Component("maker"),
		}
		for _, ln := range listeners {
			go maker.serve(ctx, ln)
		}
	}

	log.Info("")
	log.Infof("  umbrad %s", version)
	log.Infof("  Peer ID: %s", peerID)
	for _, ln := range listeners {
		log.Infof("  Listening on %s", ln.Multiaddr())
	}
	log.Info("")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")
	cancel()
}

// reportUnfinishedSwaps logs swaps interrupted by a previous crash, so the
// operator knows which sessions the engine will resume.
func reportUnfinishedSwaps(db *database.Database, log *logging.Logger) {
	initiator, err := db.UnfinishedInitiator()
	if err != nil {
		log.Warn("Could not enumerate initiator swaps", "error", err)
	}
	responder, err := db.UnfinishedResponder()
	if err != nil {
		log.Warn("Could not enumerate responder swaps", "error", err)
	}

	for _, s := range initiator {
		log.Info("Unfinished swap", "role", database.RoleInitiator, "id", s.ID, "stage", s.State.Stage)
	}
	for _, s := range responder {
		log.Info("Unfinished swap", "role", database.RoleResponder, "id", s.ID, "stage", s.State.Stage)
	}
}

// provisionOnionService authenticates to the local Tor daemon and exposes
// the configured onion port, backed by the first listen address's TCP port.
func provisionOnionService(ctx context.Context, cfg *config.Config, dataPath string, log *logging.Logger) (*tor.AuthenticatedConn, error) {
	keyPath := filepath.Join(dataPath, "onion.key")
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	key, err := tor.ServiceKeyFromBytes(raw)
	if err != nil {
		return nil, err
	}

	conn, err := cfg.TorDaemonConfig().Connect(ctx)
	if err != nil {
		return nil, err
	}
	session, err := conn.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	servicePort, err := listenTCPPort(cfg.Network.ListenAddrs)
	if err != nil {
		session.Close()
		return nil, err
	}

	addr, err := session.AddService(cfg.Tor.OnionPort, servicePort, key)
	if err != nil {
		session.Close()
		return nil, err
	}
	log.Info("Onion service ready", "addr", addr+".onion", "port", cfg.Tor.OnionPort)
	return session, nil
}

// listenTCPPort extracts the TCP port of the first listen address.
func listenTCPPort(addrs []string) (uint16, error) {
	for _, s := range addrs {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		if v, err := addr.ValueForProtocol(ma.P_TCP); err == nil {
			port, err := strconv.ParseUint(v, 10, 16)
			if err == nil && port > 0 {
				return uint16(port), nil
			}
		}
	}
	return 0, errors.New("no TCP listen address to back the onion service")
}

// quoteMaker answers amount-negotiation requests at a fixed rate.
type quoteMaker struct {
	xmrPerBtc float64
	db        *database.Database
	log       *logging.Logger
}

func (m *quoteMaker) serve(ctx context.Context, ln network.ConnListener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("Inbound connection failed", "error", err)
			continue
		}
		m.log.Debug("Peer connected", "peer", conn.Peer)
		go m.serveConn(ctx, conn)
	}
}

func (m *quoteMaker) serveConn(ctx context.Context, conn *network.Conn) {
	defer conn.Close()
	for {
		stream, err := conn.Muxer.AcceptStream()
		if err != nil {
			return
		}
		go m.serveStream(stream)
	}
}

func (m *quoteMaker) serveStream(stream network.Stream) {
	defer stream.Close()

	req, err := network.ReadQuoteRequest(stream)
	if err != nil {
		m.log.Warn("Bad quote request", "error", err)
		return
	}

	params, err := m.quote(req)
	if err != nil {
		m.log.Warn("Could not quote", "error", err)
		return
	}

	if err := network.WriteQuoteResponse(stream, &network.QuoteResponse{Params: params}); err != nil {
		m.log.Warn("Could not send quote", "error", err)
		return
	}
	m.log.Info("Quoted", "params", params)
}

func (m *quoteMaker) quote(req *network.QuoteRequest) (swap.Params, error) {
	piconeroPerXMR := math.Pow10(swap.MoneroDecimals)
	switch {
	case req.FromBtc != nil:
		btc := *req.FromBtc
		xmr := swap.MoneroAmount(btc.ToBTC() * m.xmrPerBtc * piconeroPerXMR)
		return swap.Params{BtcAmount: btc, XmrAmount: xmr}, nil
	case req.FromXmr != nil:
		xmr := *req.FromXmr
		btc, err := btcutil.NewAmount(float64(xmr) / piconeroPerXMR / m.xmrPerBtc)
		if err != nil {
			return swap.Params{}, err
		}
		return swap.Params{BtcAmount: btc, XmrAmount: xmr}, nil
	default:
		return swap.Params{}, errors.New("empty quote request")
	}
}
