// Copyright 2024 The bxcommon Authors
// This file is part of bxcommon.
//
// bxcommon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// bxcommon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with bxcommon. If not, see <http://www.gnu.org/licenses/>.

// Command bxcoded runs a single bloXroute relay node: the event-loop runtime,
// the transaction service, the new-transaction feed, and the stats and SDN
// clients it all depends on. Flag/command wiring follows cmd/geth's use of
// urfave/cli/v2, the teacher's own CLI stack.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/sasha00123/bxcommon/alarm"
	"github.com/sasha00123/bxcommon/config"
	"github.com/sasha00123/bxcommon/connection"
	"github.com/sasha00123/bxcommon/feed"
	"github.com/sasha00123/bxcommon/internal/blog"
	"github.com/sasha00123/bxcommon/node"
	"github.com/sasha00123/bxcommon/pinglatency"
	"github.com/sasha00123/bxcommon/relay"
	"github.com/sasha00123/bxcommon/sdn"
	"github.com/sasha00123/bxcommon/stats"
	"github.com/sasha00123/bxcommon/txservice"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to a TOML node configuration file",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "log level: trace, debug, info, warn, error, crit",
		Value: "info",
	}
)

var app = &cli.App{
	Name:  "bxcoded",
	Usage: "run a bloXroute relay node",
	Flags: []cli.Flag{configFlag, verbosityFlag},
	Action: func(c *cli.Context) error {
		return run(c.String(configFlag.Name), c.String(verbosityFlag.Name))
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseLevel(name string) slog.Level {
	switch name {
	case "trace":
		return blog.LevelTrace
	case "debug":
		return blog.LevelDebug
	case "warn":
		return blog.LevelWarn
	case "error":
		return blog.LevelError
	case "crit":
		return blog.LevelCrit
	default:
		return blog.LevelInfo
	}
}

func run(configPath, verbosity string) error {
	log := blog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(verbosity)}))
	blog.SetRoot(log)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("bxcoded: %w", err)
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("bxcoded: node_id must be set in the config file")
	}

	sdnClient := sdn.NewHTTPClient(cfg.SDNURL, log)
	statSink := stats.NewPrometheusSink()
	alarms := alarm.New()

	outboundPeers := make([]node.OutboundPeer, 0, len(cfg.OutboundPeers))
	for _, p := range cfg.OutboundPeers {
		outboundPeers = append(outboundPeers, node.OutboundPeer{IP: p.IP, Port: p.Port})
	}

	relayNode := relay.New(cfg.NodeID, cfg.BlockchainNetworkNum, sdnClient, outboundPeers, log)

	var dumpWriter *os.File
	var txOpts []txservice.Option
	if cfg.DumpRemovedShortIDs {
		f, err := os.Create(cfg.DumpRemovedShortIDsPath)
		if err != nil {
			return fmt.Errorf("bxcoded: opening removed short-id dump: %w", err)
		}
		dumpWriter = f
		defer dumpWriter.Close()
		txOpts = append(txOpts, txservice.WithRemovedShortIDsDump(dumpWriter))
	}
	txOpts = append(txOpts,
		txservice.WithMemoryLimit(cfg.TxCacheMemoryLimit),
		txservice.WithFinalTxConfirmationsCount(cfg.FinalTxConfirmations),
		txservice.WithSidExpireTime(cfg.SidExpireTime),
	)
	txService := txservice.New(cfg.BlockchainNetworkNum, alarms, log, txOpts...)
	relayNode.RegisterNetwork(cfg.BlockchainNetworkNum, txService)

	txFeed := feed.NewEthNewTransactionFeed(cfg.BlockchainNetworkNum)
	txFeed.EnablePublishDedup(feed.NewPublishDedup(feed.DefaultPublishDedupCacheBytes))

	runtime := node.New(node.Options{
		NodeID:        cfg.NodeID,
		OutboundPeers: outboundPeers,
		NetworkNum:    cfg.BlockchainNetworkNum,
	}, relayNode, sdnClient, statSink, alarms, log)
	runtime.SetSchedulePingsOnTimeout(true)
	runtime.PingHook = func(conn *connection.Connection) {
		// The actual ping round-trip runs off the event-loop thread (spec.md
		// §5); the only thing fed back in here is a latency log line, kept
		// async so a slow/unreachable peer never blocks the loop.
		go func() {
			results := pinglatency.GetLatencies(context.Background(), []node.OutboundPeer{{IP: conn.PeerIP, Port: conn.PeerPort}}, nil)
			for _, r := range results {
				log.Debug("ping latency", "peer", conn.PeerIP, "latency_ms", r.LatencyMS, "timed_out", r.TimedOut)
			}
		}()
	}

	registerWithSDN(sdnClient, cfg, log)
	installNodeAttributesPoll(alarms, sdnClient, cfg.NodeID, log)
	serveStats(cfg.StatsListenAddr, statSink, log)
	installSignalHandler(runtime, log)

	log.Info("bxcoded started", "node_id", cfg.NodeID, "network_num", cfg.BlockchainNetworkNum,
		"tx_feed_subscribers", txFeed.SubscriberCount())

	runEventLoop(runtime, log)
	return runtime.Err()
}

func registerWithSDN(sdnClient sdn.Client, cfg config.NodeConfig, log blog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := sdnClient.RegisterNode(ctx, sdn.NodeModel{
		NodeID:               cfg.NodeID,
		NodeType:             "RELAY",
		BlockchainNetworkNum: cfg.BlockchainNetworkNum,
	}); err != nil {
		log.Warn("failed to register with SDN, continuing with local config", "err", err)
	}
}

// nodeAttributesPollInterval is how often the node re-fetches its own
// attributes from the SDN, matching fetch_node_attributes's intended use for
// picking up out-of-band config changes without a restart.
const nodeAttributesPollInterval = 60 * time.Second

func installNodeAttributesPoll(alarms *alarm.Queue, sdnClient sdn.Client, nodeID string, log blog.Logger) {
	alarms.RegisterAlarm(nodeAttributesPollInterval, pollNodeAttributes(alarms, sdnClient, nodeID, log))
}

func pollNodeAttributes(alarms *alarm.Queue, sdnClient sdn.Client, nodeID string, log blog.Logger) alarm.Callback {
	return func(now time.Time) alarm.Outcome {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if attrs, err := sdnClient.FetchNodeAttributes(ctx, nodeID); err != nil {
			log.Warn("failed to poll node attributes from SDN", "err", err)
		} else {
			log.Debug("polled node attributes from SDN", "network_num", attrs.BlockchainNetworkNum)
		}
		return alarm.Reschedule(nodeAttributesPollInterval)
	}
}

func serveStats(addr string, sink *stats.PrometheusSink, log blog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", sink.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("stats server exited", "err", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
}

func installSignalHandler(runtime *node.Runtime, log blog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGSEGV)
	go func() {
		sig := <-sigCh
		runtime.HandleSignal(sig.String())
	}()
}

// runEventLoop drives the alarm-firing/sleep cycle spec.md §4.4 describes.
// Socket I/O is out of scope (spec.md §1); this loop exists to keep alarms
// (connection timeouts, retries, buffer flushes, sid expiry) advancing even
// when there is no concrete transport wired in yet.
func runEventLoop(runtime *node.Runtime, log blog.Logger) {
	firstCall := true
	for !runtime.ForceExit() {
		timeout := runtime.GetSleepTimeout(false, firstCall)
		firstCall = false
		if timeout <= 0 {
			timeout = alarm.DefaultSleepTimeout
		}
		time.Sleep(timeout)
	}
	log.Info("event loop exiting", "err", runtime.Err())
}
