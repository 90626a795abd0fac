package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/logging"
	"Go2NetQoS/internal/probe"
	"Go2NetQoS/internal/probe/persistent"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
	timeout           = pcap.BlockForever
)

func main() {
	defaults := config.Default()

	mode := flag.String("mode", "sub", "Operating mode: 'pub' to capture and publish packet-in events, 'sub' to print decisions.")
	iface := flag.String("iface", "", "Interface to capture packets from (required for pub mode).")
	inPort := flag.Uint("in-port", 1, "Switch port reported for packets captured on the interface.")
	natsURL := flag.String("nats", defaults.NATS.URL, "NATS server URL.")
	packetSubject := flag.String("packet-subject", defaults.NATS.PacketSubject, "Subject packet-in events are published on.")
	decisionSubject := flag.String("decision-subject", defaults.NATS.DecisionSubject, "Subject decisions are read from.")
	record := flag.String("record", "", "Directory to also record captured frames to as pcap (pub mode).")
	logLevel := flag.String("log-level", "info", "Log level.")
	flag.Parse()

	logger, err := logging.New(config.LogConfig{Level: *logLevel, Encoding: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch *mode {
	case "pub":
		if *iface == "" {
			logger.Error("-iface flag is required for pub mode.")
			flag.Usage()
			os.Exit(1)
		}
		if err := runProbe(logger, *iface, uint32(*inPort), *natsURL, *packetSubject, *record); err != nil {
			logger.Error("Probe failed", zap.Error(err))
			logger.Sync()
			os.Exit(1)
		}
	case "sub":
		runSubscriber(logger, *natsURL, *decisionSubject)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runProbe captures frames on an interface and publishes them as packet-in
// events, optionally recording them as well. It returns once a shutdown
// signal arrives, after the recorder has been flushed.
func runProbe(logger *zap.Logger, interfaceName string, inPort uint32, natsURL, subject, recordDir string) error {
	logger.Info("Starting ns-probe in PROBE mode", zap.String("iface", interfaceName), zap.Uint32("in_port", inPort))

	pub, err := probe.NewPublisher(natsURL, subject, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer pub.Close()

	var rec *persistent.Recorder
	if recordDir != "" {
		rec, err = persistent.NewRecorder(recordDir, 0, logger)
		if err != nil {
			return fmt.Errorf("failed to start recorder: %w", err)
		}
		defer func() {
			if err := rec.Stop(); err != nil {
				logger.Warn("Failed to flush recording", zap.String("path", rec.Path()), zap.Error(err))
			}
		}()
	}

	handle, err := pcap.OpenLive(interfaceName, snapshotLen, promiscuous, timeout)
	if err != nil {
		return fmt.Errorf("error opening device %s: %w", interfaceName, err)
	}
	// Closing the handle ends the capture loop before the recorder stops.
	defer handle.Close()

	logger.Info("Capture started successfully. Publishing packet-in events to NATS...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
		packetsPublished := 0
		for packet := range packetSource.Packets() {
			meta := packet.Metadata()
			in := probe.PacketIn{InPort: inPort, Timestamp: meta.Timestamp, Frame: packet.Data()}
			if err := pub.PublishPacketIn(in); err != nil {
				logger.Warn("Failed to publish packet-in", zap.Error(err))
				continue
			}
			if rec != nil {
				rec.Enqueue(meta.CaptureInfo, packet.Data())
			}
			packetsPublished++
			if packetsPublished%1000 == 0 {
				logger.Info(fmt.Sprintf("%d packets published...", packetsPublished))
			}
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received, cleaning up...")
	return nil
}

// runSubscriber prints every decision the classifier publishes.
func runSubscriber(logger *zap.Logger, natsURL, subject string) {
	logger.Info("Starting ns-probe in SUBSCRIBER mode...")

	sub, err := probe.NewSubscriber(natsURL, subject, logger)
	if err != nil {
		logger.Fatal("Failed to create subscriber", zap.Error(err))
	}
	defer sub.Close()

	handler := func(d probe.DecisionEvent) {
		fmt.Printf("%s  %-45s port=%-3d %-16s %-18s conf=%.2f prio=%d\n",
			d.Timestamp.Format("15:04:05.000"), d.FlowKey, d.InPort, d.Class, d.Method, d.Confidence, d.Priority)
	}
	if err := sub.StartDecisions(handler); err != nil {
		logger.Fatal("Subscriber failed to start", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received, cleaning up...")
}
