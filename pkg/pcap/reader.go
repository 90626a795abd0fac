package pcap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"Go2NetQoS/internal/engine/protocol"
	"Go2NetQoS/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Stats summarises one pass over a capture file.
type Stats struct {
	Packets int
	Skipped int
}

// Reader reads packets from a pcap or pcapng capture file.
type Reader struct {
	file   *os.File
	source *gopacket.PacketSource
	inPort uint32
}

// NewReader opens a capture file. Every packet read from it is reported as
// arriving on inPort.
func NewReader(filePath string, inPort uint32) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	var source gopacket.PacketDataSource
	var linkType layers.LinkType
	if r, err := pcapgo.NewReader(file); err == nil {
		source, linkType = r, r.LinkType()
	} else {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, err
		}
		ng, ngErr := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
		if ngErr != nil {
			file.Close()
			return nil, fmt.Errorf("%s is neither pcap nor pcapng: %w", filePath, errors.Join(err, ngErr))
		}
		source, linkType = ng, ng.LinkType()
	}

	return &Reader{
		file:   file,
		source: gopacket.NewPacketSource(source, linkType),
		inPort: inPort,
	}, nil
}

// Close closes the capture file.
func (r *Reader) Close() {
	r.file.Close()
}

// ReadPackets decodes every packet in the file and sends it to out, using
// the capture timestamp. Frames that cannot be decoded are skipped. It
// returns early if ctx is cancelled and never closes out.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- *model.Packet) (Stats, error) {
	var stats Stats
	for {
		packet, err := r.source.NextPacket()
		// A capture cut off mid-record ends like a complete one.
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read packet: %w", err)
		}

		p, err := protocol.FromGoPacket(packet, r.inPort, packet.Metadata().Timestamp)
		if err != nil {
			stats.Skipped++
			continue
		}
		select {
		case out <- p:
			stats.Packets++
		case <-ctx.Done():
			return stats, ctx.Err()
		}
	}
}
