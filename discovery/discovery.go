package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	multicastIpAddress = "239.0.0.1"
	maxPacketSize      = 1024
)

// Discover announces Info and listens for the announcements of other nodes.
// Set the exported fields before calling Start.
type Discover struct {
	NodeID                       uuid.UUID
	Info                         []byte
	Port                         uint16
	IntervalBetweenAnnouncements time.Duration
	Logger                       *slog.Logger
	Entries                      chan Entry

	conn      *net.UDPConn
	sendConn  *net.UDPConn
	done      chan struct{}
	closeOnce sync.Once
}

// Entry is one announcement received from another node.
type Entry struct {
	NodeID uuid.UUID
	Info   []byte
	Time   time.Time
}

// Start joins the multicast group and starts announcing and listening in the
// background. A zero NodeID is replaced with a random one.
func (d *Discover) Start() error {
	if d.NodeID == uuid.Nil {
		d.NodeID = uuid.New()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.IntervalBetweenAnnouncements <= 0 {
		d.IntervalBetweenAnnouncements = time.Second
	}
	if len(d.Info)+len(d.NodeID) > maxPacketSize {
		return fmt.Errorf("announcement of %d bytes exceeds %d", len(d.Info)+len(d.NodeID), maxPacketSize)
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", multicastIpAddress, d.Port))
	if err != nil {
		return err
	}
	conn, err := net.ListenMulticastUDP("udp", nil, addr)
	if err != nil {
		return err
	}
	sendConn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return errors.Join(err, conn.Close())
	}
	d.conn, d.sendConn = conn, sendConn
	d.Entries = make(chan Entry, 10)
	d.done = make(chan struct{})
	go d.listen()
	go d.announce()
	return nil
}

// Close stops announcing and listening. It is a no-op if Start failed or was
// never called.
func (d *Discover) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.done == nil {
			return
		}
		close(d.done)
		err = errors.Join(d.conn.Close(), d.sendConn.Close())
	})
	return err
}

func encodeAnnouncement(id uuid.UUID, info []byte) []byte {
	return append(id[:], info...)
}

func decodeAnnouncement(message []byte) (Entry, bool) {
	if len(message) < len(uuid.Nil) {
		return Entry{}, false
	}
	id, err := uuid.FromBytes(message[:len(uuid.Nil)])
	if err != nil {
		return Entry{}, false
	}
	return Entry{
		NodeID: id,
		Info:   append([]byte(nil), message[len(uuid.Nil):]...),
	}, true
}

func (d *Discover) listen() {
	defer close(d.Entries)
	buffer := make([]byte, maxPacketSize)
	for {
		n, from, err := d.conn.ReadFromUDP(buffer)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				d.Logger.Error("discovery listener stopped", "err", err)
			}
			return
		}
		entry, ok := decodeAnnouncement(buffer[:n])
		if !ok {
			d.Logger.Debug("ignoring malformed announcement", "from", from.String())
			continue
		}
		if entry.NodeID == d.NodeID {
			continue
		}
		entry.Time = time.Now()
		select {
		case d.Entries <- entry:
		case <-d.done:
			return
		}
	}
}

func (d *Discover) announce() {
	message := encodeAnnouncement(d.NodeID, d.Info)
	ticker := time.NewTicker(d.IntervalBetweenAnnouncements)
	defer ticker.Stop()
	for {
		if _, err := d.sendConn.Write(message); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.Logger.Warn("announcement failed", "err", err)
		}
		select {
		case <-d.done:
			return
		case <-ticker.C:
		}
	}
}
