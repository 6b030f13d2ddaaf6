package httptracker

import (
	"bytes"
	"encoding/binary"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker"
	"github.com/zeebo/bencode"
)

type announceResponse struct {
	FailureReason  string             `bencode:"failure reason"`
	RetryIn        string             `bencode:"retry in"`
	WarningMessage string             `bencode:"warning message"`
	Interval       int32              `bencode:"interval"`
	MinInterval    int32              `bencode:"min interval"`
	TrackerID      string             `bencode:"tracker id"`
	Complete       int32              `bencode:"complete"`
	Incomplete     int32              `bencode:"incomplete"`
	Peers          bencode.RawMessage `bencode:"peers"`
	Peers6         []byte             `bencode:"peers6"`
	ExternalIP     []byte             `bencode:"external ip"`
}

// parseResponse decodes the body of an announce response.
// A failure reason sent by the tracker is returned as *tracker.Error.
func parseResponse(body []byte) (*announceResponse, *tracker.AnnounceResponse, error) {
	var r announceResponse
	if err := bencode.DecodeBytes(body, &r); err != nil {
		return nil, nil, tracker.ErrDecode
	}
	if r.FailureReason != "" {
		retryIn, _ := strconv.Atoi(strings.TrimSpace(r.RetryIn))
		return &r, nil, &tracker.Error{
			FailureReason: r.FailureReason,
			RetryIn:       time.Duration(retryIn) * time.Minute,
		}
	}
	peers, err := r.peers()
	if err != nil {
		return &r, nil, err
	}
	return &r, &tracker.AnnounceResponse{
		Interval:       time.Duration(r.Interval) * time.Second,
		MinInterval:    time.Duration(r.MinInterval) * time.Second,
		Leechers:       r.Incomplete,
		Seeders:        r.Complete,
		WarningMessage: r.WarningMessage,
		Peers:          peers,
	}, nil
}

// peers returns the addresses in the response without our external address.
func (r *announceResponse) peers() ([]*net.TCPAddr, error) {
	var peers []*net.TCPAddr
	var err error
	// Peers may be in binary or dictionary model.
	if len(r.Peers) > 0 {
		if r.Peers[0] == 'l' {
			peers, err = parsePeersDictionary(r.Peers)
		} else {
			var b []byte
			if err = bencode.DecodeBytes(r.Peers, &b); err != nil {
				return nil, tracker.ErrDecode
			}
			peers, err = tracker.DecodePeersCompact(b)
		}
		if err != nil {
			return nil, err
		}
	}
	if len(r.Peers6) > 0 {
		peers6, err := decodePeers6(r.Peers6)
		if err != nil {
			return nil, err
		}
		peers = append(peers, peers6...)
	}
	if len(r.ExternalIP) != 0 {
		for i, p := range peers {
			if bytes.Equal(p.IP.To4(), r.ExternalIP) || bytes.Equal(p.IP.To16(), r.ExternalIP) {
				peers[i], peers = peers[len(peers)-1], peers[:len(peers)-1]
				break
			}
		}
	}
	return peers, nil
}

func parsePeersDictionary(b bencode.RawMessage) ([]*net.TCPAddr, error) {
	var peers []struct {
		IP   string `bencode:"ip"`
		Port uint16 `bencode:"port"`
	}
	err := bencode.DecodeBytes(b, &peers)
	if err != nil {
		return nil, tracker.ErrDecode
	}

	addrs := make([]*net.TCPAddr, 0, len(peers))
	for _, p := range peers {
		ip := net.ParseIP(p.IP)
		if ip == nil {
			continue
		}
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(p.Port)})
	}
	return addrs, nil
}

// decodePeers6 parses 16-byte IPv6 addresses each followed by a 2-byte port.
func decodePeers6(b []byte) ([]*net.TCPAddr, error) {
	const size = net.IPv6len + 2
	if len(b)%size != 0 {
		return nil, tracker.ErrDecode
	}
	addrs := make([]*net.TCPAddr, 0, len(b)/size)
	for i := 0; i < len(b); i += size {
		ip := make(net.IP, net.IPv6len)
		copy(ip, b[i:i+net.IPv6len])
		port := binary.BigEndian.Uint16(b[i+net.IPv6len : i+size])
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(port)})
	}
	return addrs, nil
}
