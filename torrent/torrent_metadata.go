package torrent

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"errors"
	"sort"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/metainfo"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerprotocol"
)

// Metadata larger than this is not downloaded.
const maxMetadataSize = 10 * 1024 * 1024

var errInvalidMetadataPiece = errors.New("invalid metadata piece")

type metadataDownload struct {
	size     int
	data     []byte
	pieces   []metadataPiece
	rejected map[*peer]struct{}
}

type metadataPiece struct {
	peer        *peer
	requestedAt time.Time
	done        bool
}

func newMetadataDownload(size int) *metadataDownload {
	n := (size + peerprotocol.MetadataPieceSize - 1) / peerprotocol.MetadataPieceSize
	return &metadataDownload{
		size:     size,
		data:     make([]byte, size),
		pieces:   make([]metadataPiece, n),
		rejected: make(map[*peer]struct{}),
	}
}

func (m *metadataDownload) pieceLength(i uint32) int {
	begin := int(i) * peerprotocol.MetadataPieceSize
	if begin+peerprotocol.MetadataPieceSize > m.size {
		return m.size - begin
	}
	return peerprotocol.MetadataPieceSize
}

func (m *metadataDownload) reset() {
	for i := range m.pieces {
		m.pieces[i] = metadataPiece{}
	}
	m.rejected = make(map[*peer]struct{})
}

func (m *metadataDownload) complete() bool {
	for _, p := range m.pieces {
		if !p.done {
			return false
		}
	}
	return true
}

func (t *torrent) handleExtensionHandshake(pe *peer) {
	if t.info != nil {
		return
	}
	size := pe.ExtensionHandshake.MetadataSize
	if size <= 0 || size > maxMetadataSize {
		return
	}
	if _, ok := pe.ExtensionHandshake.M[peerprotocol.ExtensionKeyMetadata]; !ok {
		return
	}
	if t.metadata == nil {
		t.metadata = newMetadataDownload(size)
	}
	t.requestMetadata()
}

// metadataPeers returns the peers that can serve the metadata being downloaded.
func (t *torrent) metadataPeers() []*peer {
	var peers []*peer
	for pe := range t.peers {
		if _, ok := t.metadata.rejected[pe]; ok {
			continue
		}
		eh := pe.ExtensionHandshake
		if eh == nil || eh.MetadataSize != t.metadata.size {
			continue
		}
		if _, ok := eh.M[peerprotocol.ExtensionKeyMetadata]; !ok {
			continue
		}
		peers = append(peers, pe)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Addr.String() < peers[j].Addr.String() })
	return peers
}

// requestMetadata requests the missing metadata pieces. Pieces are spread over the capable peers.
// Requests that are not answered in time are sent again.
func (t *torrent) requestMetadata() {
	if t.info != nil || t.metadata == nil || !t.active() {
		return
	}
	peers := t.metadataPeers()
	if len(peers) == 0 {
		return
	}
	now := t.session.clock()
	timeout := t.session.config.RequestTimeout
	for i := range t.metadata.pieces {
		mp := &t.metadata.pieces[i]
		if mp.done || (mp.peer != nil && now.Sub(mp.requestedAt) < timeout) {
			continue
		}
		pe := peers[i%len(peers)]
		msg := peerprotocol.ExtensionMetadataMessage{
			Type:  peerprotocol.ExtensionMetadataMessageTypeRequest,
			Piece: uint32(i),
		}
		if pe.SendExtension(peerprotocol.ExtensionKeyMetadata, msg) {
			mp.peer = pe
			mp.requestedAt = now
		}
	}
}

func (t *torrent) handleMetadataMessage(pe *peer, msg peerprotocol.ExtensionMetadataMessage) {
	switch msg.Type {
	case peerprotocol.ExtensionMetadataMessageTypeRequest:
		t.sendMetadataPiece(pe, msg.Piece)
	case peerprotocol.ExtensionMetadataMessageTypeData:
		if t.info != nil || t.metadata == nil {
			return
		}
		if msg.Piece >= uint32(len(t.metadata.pieces)) || len(msg.Data) != t.metadata.pieceLength(msg.Piece) {
			t.closePeer(pe, errInvalidMetadataPiece)
			return
		}
		mp := &t.metadata.pieces[msg.Piece]
		if mp.done {
			return
		}
		copy(t.metadata.data[int(msg.Piece)*peerprotocol.MetadataPieceSize:], msg.Data)
		mp.done = true
		mp.peer = nil
		if t.metadata.complete() {
			t.metadataDone()
		}
	case peerprotocol.ExtensionMetadataMessageTypeReject:
		if t.metadata == nil || msg.Piece >= uint32(len(t.metadata.pieces)) {
			return
		}
		t.metadata.rejected[pe] = struct{}{}
		mp := &t.metadata.pieces[msg.Piece]
		if mp.peer == pe {
			mp.peer = nil
		}
		t.requestMetadata()
	}
}

func (t *torrent) sendMetadataPiece(pe *peer, index uint32) {
	if t.info == nil || t.info.IsPrivate() {
		pe.SendExtension(peerprotocol.ExtensionKeyMetadata, peerprotocol.ExtensionMetadataMessage{
			Type:  peerprotocol.ExtensionMetadataMessageTypeReject,
			Piece: index,
		})
		return
	}
	b := t.info.Bytes
	begin := int(index) * peerprotocol.MetadataPieceSize
	if begin >= len(b) {
		pe.SendExtension(peerprotocol.ExtensionKeyMetadata, peerprotocol.ExtensionMetadataMessage{
			Type:  peerprotocol.ExtensionMetadataMessageTypeReject,
			Piece: index,
		})
		return
	}
	end := begin + peerprotocol.MetadataPieceSize
	if end > len(b) {
		end = len(b)
	}
	pe.SendExtension(peerprotocol.ExtensionKeyMetadata, peerprotocol.ExtensionMetadataMessage{
		Type:      peerprotocol.ExtensionMetadataMessageTypeData,
		Piece:     index,
		TotalSize: len(b),
		Data:      b[begin:end],
	})
}

func (t *torrent) metadataDone() {
	data := t.metadata.data
	sum := sha1.Sum(data) // nolint: gosec
	if !bytes.Equal(sum[:], t.infoHash[:]) {
		t.log.Warningln("downloaded metadata does not match the info hash")
		t.metadata.reset()
		t.requestMetadata()
		return
	}
	info, err := metainfo.NewInfo(data)
	if err != nil {
		t.log.Warningln("cannot parse downloaded metadata:", err)
		t.metadata.reset()
		t.requestMetadata()
		return
	}
	t.metadata = nil
	t.setInfo(info)
	t.alert(AlertMetadataReceived, nil, "metadata received")
	if res := t.session.resumer; res != nil {
		if err := res.WriteInfo(t.id, info.Bytes); err != nil {
			t.log.Errorln("cannot write info to resume database:", err)
		}
	}
	for pe := range t.peers {
		if err := pe.SetNumPieces(info.NumPieces); err != nil {
			t.closePeer(pe, err)
		}
	}
	t.setState(QueuedChecking)
	t.session.startChecks()
}

// metadataPeerGone releases the metadata pieces requested from the peer.
func (t *torrent) metadataPeerGone(pe *peer) {
	if t.metadata == nil {
		return
	}
	delete(t.metadata.rejected, pe)
	for i := range t.metadata.pieces {
		if t.metadata.pieces[i].peer == pe {
			t.metadata.pieces[i].peer = nil
		}
	}
}
