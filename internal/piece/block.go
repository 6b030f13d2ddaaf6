package piece

// Block is part of a Piece that is specified in peerprotocol.Request messages.
type Block struct {
	Index  uint32 // index in piece
	Begin  uint32 // offset in piece
	Length uint32 // always equal to BlockSize except the last block of a piece.
}
