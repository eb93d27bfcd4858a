package utp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	p := &packet{
		header: header{
			typ:             typeData,
			connID:          1234,
			timestampUs:     555,
			timestampDiffUs: 10,
			wndSize:         1 << 16,
			seqNr:           7,
			ackNr:           6,
		},
		payload: []byte("hello world"),
	}
	raw := p.encode()

	got, err := decodePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, p.header, got.header)
	assert.Equal(t, p.payload, got.payload)
}

func TestPacketRoundTripWithExtensions(t *testing.T) {
	p := &packet{
		header: header{typ: typeSyn, connID: 1, seqNr: 0, ackNr: 0},
		extensions: []extension{
			{typ: extWScale, payload: []byte{4}},
			{typ: extECN, payload: ecnExtension{echo: true}.encode()},
		},
	}
	raw := p.encode()

	got, err := decodePacket(raw)
	require.NoError(t, err)
	require.Len(t, got.extensions, 2)

	ws, ok := got.windowScale()
	require.True(t, ok)
	assert.EqualValues(t, 4, ws.shift)

	ecn, ok := got.ecn()
	require.True(t, ok)
	assert.True(t, ecn.echo)
	assert.False(t, ecn.cwr)
}

func TestDecodePacketTruncatedHeader(t *testing.T) {
	_, err := decodePacket(make([]byte, 10))
	assert.Error(t, err)
}

func TestDecodePacketRejectsBadVersion(t *testing.T) {
	raw := make([]byte, headerSize)
	raw[0] = 0x02 // version 2, type 0
	_, err := decodePacket(raw)
	assert.Error(t, err)
}

func TestDecodePacketRejectsUnknownType(t *testing.T) {
	raw := make([]byte, headerSize)
	raw[0] = byte(protocolVersion) | (0xF << 4) // type 15 is out of range
	_, err := decodePacket(raw)
	assert.Error(t, err)
}

func TestDecodePacketMalformedExtensionStillDeliversPayload(t *testing.T) {
	p := &packet{
		header:  header{typ: typeData, connID: 1},
		payload: []byte("payload"),
	}
	raw := p.encode()
	// Claim an extension follows the header, but truncate it away.
	raw[1] = extSelack
	raw = raw[:headerSize]
	raw = append(raw, []byte("payload")...)

	got, err := decodePacket(raw)
	require.Error(t, err)
	require.NotNil(t, got)
}

func TestSackRoundTrip(t *testing.T) {
	// Three isolated sequence numbers synthesize three single-element
	// blocks, each [seq, seq+1).
	received := map[seqNr]bool{12: true, 15: true, 20: true}

	sack := buildSack(received)
	require.Equal(t, []sackBlock{
		{start: 12, end: 13},
		{start: 15, end: 16},
		{start: 20, end: 21},
	}, sack.blocks)

	decoded, err := decodeSack(sack.encode())
	require.NoError(t, err)
	assert.Equal(t, sack.blocks, decoded.blocks)
}

func TestSackSynthesizesContiguousRuns(t *testing.T) {
	// Matches seed case 6: in-order delivery through 100, then 102 and 103
	// arrive out of order. The single gap at 101 means the received-set
	// (which only ever holds out-of-order packets) is exactly {102, 103},
	// yielding one block [102, 104).
	sack := buildSack(map[seqNr]bool{102: true, 103: true})
	assert.Equal(t, []sackBlock{{start: 102, end: 104}}, sack.blocks)
}

func TestSackWireFormat(t *testing.T) {
	sack := buildSack(map[seqNr]bool{102: true, 103: true})
	assert.Equal(t, []byte{1, 0, 102, 0, 104}, sack.encode())
}

func TestSackEncodeCapsAtFourBlocks(t *testing.T) {
	sack := buildSack(map[seqNr]bool{1: true, 3: true, 5: true, 7: true, 9: true})
	assert.Len(t, sack.blocks, maxSackBlocks)
}

func TestSackTruncatesAtSequenceWraparound(t *testing.T) {
	sack := buildSack(map[seqNr]bool{65534: true, 65535: true, 0: true, 1: true})
	require.Len(t, sack.blocks, 1)
	assert.Equal(t, sackBlock{start: 65534, end: 0xFFFF}, sack.blocks[0])
}

func TestSeqLessWraparound(t *testing.T) {
	assert.True(t, seqLess(65535, 0))
	assert.True(t, seqLess(0, 1))
	assert.False(t, seqLess(1, 0))
	assert.False(t, seqLess(5, 5))
}

func TestIsAcked(t *testing.T) {
	assert.True(t, isAcked(5, 5))
	assert.True(t, isAcked(5, 10))
	assert.False(t, isAcked(10, 5))
	assert.True(t, isAcked(65530, 3)) // wraps
}
