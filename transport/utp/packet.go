package utp

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/quietswarm/btcore/core"
)

// packetType is the uTP packet type nibble (spec §4.1).
type packetType uint8

const (
	typeData  packetType = 0
	typeFin   packetType = 1
	typeState packetType = 2
	typeReset packetType = 3
	typeSyn   packetType = 4
)

func (t packetType) String() string {
	switch t {
	case typeData:
		return "ST_DATA"
	case typeFin:
		return "ST_FIN"
	case typeState:
		return "ST_STATE"
	case typeReset:
		return "ST_RESET"
	case typeSyn:
		return "ST_SYN"
	default:
		return fmt.Sprintf("ST_UNKNOWN(%d)", uint8(t))
	}
}

// protocolVersion is the only version nibble uTP defines.
const protocolVersion = 1

// extension type identifiers for the extension chain (spec §4.1).
const (
	extNone    uint8 = 0
	extSelack  uint8 = 1 // selective ACK (SACK)
	extWScale  uint8 = 2 // window scaling
	extUnused3 uint8 = 3
	extECN     uint8 = 4
)

const headerSize = 20

// header is the fixed 20-byte uTP packet header (spec §4.1).
type header struct {
	typ               packetType
	ext               uint8 // first extension's type, or extNone
	connID            uint16
	timestampUs       uint32
	timestampDiffUs   uint32
	wndSize           uint32
	seqNr             seqNr
	ackNr             seqNr
}

// extension is one decoded link in a packet's extension chain.
type extension struct {
	typ     uint8
	payload []byte
}

// packet is a fully decoded uTP packet: header, extension chain, and
// payload (empty for all types except ST_DATA).
type packet struct {
	header     header
	extensions []extension
	payload    []byte
}

// sackBlock is one maximal contiguous run of received sequence numbers,
// start inclusive and end exclusive (spec §4.1, §6).
type sackBlock struct {
	start seqNr
	end   seqNr
}

// maxSackBlocks is the RFC 2018 convention the SACK extension follows: at
// most four blocks per packet.
const maxSackBlocks = 4

// sackExtension decodes/encodes a SACK extension payload: a block count
// byte followed by that many [start:2][end:2] pairs in ascending order
// (spec §4.1).
type sackExtension struct {
	blocks []sackBlock
}

// windowScaleExtension carries the sender's window scale shift, 0-14.
type windowScaleExtension struct {
	shift uint8
}

// ecnExtension carries the sender's ECN echo/CWR bits in its single
// payload byte's two low bits (spec §4.1).
type ecnExtension struct {
	echo bool
	cwr  bool
}

func (e ecnExtension) encode() []byte {
	var b byte
	if e.echo {
		b |= 0x1
	}
	if e.cwr {
		b |= 0x2
	}
	return []byte{b}
}

func decodeECN(payload []byte) (ecnExtension, error) {
	if len(payload) != 1 {
		return ecnExtension{}, fmt.Errorf("%w: ecn extension must be 1 byte, got %d", core.ErrMalformedExtension, len(payload))
	}
	return ecnExtension{
		echo: payload[0]&0x1 != 0,
		cwr:  payload[0]&0x2 != 0,
	}, nil
}

// encode serializes p into its wire form.
func (p *packet) encode() []byte {
	extType := uint8(extNone)
	if len(p.extensions) > 0 {
		extType = p.extensions[0].typ
	}

	buf := make([]byte, headerSize, headerSize+extChainSize(p.extensions)+len(p.payload))
	buf[0] = byte(protocolVersion) | byte(p.header.typ)<<4
	buf[1] = extType
	binary.BigEndian.PutUint16(buf[2:4], p.header.connID)
	binary.BigEndian.PutUint32(buf[4:8], p.header.timestampUs)
	binary.BigEndian.PutUint32(buf[8:12], p.header.timestampDiffUs)
	binary.BigEndian.PutUint32(buf[12:16], p.header.wndSize)
	binary.BigEndian.PutUint16(buf[16:18], uint16(p.header.seqNr))
	binary.BigEndian.PutUint16(buf[18:20], uint16(p.header.ackNr))

	for i, ext := range p.extensions {
		next := uint8(extNone)
		if i+1 < len(p.extensions) {
			next = p.extensions[i+1].typ
		}
		buf = append(buf, next, uint8(len(ext.payload)))
		buf = append(buf, ext.payload...)
	}
	buf = append(buf, p.payload...)
	return buf
}

func extChainSize(exts []extension) int {
	n := 0
	for _, e := range exts {
		n += 2 + len(e.payload)
	}
	return n
}

// decodePacket parses raw into a packet. A malformed extension chain does
// not prevent the header and payload from being delivered (spec §7):
// decodePacket returns the packet with whatever extensions parsed
// successfully, plus ErrMalformedExtension.
func decodePacket(raw []byte) (*packet, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: packet is %d bytes, need at least %d", core.ErrTruncated, len(raw), headerSize)
	}

	verType := raw[0]
	version := verType & 0x0F
	if version != protocolVersion {
		return nil, fmt.Errorf("%w: unsupported protocol version %d", core.ErrInvalidField, version)
	}
	typ := packetType(verType >> 4)
	if typ > typeSyn {
		return nil, fmt.Errorf("%w: unknown packet type %d", core.ErrInvalidField, typ)
	}

	h := header{
		typ:             typ,
		ext:             raw[1],
		connID:          binary.BigEndian.Uint16(raw[2:4]),
		timestampUs:     binary.BigEndian.Uint32(raw[4:8]),
		timestampDiffUs: binary.BigEndian.Uint32(raw[8:12]),
		wndSize:         binary.BigEndian.Uint32(raw[12:16]),
		seqNr:           seqNr(binary.BigEndian.Uint16(raw[16:18])),
		ackNr:           seqNr(binary.BigEndian.Uint16(raw[18:20])),
	}

	p := &packet{header: h}

	off := headerSize
	nextExt := h.ext
	var extErr error
	for nextExt != extNone {
		if off+2 > len(raw) {
			extErr = fmt.Errorf("%w: extension header truncated", core.ErrMalformedExtension)
			break
		}
		typ := nextExt
		length := int(raw[off+1])
		nextExt = raw[off]
		off += 2
		if off+length > len(raw) {
			extErr = fmt.Errorf("%w: extension payload truncated", core.ErrMalformedExtension)
			break
		}
		payload := append([]byte(nil), raw[off:off+length]...)
		off += length
		p.extensions = append(p.extensions, extension{typ: typ, payload: payload})
	}

	p.payload = append([]byte(nil), raw[off:]...)
	if extErr != nil {
		return p, extErr
	}
	return p, nil
}

func (p *packet) findExtension(typ uint8) (extension, bool) {
	for _, e := range p.extensions {
		if e.typ == typ {
			return e, true
		}
	}
	return extension{}, false
}

func (p *packet) sack() (sackExtension, bool) {
	e, ok := p.findExtension(extSelack)
	if !ok {
		return sackExtension{}, false
	}
	s, err := decodeSack(e.payload)
	if err != nil {
		return sackExtension{}, false
	}
	return s, true
}

func (p *packet) windowScale() (windowScaleExtension, bool) {
	e, ok := p.findExtension(extWScale)
	if !ok || len(e.payload) != 1 {
		return windowScaleExtension{}, false
	}
	return windowScaleExtension{shift: e.payload[0]}, true
}

func (p *packet) ecn() (ecnExtension, bool) {
	e, ok := p.findExtension(extECN)
	if !ok {
		return ecnExtension{}, false
	}
	ecn, err := decodeECN(e.payload)
	if err != nil {
		return ecnExtension{}, false
	}
	return ecn, true
}

// encode serializes s as [block_count:1]{[start:2][end:2]}×block_count.
func (s sackExtension) encode() []byte {
	blocks := s.blocks
	if len(blocks) > maxSackBlocks {
		blocks = blocks[:maxSackBlocks]
	}
	payload := make([]byte, 1+4*len(blocks))
	payload[0] = uint8(len(blocks))
	for i, b := range blocks {
		off := 1 + 4*i
		binary.BigEndian.PutUint16(payload[off:off+2], uint16(b.start))
		binary.BigEndian.PutUint16(payload[off+2:off+4], uint16(b.end))
	}
	return payload
}

// decodeSack parses a SACK extension payload into its block list.
func decodeSack(payload []byte) (sackExtension, error) {
	if len(payload) < 1 {
		return sackExtension{}, fmt.Errorf("%w: sack extension must carry a block count byte", core.ErrMalformedExtension)
	}
	count := int(payload[0])
	if len(payload) < 1+4*count {
		return sackExtension{}, fmt.Errorf("%w: sack extension too short for %d blocks", core.ErrMalformedExtension, count)
	}
	blocks := make([]sackBlock, count)
	for i := 0; i < count; i++ {
		off := 1 + 4*i
		blocks[i] = sackBlock{
			start: seqNr(binary.BigEndian.Uint16(payload[off : off+2])),
			end:   seqNr(binary.BigEndian.Uint16(payload[off+2 : off+4])),
		}
	}
	return sackExtension{blocks: blocks}, nil
}

// buildSack scans received in ascending sequence order to find its maximal
// contiguous runs and emits each as a block [start, end) (spec §4.1, §6
// "SACK synthesis"). At most the first maxSackBlocks runs are emitted. A
// run that wraps the 16-bit sequence space is truncated at 0xFFFF, since
// the block format cannot express an end beyond that value.
func buildSack(received map[seqNr]bool) sackExtension {
	if len(received) == 0 {
		return sackExtension{}
	}

	seqs := make([]seqNr, 0, len(received))
	for seq := range received {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqLess(seqs[i], seqs[j]) })

	var blocks []sackBlock
	start := seqs[0]
	prev := seqs[0]
	for _, seq := range seqs[1:] {
		if seq == prev+1 {
			prev = seq
			continue
		}
		blocks = append(blocks, closeSackRun(start, prev))
		start = seq
		prev = seq
	}
	blocks = append(blocks, closeSackRun(start, prev))

	if len(blocks) > maxSackBlocks {
		blocks = blocks[:maxSackBlocks]
	}
	return sackExtension{blocks: blocks}
}

func closeSackRun(start, last seqNr) sackBlock {
	const maxSeq = seqNr(0xFFFF)
	if last < start || last == maxSeq {
		// The run wraps the 16-bit sequence boundary (or ends exactly at
		// it); truncate at 0xFFFF since [start,end) cannot express an end
		// beyond that value.
		return sackBlock{start: start, end: maxSeq}
	}
	return sackBlock{start: start, end: last + 1}
}
