package danmaku

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"log"

	"github.com/andybalholm/brotli"
)

// Live message stream wire format: every frame carries one or more packets,
// each prefixed with a 16 byte big-endian header.
const (
	headerSize = 16

	OpHeartbeat      uint32 = 2
	OpHeartbeatReply uint32 = 3
	OpMessage        uint32 = 5
	OpAuth           uint32 = 7
	OpAuthReply      uint32 = 8

	VersionPlain  uint16 = 1
	VersionZlib   uint16 = 2
	VersionBrotli uint16 = 3
)

const maxDecompressedSize = 8 << 20

type Packet struct {
	Version   uint16
	Operation uint32
	Sequence  uint32
	Payload   []byte
}

// EncodePacket builds a client packet. Outbound packets always use the plain
// protocol version and sequence 1, matching what the official web client sends.
func EncodePacket(operation uint32, payload []byte) []byte {
	total := headerSize + len(payload)
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	binary.BigEndian.PutUint16(buf[4:6], headerSize)
	binary.BigEndian.PutUint16(buf[6:8], VersionPlain)
	binary.BigEndian.PutUint32(buf[8:12], operation)
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[headerSize:], payload)
	return buf
}

// DecodePackets iterates the packets contained in a frame and flattens
// compressed containers into their inner plain packets, preserving arrival
// order: a container's inner packets are emitted at the container's position,
// ahead of whatever follows it in the frame. A truncated or undersized frame
// ends iteration for that buffer; whatever decoded before the bad offset is
// still returned. Nested containers are handled with an explicit work stack.
func DecodePackets(frame []byte) []Packet {
	result := make([]Packet, 0, 16)
	stack := [][]byte{frame}
	for len(stack) > 0 {
		buf := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		offset := 0
		for offset+headerSize <= len(buf) {
			total := int(binary.BigEndian.Uint32(buf[offset : offset+4]))
			if total < headerSize || offset+total > len(buf) {
				break
			}
			headerLen := int(binary.BigEndian.Uint16(buf[offset+4 : offset+6]))
			if headerLen < headerSize || headerLen > total {
				break
			}
			version := binary.BigEndian.Uint16(buf[offset+6 : offset+8])
			operation := binary.BigEndian.Uint32(buf[offset+8 : offset+12])
			sequence := binary.BigEndian.Uint32(buf[offset+12 : offset+16])
			payload := buf[offset+headerLen : offset+total]
			next := offset + total

			switch version {
			case VersionZlib, VersionBrotli:
				decoded, err := decodeContainerPayload(version, payload)
				if err != nil {
					log.Printf("[danmaku][warn] drop corrupt container packet (version=%d op=%d): %v", version, operation, err)
				} else if len(decoded) > 0 {
					// The tail of this buffer resumes after the
					// container's contents, so it goes on the stack
					// first.
					if next < len(buf) {
						stack = append(stack, buf[next:])
					}
					stack = append(stack, decoded)
					next = len(buf)
				}
			default:
				result = append(result, Packet{
					Version:   version,
					Operation: operation,
					Sequence:  sequence,
					Payload:   append([]byte(nil), payload...),
				})
			}
			offset = next
		}
	}
	return result
}

// ParsePopularity reads the viewer count from a heartbeat reply body.
func ParsePopularity(payload []byte) (uint32, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(payload[0:4]), true
}

func decodeContainerPayload(version uint16, payload []byte) ([]byte, error) {
	if version == VersionZlib {
		return decodeZlibPayload(payload)
	}
	return decodeBrotliPayload(payload)
}

func decodeZlibPayload(payload []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(io.LimitReader(reader, maxDecompressedSize))
}

func decodeBrotliPayload(payload []byte) ([]byte, error) {
	reader := brotli.NewReader(bytes.NewReader(payload))
	return io.ReadAll(io.LimitReader(reader, maxDecompressedSize))
}
