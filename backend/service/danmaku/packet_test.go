package danmaku

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

func buildPacket(version uint16, operation uint32, payload []byte) []byte {
	total := headerSize + len(payload)
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	binary.BigEndian.PutUint16(buf[4:6], headerSize)
	binary.BigEndian.PutUint16(buf[6:8], version)
	binary.BigEndian.PutUint32(buf[8:12], operation)
	binary.BigEndian.PutUint32(buf[12:16], 0)
	copy(buf[headerSize:], payload)
	return buf
}

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w := zlib.NewWriter(&out)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func brotliCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w := brotli.NewWriter(&out)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func TestEncodePacketHeader(t *testing.T) {
	payload := []byte(`{"roomid":1}`)
	frame := EncodePacket(OpAuth, payload)

	if got := binary.BigEndian.Uint32(frame[0:4]); got != uint32(len(frame)) {
		t.Fatalf("total length = %d, want %d", got, len(frame))
	}
	if got := binary.BigEndian.Uint16(frame[4:6]); got != headerSize {
		t.Fatalf("header length = %d, want %d", got, headerSize)
	}
	if got := binary.BigEndian.Uint16(frame[6:8]); got != VersionPlain {
		t.Fatalf("version = %d, want %d", got, VersionPlain)
	}
	if got := binary.BigEndian.Uint32(frame[8:12]); got != OpAuth {
		t.Fatalf("operation = %d, want %d", got, OpAuth)
	}
	if got := binary.BigEndian.Uint32(frame[12:16]); got != 1 {
		t.Fatalf("sequence = %d, want 1", got)
	}
	if !bytes.Equal(frame[headerSize:], payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestDecodePacketsPlain(t *testing.T) {
	frame := append(
		buildPacket(VersionPlain, OpMessage, []byte(`{"cmd":"A"}`)),
		buildPacket(VersionPlain, OpMessage, []byte(`{"cmd":"B"}`))...,
	)
	packets := DecodePackets(frame)
	if len(packets) != 2 {
		t.Fatalf("decoded %d packets, want 2", len(packets))
	}
	if string(packets[0].Payload) != `{"cmd":"A"}` || string(packets[1].Payload) != `{"cmd":"B"}` {
		t.Fatalf("payloads out of order: %q %q", packets[0].Payload, packets[1].Payload)
	}
}

func TestDecodePacketsZlibContainer(t *testing.T) {
	inner := append(
		buildPacket(VersionPlain, OpMessage, []byte("one")),
		buildPacket(VersionPlain, OpMessage, []byte("two"))...,
	)
	frame := buildPacket(VersionZlib, OpMessage, zlibCompress(t, inner))

	packets := DecodePackets(frame)
	if len(packets) != 2 {
		t.Fatalf("decoded %d packets, want 2", len(packets))
	}
	if string(packets[0].Payload) != "one" || string(packets[1].Payload) != "two" {
		t.Fatalf("unexpected payloads: %q %q", packets[0].Payload, packets[1].Payload)
	}
}

func TestDecodePacketsBrotliContainer(t *testing.T) {
	inner := buildPacket(VersionPlain, OpMessage, []byte("hello"))
	frame := buildPacket(VersionBrotli, OpMessage, brotliCompress(t, inner))

	packets := DecodePackets(frame)
	if len(packets) != 1 {
		t.Fatalf("decoded %d packets, want 1", len(packets))
	}
	if string(packets[0].Payload) != "hello" {
		t.Fatalf("payload = %q, want hello", packets[0].Payload)
	}
}

func TestDecodePacketsNestedContainers(t *testing.T) {
	innermost := buildPacket(VersionPlain, OpMessage, []byte("deep"))
	middle := buildPacket(VersionZlib, OpMessage, zlibCompress(t, innermost))
	frame := buildPacket(VersionBrotli, OpMessage, brotliCompress(t, middle))

	packets := DecodePackets(frame)
	if len(packets) != 1 {
		t.Fatalf("decoded %d packets, want 1", len(packets))
	}
	if string(packets[0].Payload) != "deep" {
		t.Fatalf("payload = %q, want deep", packets[0].Payload)
	}
}

func TestDecodePacketsContainerBeforePlainSibling(t *testing.T) {
	inner := append(
		buildPacket(VersionPlain, OpMessage, []byte("first")),
		buildPacket(VersionPlain, OpMessage, []byte("second"))...,
	)
	frame := append(
		buildPacket(VersionZlib, OpMessage, zlibCompress(t, inner)),
		buildPacket(VersionPlain, OpMessage, []byte("third"))...,
	)

	packets := DecodePackets(frame)
	if len(packets) != 3 {
		t.Fatalf("decoded %d packets, want 3", len(packets))
	}
	want := []string{"first", "second", "third"}
	for i, packet := range packets {
		if string(packet.Payload) != want[i] {
			t.Fatalf("packet %d payload = %q, want %q", i, packet.Payload, want[i])
		}
	}
}

func TestDecodePacketsSiblingContainersKeepOrder(t *testing.T) {
	first := buildPacket(VersionZlib, OpMessage, zlibCompress(t, buildPacket(VersionPlain, OpMessage, []byte("one"))))
	second := buildPacket(VersionBrotli, OpMessage, brotliCompress(t, buildPacket(VersionPlain, OpMessage, []byte("two"))))
	frame := append(first, second...)

	packets := DecodePackets(frame)
	if len(packets) != 2 {
		t.Fatalf("decoded %d packets, want 2", len(packets))
	}
	if string(packets[0].Payload) != "one" || string(packets[1].Payload) != "two" {
		t.Fatalf("containers decoded out of order: %q %q", packets[0].Payload, packets[1].Payload)
	}
}

func TestDecodePacketsPlainBetweenContainers(t *testing.T) {
	frame := buildPacket(VersionZlib, OpMessage, zlibCompress(t, buildPacket(VersionPlain, OpMessage, []byte("a"))))
	frame = append(frame, buildPacket(VersionPlain, OpMessage, []byte("b"))...)
	frame = append(frame, buildPacket(VersionZlib, OpMessage, zlibCompress(t, buildPacket(VersionPlain, OpMessage, []byte("c"))))...)

	packets := DecodePackets(frame)
	if len(packets) != 3 {
		t.Fatalf("decoded %d packets, want 3", len(packets))
	}
	want := []string{"a", "b", "c"}
	for i, packet := range packets {
		if string(packet.Payload) != want[i] {
			t.Fatalf("packet %d payload = %q, want %q", i, packet.Payload, want[i])
		}
	}
}

func TestDecodePacketsTruncatedTail(t *testing.T) {
	good := buildPacket(VersionPlain, OpMessage, []byte("ok"))
	truncated := buildPacket(VersionPlain, OpMessage, []byte("cut off early"))
	frame := append(good, truncated[:len(truncated)-5]...)

	packets := DecodePackets(frame)
	if len(packets) != 1 {
		t.Fatalf("decoded %d packets, want 1", len(packets))
	}
	if string(packets[0].Payload) != "ok" {
		t.Fatalf("payload = %q, want ok", packets[0].Payload)
	}
}

func TestDecodePacketsCorruptContainer(t *testing.T) {
	var logged bytes.Buffer
	log.SetOutput(&logged)
	defer log.SetOutput(os.Stderr)

	frame := buildPacket(VersionZlib, OpMessage, []byte("not actually zlib"))
	if packets := DecodePackets(frame); len(packets) != 0 {
		t.Fatalf("decoded %d packets from corrupt container, want 0", len(packets))
	}
	if !strings.Contains(logged.String(), "drop corrupt container") {
		t.Fatalf("corrupt container was not logged: %q", logged.String())
	}
}

func TestDecodePacketsBogusHeaderLength(t *testing.T) {
	frame := buildPacket(VersionPlain, OpMessage, []byte("x"))
	binary.BigEndian.PutUint16(frame[4:6], 4)
	if packets := DecodePackets(frame); len(packets) != 0 {
		t.Fatalf("decoded %d packets with bogus header length, want 0", len(packets))
	}
}

func TestParsePopularity(t *testing.T) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, 123456)
	got, ok := ParsePopularity(payload)
	if !ok || got != 123456 {
		t.Fatalf("ParsePopularity = %d, %v", got, ok)
	}
	if _, ok := ParsePopularity([]byte{0x01}); ok {
		t.Fatal("short payload should not parse")
	}
}
