package transfer

import (
	"bytes"
	"testing"
)

type recordedFrame struct {
	op      uint8
	payload []byte
}

func collect(frames *[]recordedFrame) MessageHandler {
	return func(op uint8, payload []byte) {
		*frames = append(*frames, recordedFrame{op: op, payload: append([]byte{}, payload...)})
	}
}

func TestDecodeFramesCoalesced(t *testing.T) {
	// Two complete frames back to back in one buffer.
	buf := append(encodeMessage(OpUploadReq, []byte("book.txt|1024")), encodeMessage(OpData, []byte("chunk"))...)

	var frames []recordedFrame
	consumed := decodeFrames(buf, collect(&frames))

	if consumed != len(buf) {
		t.Fatalf("consumed %d of %d bytes", consumed, len(buf))
	}
	if len(frames) != 2 {
		t.Fatalf("decoded %d frames, want 2", len(frames))
	}
	if frames[0].op != OpUploadReq || string(frames[0].payload) != "book.txt|1024" {
		t.Errorf("frame 0 = %d %q", frames[0].op, frames[0].payload)
	}
	if frames[1].op != OpData || string(frames[1].payload) != "chunk" {
		t.Errorf("frame 1 = %d %q", frames[1].op, frames[1].payload)
	}
}

func TestDecodeFramesSplit(t *testing.T) {
	frame := encodeMessage(OpData, bytes.Repeat([]byte{0xab}, 300))

	// Feed the frame in two arbitrary pieces; nothing may be dispatched
	// before the frame is complete.
	var frames []recordedFrame
	if consumed := decodeFrames(frame[:7], collect(&frames)); consumed != 0 {
		t.Fatalf("consumed %d bytes of a partial frame", consumed)
	}
	if len(frames) != 0 {
		t.Fatal("partial frame was dispatched")
	}

	consumed := decodeFrames(frame, collect(&frames))
	if consumed != len(frame) {
		t.Fatalf("consumed %d of %d bytes", consumed, len(frame))
	}
	if len(frames) != 1 || len(frames[0].payload) != 300 {
		t.Fatalf("frame not reassembled: %+v", frames)
	}
}

func TestDecodeFramesEmptyPayload(t *testing.T) {
	var frames []recordedFrame
	buf := encodeMessage(OpEnd, nil)
	if consumed := decodeFrames(buf, collect(&frames)); consumed != AppHeaderSize {
		t.Fatalf("consumed %d, want %d", consumed, AppHeaderSize)
	}
	if len(frames) != 1 || frames[0].op != OpEnd || len(frames[0].payload) != 0 {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestParseUploadRequest(t *testing.T) {
	testCases := []struct {
		payload string
		name    string
		size    int64
	}{
		{payload: "book.txt|4096", name: "book.txt", size: 4096},
		{payload: "noseparator.bin", name: "noseparator.bin", size: 0},
		{payload: "bad|notanumber", name: "bad", size: 0},
		{payload: "dir/sub/file.dat|17", name: "dir/sub/file.dat", size: 17},
	}

	for _, tc := range testCases {
		name, size := parseUploadRequest(tc.payload)
		if name != tc.name || size != tc.size {
			t.Errorf("parseUploadRequest(%q) = (%q, %d), want (%q, %d)", tc.payload, name, size, tc.name, tc.size)
		}
	}
}
