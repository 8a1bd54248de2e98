// Package snapshot serializes a session database to a portable file:
// a small header followed by zstd-compressed JSON frames.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	magic       = "DSTSNAP"
	version     = 0x01
	hdrSize     = 9 // 7 magic + 1 version + 1 flags
	envSize     = 6 // 1 type + 3 compressed_len + 2 uncompressed_len
	maxFrameLen = 1<<24 - 1
)

// FrameType identifies the kind of frame.
type FrameType byte

const (
	FrameEntries FrameType = 0x01
	FrameLinks   FrameType = 0x02
	FrameState   FrameType = 0x03
)

// Session is the decoded content of a snapshot.
type Session struct {
	SessionID string            `json:"session_id"`
	Entries   []json.RawMessage `json:"entries"`
	Links     []json.RawMessage `json:"links"`
	State     map[string]string `json:"state"`
}

// Encode renders the session as a snapshot body.
func Encode(s *Session) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	defer enc.Close()

	body := newHeader()
	frames := []struct {
		ftype   FrameType
		payload any
	}{
		{FrameEntries, struct {
			SessionID string            `json:"session_id"`
			Entries   []json.RawMessage `json:"entries"`
		}{s.SessionID, s.Entries}},
		{FrameLinks, s.Links},
		{FrameState, s.State},
	}

	for _, f := range frames {
		raw, err := json.Marshal(f.payload)
		if err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", f.ftype, err)
		}
		compressed := enc.EncodeAll(raw, nil)
		if len(compressed) > maxFrameLen {
			return nil, fmt.Errorf("frame %d too large (%d bytes)", f.ftype, len(compressed))
		}
		body = append(body, envelope(f.ftype, len(compressed), len(raw))...)
		body = append(body, compressed...)
	}
	return body, nil
}

// Decode parses a snapshot body back into a session.
func Decode(body []byte) (*Session, error) {
	if len(body) < hdrSize {
		return nil, errors.New("snapshot: data too short for header")
	}
	if string(body[0:7]) != magic {
		return nil, fmt.Errorf("snapshot: bad magic %q", body[0:7])
	}
	if body[7] != version {
		return nil, fmt.Errorf("snapshot: unsupported version %d", body[7])
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	defer dec.Close()

	s := &Session{State: map[string]string{}}
	pos := hdrSize

	for pos+envSize <= len(body) {
		ftype := FrameType(body[pos])
		compLen := int(body[pos+1]) | int(body[pos+2])<<8 | int(body[pos+3])<<16
		start := pos + envSize
		if start+compLen > len(body) {
			return nil, fmt.Errorf("snapshot: frame at offset %d truncated", pos)
		}

		raw, err := dec.DecodeAll(body[start:start+compLen], nil)
		if err != nil {
			return nil, fmt.Errorf("decompress frame %d: %w", ftype, err)
		}

		switch ftype {
		case FrameEntries:
			var f struct {
				SessionID string            `json:"session_id"`
				Entries   []json.RawMessage `json:"entries"`
			}
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, fmt.Errorf("parse entries frame: %w", err)
			}
			s.SessionID = f.SessionID
			s.Entries = f.Entries
		case FrameLinks:
			if err := json.Unmarshal(raw, &s.Links); err != nil {
				return nil, fmt.Errorf("parse links frame: %w", err)
			}
		case FrameState:
			if err := json.Unmarshal(raw, &s.State); err != nil {
				return nil, fmt.Errorf("parse state frame: %w", err)
			}
		default:
			// Unknown frames are skipped so newer snapshots stay readable.
		}

		pos = start + compLen
	}

	if s.SessionID == "" {
		return nil, errors.New("snapshot: missing entries frame")
	}
	return s, nil
}

func newHeader() []byte {
	buf := make([]byte, hdrSize)
	copy(buf[0:7], magic)
	buf[7] = version
	buf[8] = 0x00
	return buf
}

// envelope writes the 6-byte frame envelope: type, u24 LE compressed
// length, u16 LE uncompressed length (0 when it does not fit; the decoder
// does not rely on it).
func envelope(ftype FrameType, compressedLen, uncompressedLen int) []byte {
	env := make([]byte, envSize)
	env[0] = byte(ftype)
	env[1] = byte(compressedLen)
	env[2] = byte(compressedLen >> 8)
	env[3] = byte(compressedLen >> 16)
	if uncompressedLen <= 0xFFFF {
		binary.LittleEndian.PutUint16(env[4:6], uint16(uncompressedLen))
	}
	return env
}
