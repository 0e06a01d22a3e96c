package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Frames are <magic:2><len:2 big-endian><payload>. The reader resyncs on the
// magic bytes so a partially read serial stream recovers on its own.
var frameMagic = [2]byte{0xA5, 0x7E}

type readFullFunc func(buf []byte) error

func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if len(payload) > math.MaxUint16 {
		return nil, fmt.Errorf("payload too large: %d", len(payload))
	}

	frame := make([]byte, 4+len(payload))
	frame[0] = frameMagic[0]
	frame[1] = frameMagic[1]
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[4:], payload)

	return frame, nil
}

func readFrame(readFull readFullFunc) ([]byte, error) {
	if err := resyncToMagic(readFull); err != nil {
		return nil, err
	}

	var lenBuf [2]byte
	if err := readFull(lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	ln := int(binary.BigEndian.Uint16(lenBuf[:]))
	if ln <= 0 {
		return nil, fmt.Errorf("invalid frame length: %d", ln)
	}

	payload := make([]byte, ln)
	if err := readFull(payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

func resyncToMagic(readFull readFullFunc) error {
	buf := make([]byte, 1)
	for {
		if err := readFull(buf); err != nil {
			return fmt.Errorf("read frame magic byte 1: %w", err)
		}
		if buf[0] != frameMagic[0] {
			continue
		}
		if err := readFull(buf); err != nil {
			return fmt.Errorf("read frame magic byte 2: %w", err)
		}
		if buf[0] == frameMagic[1] {
			return nil
		}
	}
}

func ioReadFullFunc(r io.Reader) readFullFunc {
	return func(buf []byte) error {
		_, err := io.ReadFull(r, buf)

		return err
	}
}
