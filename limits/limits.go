// Package limits provides centralized size limits for noisenet framing.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxNoiseMessage is the largest Noise protocol message, handshake or
	// transport, and therefore the largest frame body on the wire.
	MaxNoiseMessage = 65535

	// EncryptionOverhead is the ChaCha20-Poly1305 authentication tag size.
	EncryptionOverhead = 16

	// MaxFramePayload is the largest plaintext carried in a single frame.
	MaxFramePayload = MaxNoiseMessage - EncryptionOverhead

	// FrameHeaderSize is the size of the big-endian length prefix of a frame.
	FrameHeaderSize = 2

	// MaxProcessingBuffer bounds any buffer filled from untrusted input or
	// queued on behalf of a caller before a handshake completes (1MB).
	MaxProcessingBuffer = 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateFrame validates a frame body read from or written to the wire.
func ValidateFrame(frame []byte) error {
	return ValidateMessageSize(frame, MaxNoiseMessage)
}

// ValidatePendingWrite checks that queuing n more bytes on top of queued
// stays within max. A non-positive max falls back to MaxProcessingBuffer.
func ValidatePendingWrite(queued, n, max int) error {
	if max <= 0 {
		max = MaxProcessingBuffer
	}
	if queued+n > max {
		return fmt.Errorf("%w: pending %d bytes exceeds limit %d", ErrMessageTooLarge, queued+n, max)
	}
	return nil
}
