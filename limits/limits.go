// Package limits provides centralized payload size limits for the chatcore
// client. This ensures consistent validation across different components of
// the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxMessagePayload is the maximum size of an encrypted message payload
	// delivered over the realtime transport.
	MaxMessagePayload = 4096

	// MaxTransportFrame is the maximum size of a single transport frame,
	// including the JSON envelope around the payload.
	MaxTransportFrame = 8192

	// MaxPreviewText is the maximum number of bytes rendered in a
	// notification preview.
	MaxPreviewText = 256

	// MaxProcessingBuffer is the absolute maximum for any operation.
	// This prevents memory exhaustion from untrusted input (1MB limit).
	MaxProcessingBuffer = 1024 * 1024
)

var (
	// ErrPayloadEmpty indicates an empty payload was provided
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates payload exceeds maximum size
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidatePayloadSize validates a payload against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidatePayloadSize(payload []byte, maxSize int) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), maxSize)
	}
	return nil
}

// ValidateMessagePayload validates a message payload size against MaxMessagePayload.
func ValidateMessagePayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > MaxMessagePayload {
		return fmt.Errorf("%w: message size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxMessagePayload)
	}
	return nil
}

// ValidateTransportFrame validates a raw transport frame size against MaxTransportFrame.
// Frames larger than this are dropped before JSON decoding is attempted.
func ValidateTransportFrame(frame []byte) error {
	if len(frame) == 0 {
		return ErrPayloadEmpty
	}
	if len(frame) > MaxTransportFrame {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrPayloadTooLarge, len(frame), MaxTransportFrame)
	}
	return nil
}
