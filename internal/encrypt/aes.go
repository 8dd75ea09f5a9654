package encrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	NonceSize = 12 // GCM standard nonce size
	KeySize   = 32 // AES-256

	// ChunkSize is the plaintext size of every frame except the last.
	ChunkSize = 64 * 1024
)

var (
	ErrTruncated    = errors.New("ciphertext truncated: final chunk missing")
	ErrTrailingData = errors.New("data found after final chunk")
)

// AESEncryptor seals a stream as a sequence of AES-256-GCM frames:
//
//	nonce(12) | len(4) sealed(len) | len(4) sealed(len) | ...
//
// Each frame uses the base nonce XORed with its big-endian index and one
// byte of additional data marking whether it is the final frame, so frames
// cannot be reordered, dropped or truncated without detection.
type AESEncryptor struct {
	key []byte
}

func NewAESEncryptor(key []byte) (*AESEncryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	return &AESEncryptor{key: key}, nil
}

func (e *AESEncryptor) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (e *AESEncryptor) Encrypt(r io.Reader) (io.ReadCloser, error) {
	gcm, err := e.newGCM()
	if err != nil {
		return nil, err
	}

	base := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, base); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	pr, pw := io.Pipe()

	go func() {
		pw.CloseWithError(sealStream(gcm, base, r, pw))
	}()

	return pr, nil
}

func sealStream(gcm cipher.AEAD, base []byte, r io.Reader, w io.Writer) error {
	if _, err := w.Write(base); err != nil {
		return err
	}

	// Read one chunk ahead so the final frame is known before it is sealed.
	cur := make([]byte, ChunkSize)
	next := make([]byte, ChunkSize)

	n, err := io.ReadFull(r, cur)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("failed to read plaintext: %w", err)
	}
	last := err != nil

	var sealed []byte
	var header [4]byte
	for index := uint64(0); ; index++ {
		var m int
		if !last {
			m, err = io.ReadFull(r, next)
			if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
				return fmt.Errorf("failed to read plaintext: %w", err)
			}
			if m == 0 {
				last = true
			}
		}

		sealed = gcm.Seal(sealed[:0], chunkNonce(base, index), cur[:n], finalFlag(last))
		binary.BigEndian.PutUint32(header[:], uint32(len(sealed)))
		if _, err := w.Write(header[:]); err != nil {
			return err
		}
		if _, err := w.Write(sealed); err != nil {
			return err
		}

		if last {
			return nil
		}
		if m < ChunkSize {
			// The look-ahead chunk was short, so it is the final one.
			last = true
		}
		cur, next = next, cur
		n = m
	}
}

func (e *AESEncryptor) Extension() string {
	return ".enc"
}

// Decrypt reverses Encrypt, streaming one frame at a time.
func (e *AESEncryptor) Decrypt(r io.Reader) (io.ReadCloser, error) {
	gcm, err := e.newGCM()
	if err != nil {
		return nil, err
	}

	base := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, base); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	pr, pw := io.Pipe()

	go func() {
		pw.CloseWithError(openStream(gcm, base, r, pw))
	}()

	return pr, nil
}

func openStream(gcm cipher.AEAD, base []byte, r io.Reader, w io.Writer) error {
	maxFrame := uint32(ChunkSize + gcm.Overhead())
	var header [4]byte
	frame := make([]byte, maxFrame)
	var plain []byte

	for index := uint64(0); ; index++ {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				return ErrTruncated
			}
			return fmt.Errorf("failed to read frame header: %w", err)
		}

		size := binary.BigEndian.Uint32(header[:])
		if size < uint32(gcm.Overhead()) || size > maxFrame {
			return fmt.Errorf("invalid frame size %d", size)
		}
		if _, err := io.ReadFull(r, frame[:size]); err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}

		nonce := chunkNonce(base, index)
		var err error
		final := true
		plain, err = gcm.Open(plain[:0], nonce, frame[:size], finalFlag(true))
		if err != nil {
			final = false
			plain, err = gcm.Open(plain[:0], nonce, frame[:size], finalFlag(false))
			if err != nil {
				return fmt.Errorf("failed to decrypt: %w", err)
			}
		}

		if _, err := w.Write(plain); err != nil {
			return err
		}

		if final {
			var extra [1]byte
			switch _, err := io.ReadFull(r, extra[:]); err {
			case io.EOF:
				return nil
			case nil:
				return ErrTrailingData
			default:
				return fmt.Errorf("failed to check for trailing data: %w", err)
			}
		}
	}
}

func chunkNonce(base []byte, index uint64) []byte {
	nonce := make([]byte, NonceSize)
	copy(nonce, base)
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], index)
	for i := 0; i < 8; i++ {
		nonce[NonceSize-8+i] ^= counter[i]
	}
	return nonce
}

func finalFlag(last bool) []byte {
	if last {
		return []byte{1}
	}
	return []byte{0}
}
