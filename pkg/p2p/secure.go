package p2p

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	nonceSize = chacha20poly1305.NonceSize
	keySize   = chacha20poly1305.KeySize
	// maxFrameSize caps the plaintext carried by one sealed frame
	maxFrameSize = 64 * 1024
)

var errFrameTooLarge = errors.New("secure frame exceeds maximum size")

// SecureConn seals everything written to the wrapped connection with
// ChaCha20-Poly1305. Wire format per frame:
// [4-byte big-endian ciphertext length] [ciphertext + 16-byte tag]
type SecureConn struct {
	net.Conn
	enc      cipher.AEAD
	dec      cipher.AEAD
	encNonce []byte // little-endian counter, bumped per frame
	decNonce []byte
	pending  []byte // decrypted bytes not yet handed to Read
	writeMu  sync.Mutex
	readMu   sync.Mutex
}

// bumpNonce increments a little-endian counter. Nonces must never repeat
// under the same key.
func bumpNonce(nonce []byte) {
	for i := range nonce {
		nonce[i]++
		if nonce[i] != 0 {
			return
		}
	}
}

func (s *SecureConn) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxFrameSize {
			chunk = p[:maxFrameSize]
		}
		p = p[len(chunk):]

		frame := make([]byte, 4, 4+len(chunk)+s.enc.Overhead())
		frame = s.enc.Seal(frame, s.encNonce, chunk, nil)
		bumpNonce(s.encNonce)
		binary.BigEndian.PutUint32(frame[:4], uint32(len(frame)-4))

		if _, err := s.Conn.Write(frame); err != nil {
			return written, fmt.Errorf("failed to write sealed frame: %w", err)
		}
		written += len(chunk)
	}
	return written, nil
}

func (s *SecureConn) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(s.Conn, lenBuf[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("failed to read frame length: %w", err)
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen > maxFrameSize+uint32(s.dec.Overhead()) {
		s.Conn.Close()
		return 0, errFrameTooLarge
	}

	ciphertext := make([]byte, frameLen)
	if _, err := io.ReadFull(s.Conn, ciphertext); err != nil {
		return 0, fmt.Errorf("failed to read ciphertext: %w", err)
	}

	plaintext, err := s.dec.Open(ciphertext[:0], s.decNonce, ciphertext, nil)
	if err != nil {
		// a frame that fails authentication was tampered with; the stream is unusable
		s.Conn.Close()
		return 0, fmt.Errorf("decryption failed (tamper detected): %w", err)
	}
	bumpNonce(s.decNonce)

	n := copy(p, plaintext)
	s.pending = plaintext[n:]
	return n, nil
}

// SecureHandshake runs an ephemeral X25519 exchange and swaps the peer's
// connection for a SecureConn keyed from the shared secret.
func SecureHandshake(peer Peer) error {
	tcpPeer, ok := peer.(*TCPPeer)
	if !ok {
		return fmt.Errorf("secure handshake: expected *TCPPeer, got %T", peer)
	}

	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("failed to compute public key: %w", err)
	}

	remotePub, err := swapPublicKeys(tcpPeer.Conn, pub, tcpPeer.isOutbound)
	if err != nil {
		return err
	}

	shared, err := curve25519.X25519(priv[:], remotePub)
	if err != nil {
		return fmt.Errorf("failed to compute shared secret: %w", err)
	}

	enc, dec, err := directionalCiphers(shared, tcpPeer.isOutbound)
	if err != nil {
		return err
	}

	tcpPeer.Conn = &SecureConn{
		Conn:     tcpPeer.Conn,
		enc:      enc,
		dec:      dec,
		encNonce: make([]byte, nonceSize),
		decNonce: make([]byte, nonceSize),
	}
	return nil
}

// swapPublicKeys has the dialer send first and the acceptor receive first,
// so the two sides never both block on a read.
func swapPublicKeys(conn net.Conn, pub []byte, outbound bool) ([]byte, error) {
	remote := make([]byte, 32)
	send := func() error {
		if _, err := conn.Write(pub); err != nil {
			return fmt.Errorf("failed to send public key: %w", err)
		}
		return nil
	}
	recv := func() error {
		if _, err := io.ReadFull(conn, remote); err != nil {
			return fmt.Errorf("failed to receive peer public key: %w", err)
		}
		return nil
	}

	steps := []func() error{recv, send}
	if outbound {
		steps = []func() error{send, recv}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return remote, nil
}

// directionalCiphers derives one key per direction; the dialer's write key
// is the acceptor's read key and vice versa.
func directionalCiphers(shared []byte, outbound bool) (enc, dec cipher.AEAD, err error) {
	material := make([]byte, 2*keySize)
	kdf := hkdf.New(sha256.New, shared, nil, []byte("segswap-secure-transport"))
	if _, err := io.ReadFull(kdf, material); err != nil {
		return nil, nil, fmt.Errorf("failed to derive keys: %w", err)
	}

	writeKey, readKey := material[:keySize], material[keySize:]
	if !outbound {
		writeKey, readKey = readKey, writeKey
	}

	if enc, err = chacha20poly1305.New(writeKey); err != nil {
		return nil, nil, fmt.Errorf("failed to create encryption cipher: %w", err)
	}
	if dec, err = chacha20poly1305.New(readKey); err != nil {
		return nil, nil, fmt.Errorf("failed to create decryption cipher: %w", err)
	}
	return enc, dec, nil
}
