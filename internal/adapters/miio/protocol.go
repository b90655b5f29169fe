package miio

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// The miio wire format: a 32-byte header followed by an AES-128-CBC
// encrypted JSON payload. Key and IV derive from the device token.
//
//	magic(2) length(2) unknown(4) deviceID(4) stamp(4) checksum(16)
const (
	packetMagic  uint16 = 0x2131
	headerLen           = 32
	helloLen            = 32
	maxPacketLen        = 0xffff
)

type packet struct {
	DeviceID uint32
	Stamp    uint32
	Payload  []byte
}

type cipherPair struct {
	token []byte
	key   []byte
	iv    []byte
}

func newCipherPair(token []byte) (*cipherPair, error) {
	if len(token) != 16 {
		return nil, fmt.Errorf("token must be 16 bytes, got %d", len(token))
	}
	key := md5.Sum(token)
	iv := md5.Sum(append(key[:], token...))
	return &cipherPair{token: token, key: key[:], iv: iv[:]}, nil
}

func (c *cipherPair) encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	padLen := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, padded)
	return out, nil
}

func (c *cipherPair) decrypt(enc []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	if len(enc) == 0 || len(enc)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a block multiple", len(enc))
	}
	out := make([]byte, len(enc))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(out, enc)
	padLen := int(out[len(out)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(out) {
		return nil, fmt.Errorf("bad padding")
	}
	return out[:len(out)-padLen], nil
}

// helloPacket is the token-less handshake probe.
func helloPacket() []byte {
	buf := make([]byte, helloLen)
	binary.BigEndian.PutUint16(buf[0:], packetMagic)
	binary.BigEndian.PutUint16(buf[2:], helloLen)
	for i := 4; i < helloLen; i++ {
		buf[i] = 0xff
	}
	return buf
}

// encodePacket builds a full miio packet with an md5 checksum over the
// header (checksum field holding the token) plus the encrypted payload.
func encodePacket(c *cipherPair, p *packet) ([]byte, error) {
	enc, err := c.encrypt(p.Payload)
	if err != nil {
		return nil, err
	}
	total := headerLen + len(enc)
	if total > maxPacketLen {
		return nil, fmt.Errorf("packet too large: %d", total)
	}

	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:], packetMagic)
	binary.BigEndian.PutUint16(buf[2:], uint16(total))
	binary.BigEndian.PutUint32(buf[8:], p.DeviceID)
	binary.BigEndian.PutUint32(buf[12:], p.Stamp)
	copy(buf[16:32], c.token)
	copy(buf[32:], enc)

	sum := md5.Sum(buf)
	copy(buf[16:32], sum[:])
	return buf, nil
}

// decodePacket verifies and decrypts a received packet. Hello replies
// (no payload) come back with a nil Payload.
func decodePacket(c *cipherPair, buf []byte) (*packet, error) {
	if len(buf) < headerLen {
		return nil, fmt.Errorf("packet too short: %d", len(buf))
	}
	if binary.BigEndian.Uint16(buf[0:]) != packetMagic {
		return nil, fmt.Errorf("bad magic: %#x", binary.BigEndian.Uint16(buf[0:]))
	}
	if int(binary.BigEndian.Uint16(buf[2:])) != len(buf) {
		return nil, fmt.Errorf("length mismatch: header %d, got %d",
			binary.BigEndian.Uint16(buf[2:]), len(buf))
	}

	p := &packet{
		DeviceID: binary.BigEndian.Uint32(buf[8:]),
		Stamp:    binary.BigEndian.Uint32(buf[12:]),
	}
	if len(buf) == headerLen {
		return p, nil
	}

	verify := make([]byte, len(buf))
	copy(verify, buf)
	copy(verify[16:32], c.token)
	sum := md5.Sum(verify)
	if !bytes.Equal(sum[:], buf[16:32]) {
		return nil, fmt.Errorf("checksum mismatch")
	}

	payload, err := c.decrypt(buf[headerLen:])
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}
	// Devices NUL-terminate the JSON payload.
	p.Payload = bytes.TrimRight(payload, "\x00")
	return p, nil
}
