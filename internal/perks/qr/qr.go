package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"github.com/skip2/go-qrcode"
)

// ClaimPayload is what ends up inside a scanned perk QR code.
type ClaimPayload struct {
	ClaimID string `json:"claim_id"`
	PerkID  string `json:"perk_id"`
	UserID  string `json:"user_id"`
}

type QRGenerator struct {
	secret []byte
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:]}
}

// GenerateClaimCode encrypts the claim payload and returns both the opaque
// code (stored with the claim) and its rendered QR PNG.
func (q *QRGenerator) GenerateClaimCode(payload ClaimPayload) (string, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}

	encrypted, err := encryptAES(data, q.secret)
	if err != nil {
		return "", nil, err
	}

	png, err := qrcode.Encode(encrypted, qrcode.Medium, 256)
	if err != nil {
		return "", nil, err
	}

	return encrypted, png, nil
}

// DecodeClaimCode reverses GenerateClaimCode for staff-side scans.
func (q *QRGenerator) DecodeClaimCode(code string) (ClaimPayload, error) {
	var payload ClaimPayload

	data, err := decryptAES(code, q.secret)
	if err != nil {
		return payload, err
	}

	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func decryptAES(encoded string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, errors.New("ciphertext too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)

	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, ciphertext[aes.BlockSize:])

	return data, nil
}
