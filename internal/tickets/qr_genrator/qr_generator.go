package qr

import (
	"errors"

	"github.com/skip2/go-qrcode"
)

const defaultSize = 256

// QRGenerator renders scan credentials as PNG QR codes. The credential is already an
// unguessable random token, so it is encoded as is.
type QRGenerator struct {
	size  int
	level qrcode.RecoveryLevel
}

func NewQRGenerator(size int) *QRGenerator {
	if size <= 0 {
		size = defaultSize
	}
	return &QRGenerator{size: size, level: qrcode.Medium}
}

func (q *QRGenerator) Generate(scanToken string) ([]byte, error) {
	if scanToken == "" {
		return nil, errors.New("empty scan token")
	}
	return qrcode.Encode(scanToken, q.level, q.size)
}
