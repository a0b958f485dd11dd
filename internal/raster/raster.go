// Package raster кодирует подписанный талон в QR-символ и упаковывает его
// в растровую команду GS v 0 термопринтера.
package raster

import (
	"fmt"
	"image"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultCanvasSize задаёт размер холста QR-кода в пикселях.
const DefaultCanvasSize = 350

// Пиксель считается печатаемым, когда среднее каналов RGB ниже серой середины.
const blackThreshold = 128

// EncodeToken строит QR-символ для текста талона и возвращает готовую
// растровую команду. Сам символ генерирует библиотека, упаковка — своя.
func EncodeToken(token string, canvasSize int) ([]byte, error) {
	if canvasSize <= 0 {
		canvasSize = DefaultCanvasSize
	}

	qr, err := qrcode.New(token, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	return Rasterize(qr.Image(canvasSize)), nil
}

// Rasterize упаковывает монохромное изображение в команду GS v 0:
// 4 байта префикса, ширина строки в байтах и высота в пикселях
// (младший байт первым), затем битовая карта по 8 пикселей в байте,
// старший бит первым. Ширина строки округляется вверх до кратной 8.
func Rasterize(img image.Image) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	bytesPerLine := (width + 7) / 8
	payload := make([]byte, bytesPerLine*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			avg := (r>>8 + g>>8 + b>>8) / 3
			if avg < blackThreshold {
				payload[y*bytesPerLine+x/8] |= 1 << uint(7-x%8)
			}
		}
	}

	command := make([]byte, 0, 8+len(payload))
	command = append(command,
		0x1d, 0x76, 0x30, 0x00,
		byte(bytesPerLine%256), byte(bytesPerLine/256),
		byte(height%256), byte(height/256),
	)
	return append(command, payload...)
}
