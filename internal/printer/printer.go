package printer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmeshcher/coopdesk-system/internal/model"
	"github.com/mmeshcher/coopdesk-system/internal/raster"
	"github.com/mmeshcher/coopdesk-system/internal/receipt"
	"github.com/mmeshcher/coopdesk-system/internal/token"
)

// ErrNoPairedPrinter возвращается, когда список настроенных принтеров пуст.
var (
	ErrNoPairedPrinter = errors.New("no paired printers found")
	// ErrConnectFailed возвращается при неудачном подключении к принтеру.
	ErrConnectFailed = errors.New("printer connect failed")
	// ErrTextWriteFailed возвращается при ошибке записи текстовой части чека.
	ErrTextWriteFailed = errors.New("receipt text write failed")
	// ErrImageWriteFailed возвращается при ошибке записи QR-кода.
	ErrImageWriteFailed = errors.New("qr image write failed")
)

const (
	chunkSize       = 1024
	chunkPause      = 15 * time.Millisecond
	textSettleDelay = 500 * time.Millisecond
	cutDelay        = 200 * time.Millisecond
)

// Принтер выбирается по вхождению одной из подстрок в имя устройства.
var nameHints = []string{"mpt", "printer", "pos"}

var (
	cmdAlignCenter = []byte{0x1b, 0x61, 0x01}
	cmdAlignLeft   = []byte{0x1b, 0x61, 0x00}
	cmdFeedAndCut  = []byte("\n\n\n\x1dVA\x03")
)

// Printer последовательно печатает чек: текстовую часть, QR-код с подписанным
// талоном и отрез бумаги. Первая неудачная операция прерывает последовательность;
// уже напечатанный текст не отзывается.
type Printer struct {
	transport Transport
	signer    *token.Signer

	settleDelay time.Duration
	cutPause    time.Duration
	chunkPause  time.Duration
}

// NewPrinter создаёт оркестратор печати поверх указанного транспорта.
func NewPrinter(transport Transport, signer *token.Signer) *Printer {
	return &Printer{
		transport:   transport,
		signer:      signer,
		settleDelay: textSettleDelay,
		cutPause:    cutDelay,
		chunkPause:  chunkPause,
	}
}

// PrintReceipt печатает чек члена общества. Фиксация выдачи в хранилище —
// обязанность вызывающего и допустима только после успешного возврата.
func (p *Printer) PrintReceipt(ctx context.Context, member *model.MemberRecord) error {
	if !p.transport.IsConnected() {
		devices := p.transport.ListPaired()
		if len(devices) == 0 {
			return ErrNoPairedPrinter
		}

		device := pickPrinter(devices)
		if err := p.transport.Connect(ctx, device); err != nil {
			return fmt.Errorf("%w: %s", ErrConnectFailed, err)
		}
	}

	if err := p.transport.Write(receipt.Format(member)); err != nil {
		p.transport.Close()
		return fmt.Errorf("%w: %s", ErrTextWriteFailed, err)
	}

	if err := sleep(ctx, p.settleDelay); err != nil {
		return err
	}

	// По закрытому счёту талон не подписывается и QR-код не печатается.
	if !member.AccountClosed() {
		identifier := strings.TrimSpace(member.MemberNumber)
		if identifier == "" {
			identifier = "0000"
		}

		command, err := raster.EncodeToken(p.signer.Sign(identifier), raster.DefaultCanvasSize)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrImageWriteFailed, err)
		}

		if err := p.transport.Write(cmdAlignCenter); err != nil {
			return fmt.Errorf("%w: %s", ErrImageWriteFailed, err)
		}
		if err := p.writeChunked(ctx, command); err != nil {
			return fmt.Errorf("%w: %s", ErrImageWriteFailed, err)
		}
		if err := p.transport.Write(cmdAlignLeft); err != nil {
			return fmt.Errorf("%w: %s", ErrImageWriteFailed, err)
		}
	}

	if err := sleep(ctx, p.cutPause); err != nil {
		return err
	}

	if err := p.transport.Write(cmdFeedAndCut); err != nil {
		return fmt.Errorf("%w: %s", ErrTextWriteFailed, err)
	}

	return nil
}

// writeChunked передаёт крупный бинарный блок порциями, чтобы не переполнять
// буфер устройства. Первая неудачная порция прерывает передачу целиком.
func (p *Printer) writeChunked(ctx context.Context, data []byte) error {
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := p.transport.Write(data[offset:end]); err != nil {
			return err
		}
		if err := sleep(ctx, p.chunkPause); err != nil {
			return err
		}
	}
	return nil
}

func pickPrinter(devices []Device) Device {
	for _, device := range devices {
		name := strings.ToLower(device.Name)
		for _, hint := range nameHints {
			if strings.Contains(name, hint) {
				return device
			}
		}
	}
	return devices[0]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
