// Package printer отвечает за доставку чека на термопринтер: транспорт
// до устройства и оркестратор последовательности печати.
package printer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// ErrNotConnected возвращается при записи без установленного соединения.
var ErrNotConnected = errors.New("printer not connected")

// Device описывает настроенный принтер.
type Device struct {
	Name    string
	Address string
}

// Transport описывает потоковое соединение с принтером.
type Transport interface {
	ListPaired() []Device
	Connect(ctx context.Context, device Device) error
	Write(data []byte) error
	Close()
	IsConnected() bool
}

// ParseDevices разбирает список принтеров из конфигурации.
// Каждый элемент задаётся как "имя@адрес" либо просто адресом.
func ParseDevices(raw string) []Device {
	var devices []Device
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, addr, found := strings.Cut(part, "@")
		if !found {
			devices = append(devices, Device{Name: part, Address: part})
			continue
		}
		devices = append(devices, Device{Name: name, Address: addr})
	}
	return devices
}

// TCPTransport реализует Transport поверх TCP-сокета принтера (raw-печать, порт 9100).
// Физический канал не допускает параллельных писателей, поэтому connect, write
// и close сериализуются одним замком.
type TCPTransport struct {
	mu          sync.Mutex
	devices     []Device
	conn        net.Conn
	discovering bool
	dialTimeout time.Duration
}

// NewTCPTransport создаёт транспорт для заранее настроенного списка принтеров.
func NewTCPTransport(devices []Device) *TCPTransport {
	return &TCPTransport{
		devices:     devices,
		dialTimeout: 5 * time.Second,
	}
}

// ListPaired возвращает список настроенных принтеров.
func (t *TCPTransport) ListPaired() []Device {
	t.mu.Lock()
	defer t.mu.Unlock()

	devices := make([]Device, len(t.devices))
	copy(devices, t.devices)
	return devices
}

// Discover опрашивает настроенные адреса и возвращает доступные принтеры.
// Во время активного соединения опрос не запускается.
func (t *TCPTransport) Discover(ctx context.Context) []Device {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.discovering = true
	devices := make([]Device, len(t.devices))
	copy(devices, t.devices)
	t.mu.Unlock()

	dialer := net.Dialer{Timeout: t.dialTimeout}

	var alive []Device
	for _, device := range devices {
		conn, err := dialer.DialContext(ctx, "tcp", device.Address)
		if err != nil {
			continue
		}
		conn.Close()
		alive = append(alive, device)
	}

	t.mu.Lock()
	t.discovering = false
	t.mu.Unlock()

	return alive
}

// Connect устанавливает соединение с принтером. Предыдущее соединение
// принудительно закрывается, активный опрос устройств прекращается.
// После неудачной стандартной попытки выполняется одна запасная.
func (t *TCPTransport) Connect(ctx context.Context, device Device) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeLocked()
	t.discovering = false

	dialer := net.Dialer{Timeout: t.dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", device.Address)
	if err != nil {
		conn, err = dialer.DialContext(ctx, "tcp", device.Address)
		if err != nil {
			return fmt.Errorf("connect %s: %w", device.Address, err)
		}
	}

	t.conn = conn
	return nil
}

// Write выполняет одну блокирующую запись. Ошибка записи закрывает
// соединение: транспорт никогда не остаётся полуоткрытым.
func (t *TCPTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotConnected
	}

	if _, err := t.conn.Write(data); err != nil {
		t.closeLocked()
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close закрывает соединение с принтером.
func (t *TCPTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

// IsConnected сообщает, установлено ли соединение.
func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *TCPTransport) closeLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}
