package loggerworker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rishavpaul/marketgw/internal/marketbus"
	"github.com/rishavpaul/marketgw/internal/wireevent"
)

func TestWorker_WritesPublishedEventsToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.bin")

	bus := marketbus.New(8, nil)
	w, err := New(bus, Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bus.MarkStarted()
	w.Start()

	bus.PublishTicker(1, 2, 100, 99, 101, 5, 3, 42)

	deadline := time.Now().Add(time.Second)
	for w.WrittenRecords() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	w.Stop()
	bus.Stop()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != int64(recordSize) {
		t.Fatalf("expected exactly one %d-byte record, got %d bytes", recordSize, info.Size())
	}
}

func TestWorker_EncodeLayoutIsStable(t *testing.T) {
	ev := &wireevent.MarketEvent{
		TimestampNs: 1234,
		Type:        wireevent.EventTicker,
		ExchangeID:  9,
		SymbolID:    77,
		Sequence:    3,
		LastPrice:   1.5,
	}
	buf := make([]byte, recordSize)
	encode(ev, buf)

	if buf[8] != byte(wireevent.EventTicker) {
		t.Fatalf("expected type byte at offset 8, got %d", buf[8])
	}
	if buf[9] != 9 {
		t.Fatalf("expected exchange id byte at offset 9, got %d", buf[9])
	}
}
