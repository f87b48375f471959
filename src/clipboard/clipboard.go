package clipboard

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.design/x/clipboard"
)

var ErrNotInitialized = errors.New("clipboard not initialized")

var (
	writeMu     sync.Mutex
	initialized atomic.Bool
)

// Writer places text on a clipboard.
type Writer interface {
	Write(text string) error
}

func Init() error {
	if err := clipboard.Init(); err != nil {
		return err
	}
	initialized.Store(true)
	return nil
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func Write(text string) error {
	if !initialized.Load() {
		return ErrNotInitialized
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// System is the Writer backed by the OS clipboard.
type System struct{}

func (System) Write(text string) error { return Write(text) }
