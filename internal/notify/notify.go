package notify

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gen2brain/beeep"
)

const appName = "screenrec"

// Notifier shows messages and plays alert sounds. Delivery is best-effort.
type Notifier interface {
	Notify(title, message string) error
	Alert(repetitions int, interval time.Duration) error
}

// Desktop notifies through the OS notification center and speaker.
type Desktop struct {
	notify func(title, message, appIcon string) error
	beep   func(freq float64, duration int) error
	sleep  func(time.Duration)
	// bell receives the terminal bell when the speaker beep fails.
	bell io.Writer
}

// NewDesktop creates a desktop notifier.
func NewDesktop() *Desktop {
	return &Desktop{
		notify: beeep.Notify,
		beep:   beeep.Beep,
		sleep:  time.Sleep,
		bell:   os.Stderr,
	}
}

func (d *Desktop) Notify(title, message string) error {
	if title == "" {
		title = appName
	}
	if err := d.notify(title, message, ""); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}

// Alert beeps repetitions times, interval apart, falling back to the
// terminal bell for any beep the speaker could not play.
func (d *Desktop) Alert(repetitions int, interval time.Duration) error {
	var errs []error
	for i := 0; i < repetitions; i++ {
		if i > 0 && interval > 0 {
			d.sleep(interval)
		}
		if err := d.beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			if _, berr := io.WriteString(d.bell, "\a"); berr != nil {
				errs = append(errs, fmt.Errorf("beep: %w", errors.Join(err, berr)))
			}
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(string, string) error    { return nil }
func (Nop) Alert(int, time.Duration) error { return nil }

// Multi fans out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(title, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Alert(repetitions int, interval time.Duration) error {
	var errs []error
	for _, n := range m {
		if err := n.Alert(repetitions, interval); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
