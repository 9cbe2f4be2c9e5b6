package transfer

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrListenerNotComparable is the panic value for listeners that cannot be
// kept in a set, such as struct values holding a slice.
var ErrListenerNotComparable = errors.New("listener is not comparable, register a pointer")

// IsComparable reports whether l can be used as a set key.
func IsComparable(l any) bool {
	return l != nil && reflect.ValueOf(l).Comparable()
}

// MustBeComparable panics with ErrListenerNotComparable unless l can be compared by identity.
func MustBeComparable(l any) {
	if !IsComparable(l) {
		panic(fmt.Errorf("%w: %T", ErrListenerNotComparable, l))
	}
}

// TransferListener observes every change of every transfer.
// Implementations are compared by identity, so register pointers.
type TransferListener interface {
	TransferChanged(t Transfer)
}

// StatusListener observes a full queue snapshot after every change.
type StatusListener interface {
	StatusChanged(s Status)
}

type transferFunc struct{ fn func(Transfer) }

func (l *transferFunc) TransferChanged(t Transfer) { l.fn(t) }

// OnTransfer adapts a function to a TransferListener.
// Each call returns a distinct listener; keep it to remove it later.
func OnTransfer(fn func(Transfer)) TransferListener {
	return &transferFunc{fn: fn}
}

type statusFunc struct{ fn func(Status) }

func (l *statusFunc) StatusChanged(s Status) { l.fn(s) }

// OnStatus adapts a function to a StatusListener.
func OnStatus(fn func(Status)) StatusListener {
	return &statusFunc{fn: fn}
}
