// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package irq provides the nested critical section and interrupt dispatch
// primitives the host controller driver and timer service build on top of.
// It adapts the tamago runtime's arm.CPU interrupt mask and arm/gic channel
// based interrupt acknowledgement into a connect/disconnect API shaped after
// the environment's ConnectInterrupt/EnterCritical/LeaveCritical hooks.
package irq

import (
	"sync"

	"github.com/usbarmory/tamago/arm"
	"github.com/usbarmory/tamago/arm/gic"
)

// CPU is the interrupt mask target for EnterCritical/LeaveCritical. Board
// wiring assigns its own *arm.CPU instance here before any handler is
// connected.
var CPU *arm.CPU

// GIC is the interrupt controller instance Connect dispatches from. Board
// wiring assigns its own *gic.GIC instance here before any handler is
// connected.
var GIC *gic.GIC

var mutex sync.Mutex
var depth int

// Handler is invoked on the dispatch goroutine Connect starts, once for
// every occurrence of the connected interrupt. Connect signals end of
// interrupt to the GIC after the handler returns, so further occurrences
// are dispatched only once it has finished.
type Handler func()

// EnterCritical disables IRQs, nesting safely with concurrent callers: only
// the outermost EnterCritical actually masks interrupts, and only the
// matching outermost LeaveCritical unmasks them.
func EnterCritical() {
	mutex.Lock()
	defer mutex.Unlock()

	if depth == 0 {
		CPU.DisableInterrupts()
	}

	depth++
}

// LeaveCritical reverses one EnterCritical call.
func LeaveCritical() {
	mutex.Lock()
	defer mutex.Unlock()

	if depth == 0 {
		return
	}

	depth--

	if depth == 0 {
		CPU.EnableInterrupts()
	}
}

// Connect enables id at the GIC and spawns a dispatch goroutine that invokes
// fn every time the interrupt fires, acknowledging completion to the GIC
// once fn returns. It returns a function that disables the interrupt and
// stops dispatch.
func Connect(id int, secure bool, fn Handler) (disconnect func()) {
	stop := make(chan struct{})

	GIC.EnableInterrupt(id, secure)

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}

			n, end := GIC.GetInterrupt(secure)

			if n != id {
				if end != nil {
					close(end)
				}
				continue
			}

			fn()
			close(end)
		}
	}()

	return func() {
		GIC.DisableInterrupt(id)
		close(stop)
	}
}
