// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package timer

import (
	"testing"
	"time"
)

func TestAfterFires(t *testing.T) {
	Start()

	done := make(chan struct{})
	After(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire within the deadline")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	Start()

	fired := make(chan struct{}, 1)
	h := After(50*time.Millisecond, func() { fired <- struct{}{} })

	Cancel(h)

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestOrderingEarliestFiresFirst(t *testing.T) {
	Start()

	var order []int
	done := make(chan struct{})

	After(30*time.Millisecond, func() {
		order = append(order, 2)
	})
	After(10*time.Millisecond, func() {
		order = append(order, 1)
	})
	After(50*time.Millisecond, func() {
		order = append(order, 3)
		close(done)
	})

	<-done

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("got fire order %v, want [1 2 3]", order)
	}
}
