package keylock

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLocker(t *testing.T) {
	Convey("Given a keyed locker", t, func() {
		l := New()

		Convey("When many goroutines mutate the same key", func() {
			var wg sync.WaitGroup
			counter := 0
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock := l.Lock("acct-a")
					defer unlock()
					v := counter
					counter = v + 1
				}()
			}
			wg.Wait()

			Convey("Then no update should be lost and no key retained", func() {
				So(counter, ShouldEqual, 50)
				So(l.Len(), ShouldEqual, 0)
			})
		})

		Convey("When two different keys are held", func() {
			unlockA := l.Lock("a")
			done := make(chan struct{})
			go func() {
				unlock := l.Lock("b")
				unlock()
				close(done)
			}()
			<-done
			unlockA()

			Convey("Then the second key should not wait for the first", func() {
				So(l.Len(), ShouldEqual, 0)
			})
		})
	})
}
