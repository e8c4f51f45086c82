package atomicfloat

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestFloat64(t *testing.T) {
	Convey("Given a Float64 initialized to zero", t, func() {
		f := New(0)

		Convey("Store and Load round-trip", func() {
			f.Store(3.5)
			So(f.Load(), ShouldEqual, 3.5)
		})

		Convey("Add returns the updated value", func() {
			So(f.Add(2.0), ShouldEqual, 2.0)
			So(f.Add(-0.5), ShouldEqual, 1.5)
		})

		Convey("concurrent Add calls lose no update", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					f.Add(1.0)
				}()
			}
			wg.Wait()
			So(f.Load(), ShouldEqual, 100.0)
		})
	})
}
