package eventstream

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeEvent struct {
	Seq   int    `json:"seq"`
	Value string `json:"value"`
}

func TestClientSync(t *testing.T) {
	Convey("Given a Client polling a fixed event source", t, func() {
		events := []fakeEvent{{Seq: 0, Value: "a"}, {Seq: 1, Value: "b"}}
		delivered := false

		poll := func(afterSeq int) []fakeEvent {
			if delivered {
				return nil
			}
			delivered = true
			return events
		}

		rec := httptest.NewRecorder()
		ctx, cancel := context.WithCancel(context.Background())
		req := httptest.NewRequest("GET", "/stream", nil).WithContext(ctx)

		client, err := NewClient(rec, req, poll, func(e fakeEvent) int { return e.Seq })
		So(err, ShouldBeNil)

		Convey("Sync writes delivered events as SSE frames before the context is cancelled", func() {
			done := make(chan error, 1)
			go func() { done <- client.Sync() }()

			time.Sleep(120 * time.Millisecond)
			cancel()

			err := <-done
			So(err, ShouldBeNil)
			So(rec.Body.String(), ShouldContainSubstring, `"value":"a"`)
			So(rec.Body.String(), ShouldContainSubstring, `"value":"b"`)
		})
	})
}
