package server

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/miry41/lamarl-playground/internal/config"
	"github.com/miry41/lamarl-playground/internal/llmadapter"
)

func testServer() *Server {
	cfg := config.Default()
	cfg.Environment.NumRobots = 3
	cfg.Environment.GridSize = 16
	cfg.Environment.NumCells = 4
	cfg.Environment.RAvoid = 0.1
	return New(cfg, llmadapter.TemplateGenerator{})
}

func TestHealth(t *testing.T) {
	Convey("Given a Server", t, func() {
		s := testServer()

		Convey("GET /health reports ok", func() {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/health", nil)
			s.Handler().ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, 200)
			So(rec.Body.String(), ShouldContainSubstring, `"ok"`)
		})
	})
}

func TestEpisodeLifecycle(t *testing.T) {
	Convey("Given a Server with default environment settings", t, func() {
		s := testServer()

		Convey("POST /episodes with an empty body uses config defaults", func() {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/episodes", nil)
			s.Handler().ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, 200)

			var resp map[string]string
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp["episodeId"], ShouldNotBeEmpty)

			Convey("GET /episodes lists it and GET /episodes/{id} retrieves it", func() {
				listRec := httptest.NewRecorder()
				s.Handler().ServeHTTP(listRec, httptest.NewRequest("GET", "/episodes", nil))
				So(listRec.Code, ShouldEqual, 200)

				getRec := httptest.NewRecorder()
				s.Handler().ServeHTTP(getRec, httptest.NewRequest("GET", "/episodes/"+resp["episodeId"], nil))
				So(getRec.Code, ShouldEqual, 200)
			})
		})

		Convey("An infeasible geometry is rejected with 400", func() {
			body, _ := json.Marshal(map[string]interface{}{
				"nRobot": 1000, "rAvoid": 5.0, "nhc": 1, "lCell": 0.01,
			})
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/episodes", bytes.NewReader(body))
			s.Handler().ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, 400)
		})

		Convey("GET /episodes/{id} for an unknown id returns 404", func() {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/episodes/ep-does-not-exist", nil))
			So(rec.Code, ShouldEqual, 404)
		})
	})
}

func TestLLMEndpoints(t *testing.T) {
	Convey("Given a Server", t, func() {
		s := testServer()

		Convey("GET /llm/operations lists the whitelisted ops and metrics", func() {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/llm/operations", nil))
			So(rec.Code, ShouldEqual, 200)
			So(rec.Body.String(), ShouldContainSubstring, "move_to_shape_center")
			So(rec.Body.String(), ShouldContainSubstring, "coverage")
		})

		Convey("POST /llm/generate returns a compiling document", func() {
			body, _ := json.Marshal(map[string]interface{}{
				"taskDescription": "form a circle and explore empty cells",
				"envParams":       map[string]interface{}{"shape": "circle", "nRobot": 6},
			})
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/llm/generate", bytes.NewReader(body)))
			So(rec.Code, ShouldEqual, 200)

			var doc llmadapter.Document
			So(json.Unmarshal(rec.Body.Bytes(), &doc), ShouldBeNil)
			So(len(doc.Prior.Terms), ShouldBeGreaterThan, 0)

			Convey("POST /llm/validate reports it compiles", func() {
				docBody, _ := json.Marshal(doc)
				validateRec := httptest.NewRecorder()
				s.Handler().ServeHTTP(validateRec, httptest.NewRequest("POST", "/llm/validate", bytes.NewReader(docBody)))
				So(validateRec.Code, ShouldEqual, 200)

				var report llmadapter.ValidationReport
				So(json.Unmarshal(validateRec.Body.Bytes(), &report), ShouldBeNil)
				So(report.PriorCompiles, ShouldBeTrue)
				So(report.RewardCompiles, ShouldBeTrue)
			})
		})
	})
}

func TestTrainAndStop(t *testing.T) {
	Convey("Given a Server with a registered episode", t, func() {
		s := testServer()
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/episodes", nil))
		var created map[string]string
		So(json.Unmarshal(rec.Body.Bytes(), &created), ShouldBeNil)
		episodeID := created["episodeId"]

		Convey("POST /train starts training and POST /stop halts it", func() {
			trainBody, _ := json.Marshal(map[string]interface{}{
				"episodeId":  episodeID,
				"episodes":   1000,
				"episodeLen": 1000,
			})
			trainRec := httptest.NewRecorder()
			s.Handler().ServeHTTP(trainRec, httptest.NewRequest("POST", "/train", bytes.NewReader(trainBody)))
			So(trainRec.Code, ShouldEqual, 200)

			stopBody, _ := json.Marshal(map[string]string{"episodeId": episodeID})
			stopRec := httptest.NewRecorder()
			s.Handler().ServeHTTP(stopRec, httptest.NewRequest("POST", "/stop", bytes.NewReader(stopBody)))
			So(stopRec.Code, ShouldEqual, 200)
		})

		Convey("POST /train for an unknown episode returns 404", func() {
			trainBody, _ := json.Marshal(map[string]interface{}{"episodeId": "ep-nope"})
			trainRec := httptest.NewRecorder()
			s.Handler().ServeHTTP(trainRec, httptest.NewRequest("POST", "/train", bytes.NewReader(trainBody)))
			So(trainRec.Code, ShouldEqual, 404)
		})
	})
}
