package config

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

const sampleYaml = `
kind: lamarl
def:
  server:
    addr: ":9090"
    frontendUrl: "https://example.test"
  environment:
    shape: "square"
    gridSize: 24
    numRobots: 8
    rSense: 1.2
    rAvoid: 0.25
    numNeighbor: 3
    numCells: 5
    lCell: 1.0
  hyperparams:
    batchSize: 64
    tau: 0.01
  training:
    numEpisodes: 50
    episodeLen: 300
    bufferCapacity: 2000
`

func TestFromYaml(t *testing.T) {
	Convey("Given a config file wrapped in a kind/def envelope", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "lamarl.yaml")
		So(os.WriteFile(path, []byte(sampleYaml), 0o644), ShouldBeNil)

		Convey("FromYaml unwraps the envelope into a typed Config", func() {
			cfg, err := FromYaml(path)
			So(err, ShouldBeNil)
			So(cfg.Server.Addr, ShouldEqual, ":9090")
			So(cfg.Environment.Shape, ShouldEqual, "square")
			So(cfg.Environment.NumRobots, ShouldEqual, 8)
			So(cfg.Training.NumEpisodes, ShouldEqual, 50)
		})

		Convey("ResolveHyperparams overrides only the fields the file set", func() {
			cfg, err := FromYaml(path)
			So(err, ShouldBeNil)

			hp := cfg.ResolveHyperparams(16)
			So(hp.ObsDim, ShouldEqual, 16)
			So(hp.BatchSize, ShouldEqual, 64)
			So(hp.Tau, ShouldEqual, 0.01)
			So(hp.LRActor, ShouldEqual, 1e-4) // untouched by the file, keeps the default
			So(hp.Warmup, ShouldEqual, 1000)  // untouched by the file, keeps the default
		})
	})

	Convey("Given no config file", t, func() {
		Convey("Default returns a usable configuration", func() {
			cfg := Default()
			So(cfg.Server.Addr, ShouldNotBeEmpty)
			So(cfg.Environment.NumRobots, ShouldBeGreaterThan, 0)

			hp := cfg.ResolveHyperparams(10)
			So(hp.LRActor, ShouldBeGreaterThan, 0)
		})
	})
}
