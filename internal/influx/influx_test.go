package influx

import (
	"bufio"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/flightsim/internal/gps"
	"github.com/shaunagostinho/flightsim/internal/sim"
)

var now = time.Date(2025, 8, 9, 10, 11, 12, 0, time.UTC)

func report(id string) sim.Report {
	return sim.Report{
		ID:       id,
		Time:     now,
		Position: gps.PlanePosition{Latitude: 40.7831, Longitude: -73.85, Altitude: 3657.6, Speed: 72, Heading: 12.5},
	}
}

func TestPoint(t *testing.T) {
	p := Point("aircraft_position", now, report("cessna-1"))

	assert.Equal(t, "aircraft_position", p.Name())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "aircraft", p.TagList()[0].Key)
	assert.Equal(t, "cessna-1", p.TagList()[0].Value)
	assert.Len(t, p.FieldList(), 5)
	assert.Equal(t, now, p.Time())
}

func TestExporter_FallsBackToBackupFile(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "sub", "backup.lp.gz")
	e := New(Config{URL: "http://127.0.0.1:1", BackupPath: backup}, zerolog.Nop())
	assert.ErrorIs(t, e.Connect(), ErrUnreachable)

	require.NoError(t, e.Record(now, []sim.Report{report("a")}))

	// Retrying while the server is still down keeps the same backup stream.
	assert.ErrorIs(t, e.Connect(), ErrUnreachable)
	require.NoError(t, e.Record(now, []sim.Report{report("b")}))
	require.NoError(t, e.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []string
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "aircraft_position,aircraft=a "), lines[0])
	assert.Contains(t, lines[0], "alt_m=3657.6")
	assert.True(t, strings.HasPrefix(lines[1], "aircraft_position,aircraft=b "), lines[1])
	assert.True(t, strings.HasSuffix(lines[1], " 1754734272000000000"), lines[1])
}

func TestExporter_UnreachableWithoutBackupPath(t *testing.T) {
	e := New(Config{URL: "http://127.0.0.1:1"}, zerolog.Nop())
	err := e.Connect()
	require.ErrorIs(t, err, ErrUnreachable)
	assert.Contains(t, err.Error(), "no backup path")
	assert.Error(t, e.Record(now, []sim.Report{report("a")}))
}

func TestExporter_RecordBeforeConnect(t *testing.T) {
	e := New(Config{}, zerolog.Nop())
	assert.Error(t, e.Record(now, []sim.Report{report("a")}))
	assert.NoError(t, e.Close())
}
