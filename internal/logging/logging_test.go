package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "json", Output: &buf})
	assert.NilError(t, err)

	logger.Info("dropped")
	logger.WithField("pid", 7).Warn("kept")

	var rec map[string]any
	assert.NilError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Check(t, is.Equal(rec["msg"], "kept"))
	assert.Check(t, is.Equal(rec["pid"], float64(7)))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Check(t, err != nil)
	_, err = New(Config{Format: "xml"})
	assert.Check(t, is.ErrorContains(err, "xml"))
}

func TestForkHasOwnLevel(t *testing.T) {
	var buf bytes.Buffer
	base, err := New(Config{Level: "info", Output: &buf})
	assert.NilError(t, err)

	forked := Fork(base)
	assert.Check(t, is.Equal(ToggleDebug(forked, logrus.InfoLevel), logrus.DebugLevel))
	assert.Check(t, is.Equal(base.GetLevel(), logrus.InfoLevel))

	forked.Debug("visible")
	assert.Check(t, is.Contains(buf.String(), "visible"))

	assert.Check(t, is.Equal(ToggleDebug(forked, logrus.InfoLevel), logrus.InfoLevel))
	assert.Check(t, Fork(nil) != nil)
}
