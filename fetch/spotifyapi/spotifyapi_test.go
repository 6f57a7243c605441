package spotifyapi

// These tests verify the spotify-api registrations and the pure helpers; the
// HTTP client itself is exercised against the live API elsewhere.
import (
	"encoding/json"
	"os"

	"github.com/stretchr/testify/assert"
	"testing"

	"github.com/datafetch/dfe/enginetest"
	"github.com/datafetch/dfe/fetch"
)

// the directory holding the test fixture
var testRoot string

// tests that every task type is registered
func TestRegistration(t *testing.T) {
	assert := assert.New(t)
	for _, taskType := range []string{"tracks", "artists", "albums",
		"artist-albums", "playlists", "isrc-track-search"} {
		assert.True(fetch.Known(Name, taskType),
			"Task type %s isn't registered.", taskType)
	}
}

// tests that region parameters only accept the supported markets
func TestRegionValidation(t *testing.T) {
	assert := assert.New(t)
	for _, region := range []string{"de", "us"} {
		params := json.RawMessage(`{"region": "` + region + `"}`)
		assert.Nil(fetch.ValidateTask(Name, "tracks", params))
	}
	for _, params := range []json.RawMessage{
		json.RawMessage(`{"region": "fr"}`),
		json.RawMessage(`{"region": "DE"}`),
		json.RawMessage(`{}`),
	} {
		err := fetch.ValidateTask(Name, "tracks", params)
		assert.IsType(fetch.InvalidParamsError{}, err,
			"Parameters %s didn't trigger an error.", string(params))
	}
}

// tests that the parameterless task types reject nothing
func TestParameterlessTaskTypes(t *testing.T) {
	assert := assert.New(t)
	assert.Nil(fetch.ValidateTask(Name, "artists", nil))
	assert.Nil(fetch.ValidateTask(Name, "playlists", nil))
}

// tests the market spelling used in query strings
func TestMarket(t *testing.T) {
	assert.Equal(t, "DE", market("de"))
	assert.Equal(t, "US", market("us"))
}

// tests that batch inputs must all be string ids
func TestParseIds(t *testing.T) {
	assert := assert.New(t)
	ids, err := parseIds([]json.RawMessage{
		json.RawMessage(`"4uLU6hMCjMI75M1A2tKUQC"`),
		json.RawMessage(`"1301WleyT98MSxVHPZCA6M"`),
	})
	assert.Nil(err)
	assert.Equal([]string{"4uLU6hMCjMI75M1A2tKUQC", "1301WleyT98MSxVHPZCA6M"}, ids)

	_, err = parseIds([]json.RawMessage{json.RawMessage(`42`)})
	assert.NotNil(err, "A non-string id didn't trigger an error.")
}

// tests null detection in lookup response envelopes
func TestIsNull(t *testing.T) {
	assert := assert.New(t)
	assert.True(isNull(nil))
	assert.True(isNull(json.RawMessage(`null`)))
	assert.True(isNull(json.RawMessage(` null `)))
	assert.False(isNull(json.RawMessage(`{}`)))
}

// this function gets called at the begіnning of a test session
func setup() {
	testRoot, _ = os.MkdirTemp(os.TempDir(), "dfe-spotifyapi-tests-")
	err := enginetest.Setup(testRoot)
	if err != nil {
		panic(err)
	}
}

// this function gets called after all tests have been run
func breakdown() {
	if testRoot != "" {
		os.RemoveAll(testRoot)
	}
}

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}
