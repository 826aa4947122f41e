package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCampaign_Validate(t *testing.T) {
	valid := Campaign{Name: "study", StartTimestamp: 1000, EndTimestamp: 2000}
	assert.NoError(t, valid.Validate())

	noName := Campaign{StartTimestamp: 1000, EndTimestamp: 2000}
	assert.Error(t, noName.Validate())

	endBeforeStart := Campaign{Name: "x", StartTimestamp: 2000, EndTimestamp: 1000}
	assert.Error(t, endBeforeStart.Validate())

	zeroLength := Campaign{Name: "x", StartTimestamp: 1000, EndTimestamp: 1000}
	assert.Error(t, zeroLength.Validate(), "an empty interval is not a campaign")
}

func TestCampaign_IsActive(t *testing.T) {
	c := Campaign{Name: "x", StartTimestamp: 1000, EndTimestamp: 2000}
	assert.True(t, c.IsActive(1999))
	assert.False(t, c.IsActive(2000))
	assert.False(t, c.IsActive(3000))
}

func TestRecord_PayloadSize(t *testing.T) {
	assert.Zero(t, Record{}.PayloadSize())
	assert.Equal(t, 5, Record{Value: []byte("hello")}.PayloadSize())
}
